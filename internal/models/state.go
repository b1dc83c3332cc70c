// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package models

// State is the lifecycle state code of a piece of cloud infrastructure.
// The same code space is used uniformly across VirtualRouter, VM, VPN,
// Snapshot, Backup and Resource.
type State int

const (
	// StateInAPI is the state of an item that exists as a DB record only and
	// has not been sent to hardware yet.
	StateInAPI State = -1
	// StateRequested queues the item for the Robot's "build" action.
	StateRequested State = 1
	// StateBuilding means the Robot is currently building the item. Items in
	// this state are never dispatched again.
	StateBuilding State = 2
	// StateRunning is the stable operating state.
	StateRunning State = 4
	// StateQuiesce queues the item for the "quiesce" action.
	StateQuiesce State = 5
	// StateQuiesced is the stable powered-down/suspended state.
	StateQuiesced State = 6
	// StateRunningUpdate queues the item for the "updaterunning" action.
	StateRunningUpdate State = 7
	// StateQuiescedUpdate queues the item for the "updatequiesced" action.
	StateQuiescedUpdate State = 8
	// StateRestart queues the item for the "restart" action.
	StateRestart State = 9
	// StateScrubPrep queues the item for the "scrubprep" pre-deletion teardown.
	StateScrubPrep State = 10
	// StateScrubQueue is the stable holding state before deletion. The item
	// becomes eligible for "scrub" only after the Project's grace period.
	StateScrubQueue State = 11
	// StateScrub queues the item for the irreversible "scrub" deletion.
	StateScrub State = 12
	// StateScrubbing means the Robot is currently deleting the item.
	StateScrubbing State = 13
	// StateClosed is terminal. The item is fully removed and excluded from all
	// future processing.
	StateClosed State = 17
)

// IsStable reports whether an item in this state is settled, i.e. the Robot
// has no pending or in-flight action on it. Unknown state codes classify as
// not stable.
func (s State) IsStable() bool {
	switch s {
	case StateRunning, StateQuiesced, StateScrubQueue, StateClosed:
		return true
	default:
		return false
	}
}

// IsRobotProcessState reports whether an item in this state is waiting for
// the Robot, i.e. it belongs in one of the RunRobot work queues. Unknown
// state codes classify as not Robot-processable.
func (s State) IsRobotProcessState() bool {
	switch s {
	case StateRequested, StateQuiesce, StateRestart, StateScrub,
		StateScrubQueue, StateQuiescedUpdate, StateRunningUpdate, StateScrubPrep:
		return true
	default:
		return false
	}
}

// IsShutDownState reports whether an item in this state counts as shut down
// for the purposes of Project.ShutDown, i.e. it is somewhere on the deletion
// path.
func (s State) IsShutDownState() bool {
	switch s {
	case StateScrub, StateScrubPrep, StateScrubQueue, StateScrubbing, StateClosed:
		return true
	default:
		return false
	}
}

// RobotProcessStates lists all states matched by IsRobotProcessState, for use
// in SQL filters.
var RobotProcessStates = []State{
	StateRequested, StateQuiesce, StateRestart, StateScrub,
	StateScrubQueue, StateQuiescedUpdate, StateRunningUpdate, StateScrubPrep,
}

// StableStates lists all states matched by IsStable, for use in SQL filters.
var StableStates = []State{StateRunning, StateQuiesced, StateScrubQueue, StateClosed}

// BOMCreateStates lists the states in which the billing collaborator takes a
// BOM snapshot of the item. Nothing in this repository consumes it; it is the
// contract the external billing service filters on.
var BOMCreateStates = []State{
	StateRequested, StateRunningUpdate, StateQuiescedUpdate,
	StateScrub, StateRestart, StateQuiesced,
}

// userStateMap defines which states an end user may request next, keyed by
// the item's current state. States not listed here (including unknown codes)
// permit no user-requested transition at all.
var userStateMap = map[State][]State{
	StateRunning:    {StateQuiesce, StateScrub, StateRunningUpdate},
	StateQuiesced:   {StateRestart, StateScrub, StateQuiescedUpdate},
	StateScrubQueue: {StateRestart},
}

// userChildStateMap is the narrower variant of userStateMap that applies to
// Snapshots and Backups, whose lifecycle is driven through their owning VM.
var userChildStateMap = map[State][]State{
	StateRunning: {StateRunningUpdate, StateScrub},
}

// robotStateMap defines which states the Robot may report next, keyed by the
// item's current state. It covers the execution legs of each queued verb.
var robotStateMap = map[State][]State{
	StateRequested:      {StateBuilding},
	StateBuilding:       {StateRunning},
	StateQuiesce:        {StateQuiesced},
	StateRestart:        {StateRunning},
	StateRunningUpdate:  {StateRunning},
	StateQuiescedUpdate: {StateQuiesced},
	StateScrubPrep:      {StateScrubQueue},
	StateScrub:          {StateScrubbing},
	StateScrubQueue:     {StateScrubbing},
	StateScrubbing:      {StateClosed},
}

// ValidUserTransitions returns the set of states an end user may move an item
// into from the given state. The result is empty for unlisted or unknown
// states.
func ValidUserTransitions(current State) []State {
	return userStateMap[current]
}

// ValidUserChildTransitions is ValidUserTransitions for Snapshots and Backups.
func ValidUserChildTransitions(current State) []State {
	return userChildStateMap[current]
}

// ValidRobotTransitions returns the set of states the Robot may move an item
// into from the given state. Empty for unlisted or unknown states.
func ValidRobotTransitions(current State) []State {
	return robotStateMap[current]
}

func containsState(states []State, s State) bool {
	for _, other := range states {
		if other == s {
			return true
		}
	}
	return false
}

// CanUserTransition reports whether an end user may move an item from state
// `current` into state `next`.
func CanUserTransition(current, next State) bool {
	return containsState(userStateMap[current], next)
}

// CanUserChildTransition is CanUserTransition for Snapshots and Backups.
func CanUserChildTransition(current, next State) bool {
	return containsState(userChildStateMap[current], next)
}

// CanRobotTransition reports whether the Robot may move an item from state
// `current` into state `next`.
func CanRobotTransition(current, next State) bool {
	return containsState(robotStateMap[current], next)
}

// canUserUpdate reports whether an update (e.g. a VM resize) may be accepted
// for an item currently in state s. This gate is checked before the mutation
// is applied, not after.
func canUserUpdate(s State) bool {
	next := userStateMap[s]
	return containsState(next, StateRunningUpdate) || containsState(next, StateQuiescedUpdate)
}

// StatesAsInt64 renders a state set for use with pq.Array in SQL filters.
func StatesAsInt64(states []State) []int64 {
	result := make([]int64, len(states))
	for idx, s := range states {
		result[idx] = int64(s)
	}
	return result
}
