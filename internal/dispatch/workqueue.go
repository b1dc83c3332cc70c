// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/sapcc/daedalus/internal/models"
)

// Buckets is one set of per-verb work queues for one category of
// infrastructure. Each list contains item IDs ordered by their last state
// change, oldest first, so the Robot works through a FIFO-ish queue.
type Buckets struct {
	Build          []int64
	Quiesce        []int64
	Restart        []int64
	Scrub          []int64
	ScrubPrep      []int64
	UpdateQuiesced []int64
	UpdateRunning  []int64
}

func emptyBuckets() Buckets {
	return Buckets{
		Build:          []int64{},
		Quiesce:        []int64{},
		Restart:        []int64{},
		Scrub:          []int64{},
		ScrubPrep:      []int64{},
		UpdateQuiesced: []int64{},
		UpdateRunning:  []int64{},
	}
}

// MarshalJSON implements the json.Marshaler interface.
//
// The Robot protocol evolved its key spelling over time: older consumers read
// "updatequiesced"/"updaterunning", newer ones "quiesced_update"/
// "running_update". Both spellings are served simultaneously; removing either
// would be a breaking change to the wire contract.
func (b Buckets) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string][]int64{
		"build":           b.Build,
		"quiesce":         b.Quiesce,
		"restart":         b.Restart,
		"scrub":           b.Scrub,
		"scrubprep":       b.ScrubPrep,
		"updatequiesced":  b.UpdateQuiesced,
		"updaterunning":   b.UpdateRunning,
		"quiesced_update": b.UpdateQuiesced,
		"running_update":  b.UpdateRunning,
	})
}

func mergeBuckets(parts ...Buckets) Buckets {
	merged := emptyBuckets()
	for _, b := range parts {
		merged.Build = append(merged.Build, b.Build...)
		merged.Quiesce = append(merged.Quiesce, b.Quiesce...)
		merged.Restart = append(merged.Restart, b.Restart...)
		merged.Scrub = append(merged.Scrub, b.Scrub...)
		merged.ScrubPrep = append(merged.ScrubPrep, b.ScrubPrep...)
		merged.UpdateQuiesced = append(merged.UpdateQuiesced, b.UpdateQuiesced...)
		merged.UpdateRunning = append(merged.UpdateRunning, b.UpdateRunning...)
	}
	return merged
}

// Each query yields (id, state, updated_at, grace_period) for all items of
// one category that are in a Robot-process state, oldest state change first.

var virtualRouterQueueQuery = sqlext.SimplifyWhitespace(`
	SELECT vr.id, vr.state, vr.updated_at, p.grace_period
	  FROM virtual_routers vr
	  JOIN projects p ON p.id = vr.project_id
	  JOIN routers r ON r.id = vr.router_id
	 WHERE vr.project_id = ANY($1) AND vr.state = ANY($2) AND (r.capacity IS NULL) = $3
	 ORDER BY vr.updated_at
`)

var vmQueueQuery = sqlext.SimplifyWhitespace(`
	SELECT vm.id, vm.state, vm.updated_at, p.grace_period
	  FROM vms vm
	  JOIN projects p ON p.id = vm.project_id
	  JOIN servers srv ON srv.id = vm.server_id
	 WHERE vm.project_id = ANY($1) AND vm.state = ANY($2) AND srv.type_id = $3
	 ORDER BY vm.updated_at
`)

var snapshotQueueQuery = sqlext.SimplifyWhitespace(`
	SELECT s.id, s.state, s.updated_at, p.grace_period
	  FROM snapshots s
	  JOIN vms vm ON vm.id = s.vm_id
	  JOIN projects p ON p.id = vm.project_id
	  JOIN servers srv ON srv.id = vm.server_id
	 WHERE vm.project_id = ANY($1) AND s.state = ANY($2) AND srv.type_id = $3
	 ORDER BY s.updated_at
`)

var backupQueueQuery = sqlext.SimplifyWhitespace(`
	SELECT b.id, b.state, b.updated_at, p.grace_period
	  FROM backups b
	  JOIN vms vm ON vm.id = b.vm_id
	  JOIN projects p ON p.id = vm.project_id
	  JOIN servers srv ON srv.id = vm.server_id
	 WHERE vm.project_id = ANY($1) AND b.state = ANY($2) AND srv.type_id = $3
	 ORDER BY b.updated_at
`)

var resourceQueueQuery = sqlext.SimplifyWhitespace(`
	SELECT r.id, r.state, r.updated_at, p.grace_period
	  FROM resources r
	  JOIN projects p ON p.id = r.project_id
	 WHERE r.project_id = ANY($1) AND r.state = ANY($2) AND r.resource_type = $3
	 ORDER BY r.updated_at
`)

// buildQueues partitions all items matched by `query` into per-verb buckets
// by dispatching on their current state.
//
// When dualScrubPrep is set (VirtualRouter and VM categories only), items in
// SCRUB are additionally placed in the scrubprep bucket. The Robot's teardown
// protocol for routers and VMs consumes both buckets; this duplication is a
// protocol-compatibility requirement, not an accident.
func buildQueues(dbi sqlext.Executor, query string, projectIDs []int64, extraArg any, dualScrubPrep bool, now time.Time) (Buckets, error) {
	buckets := emptyBuckets()
	args := []any{
		pq.Array(projectIDs),
		pq.Array(models.StatesAsInt64(models.RobotProcessStates)),
		extraArg,
	}
	err := sqlext.ForeachRow(dbi, query, args, func(rows *sql.Rows) error {
		var (
			id          int64
			state       models.State
			updatedAt   time.Time
			gracePeriod *int64
		)
		err := rows.Scan(&id, &state, &updatedAt, &gracePeriod)
		if err != nil {
			return err
		}

		switch state {
		case models.StateRequested:
			buckets.Build = append(buckets.Build, id)
		case models.StateQuiesce:
			buckets.Quiesce = append(buckets.Quiesce, id)
		case models.StateRestart:
			buckets.Restart = append(buckets.Restart, id)
		case models.StateScrub:
			buckets.Scrub = append(buckets.Scrub, id)
			if dualScrubPrep {
				buckets.ScrubPrep = append(buckets.ScrubPrep, id)
			}
		case models.StateScrubQueue:
			// only eligible for scrubbing once the Project's grace period has
			// fully elapsed; otherwise the item stays pending and is
			// re-evaluated on the next poll
			grace := models.Project{GracePeriod: gracePeriod}.GracePeriodOrDefault()
			if now.After(updatedAt.Add(grace)) {
				buckets.Scrub = append(buckets.Scrub, id)
			}
		case models.StateQuiescedUpdate:
			buckets.UpdateQuiesced = append(buckets.UpdateQuiesced, id)
		case models.StateRunningUpdate:
			buckets.UpdateRunning = append(buckets.UpdateRunning, id)
		case models.StateScrubPrep:
			// SCRUB_PREP items surface through the Poll eligibility check and
			// through the dual scrubprep bucket above, never through their own
			// state. For Snapshot/Backup/Resource this means they land in no
			// bucket at all; that matches the established Robot protocol and
			// must not be "fixed" unilaterally.
		}
		return nil
	})
	if err != nil {
		return Buckets{}, err
	}
	return buckets, nil
}
