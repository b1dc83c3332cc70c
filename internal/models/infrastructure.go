// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"time"
)

// HypervisorType identifies the family of hypervisor a Server belongs to.
// The codes are fixed by the server inventory and shared with the Robot.
type HypervisorType int64

const (
	// HypervisorHyperV is a Microsoft Hyper-V host.
	HypervisorHyperV HypervisorType = 1
	// HypervisorKVM is a KVM-family host.
	HypervisorKVM HypervisorType = 2
	// HypervisorPhantom is a placeholder host for phantom VMs that exist in
	// the API only and are never built on hardware.
	HypervisorPhantom HypervisorType = 3
)

// ResourceTypeCeph identifies Ceph drive records in the `resources` table.
const ResourceTypeCeph int64 = 1

// Item is the capability interface shared by every piece of stateful cloud
// infrastructure (VirtualRouter, VM, VPN, Snapshot, Backup, Resource).
type Item interface {
	ItemID() int64
	ItemState() State
	ItemUpdatedAt() time.Time
	// CanUserUpdate reports whether an end-user update may currently be
	// accepted for this item. It is checked before the mutation is applied.
	CanUserUpdate() bool
	// ScrubQueueTimePassed reports whether this item has sat in SCRUB_QUEUE
	// past the owning Project's grace period. Always false in other states.
	ScrubQueueTimePassed(gracePeriod time.Duration, now time.Time) bool
}

// scrubQueueTimePassed implements Item.ScrubQueueTimePassed for all entity
// types. The comparison is strict: the grace period must have fully elapsed.
func scrubQueueTimePassed(state State, updatedAt time.Time, gracePeriod time.Duration, now time.Time) bool {
	return state == StateScrubQueue && now.After(updatedAt.Add(gracePeriod))
}

// Router contains a record from the `routers` table. A Router is a physical
// (or, when Capacity is NULL, a phantom) device hosting VirtualRouters.
type Router struct {
	ID       int64 `db:"id"`
	RegionID int64 `db:"region_id"`

	// Capacity is the number of VirtualRouters this Router can host. NULL
	// marks a phantom Router with unlimited capacity; its VirtualRouters are
	// dispatched in the phantom work-queue category.
	Capacity *int64 `db:"capacity"`
}

// IsPhantom reports whether this Router hosts phantom VirtualRouters.
func (r Router) IsPhantom() bool {
	return r.Capacity == nil
}

// Server contains a record from the `servers` table.
type Server struct {
	ID       int64          `db:"id"`
	RegionID int64          `db:"region_id"`
	TypeID   HypervisorType `db:"type_id"`
	Enabled  bool           `db:"enabled"`
}

// VirtualRouter contains a record from the `virtual_routers` table. Each
// Project has exactly one.
type VirtualRouter struct {
	ID        int64     `db:"id"`
	ProjectID int64     `db:"project_id"`
	RouterID  int64     `db:"router_id"`
	State     State     `db:"state"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// ItemID implements the Item interface.
func (vr VirtualRouter) ItemID() int64 { return vr.ID }

// ItemState implements the Item interface.
func (vr VirtualRouter) ItemState() State { return vr.State }

// ItemUpdatedAt implements the Item interface.
func (vr VirtualRouter) ItemUpdatedAt() time.Time { return vr.UpdatedAt }

// CanUserUpdate implements the Item interface.
func (vr VirtualRouter) CanUserUpdate() bool { return canUserUpdate(vr.State) }

// ScrubQueueTimePassed implements the Item interface.
func (vr VirtualRouter) ScrubQueueTimePassed(gracePeriod time.Duration, now time.Time) bool {
	return scrubQueueTimePassed(vr.State, vr.UpdatedAt, gracePeriod, now)
}

// VM contains a record from the `vms` table.
type VM struct {
	ID        int64     `db:"id"`
	ProjectID int64     `db:"project_id"`
	ServerID  int64     `db:"server_id"`
	Name      string    `db:"name"`
	CPU       int64     `db:"cpu"`
	RAMMiB    int64     `db:"ram_mib"`
	State     State     `db:"state"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// ItemID implements the Item interface.
func (vm VM) ItemID() int64 { return vm.ID }

// ItemState implements the Item interface.
func (vm VM) ItemState() State { return vm.State }

// ItemUpdatedAt implements the Item interface.
func (vm VM) ItemUpdatedAt() time.Time { return vm.UpdatedAt }

// CanUserUpdate implements the Item interface.
func (vm VM) CanUserUpdate() bool { return canUserUpdate(vm.State) }

// ScrubQueueTimePassed implements the Item interface.
func (vm VM) ScrubQueueTimePassed(gracePeriod time.Duration, now time.Time) bool {
	return scrubQueueTimePassed(vm.State, vm.UpdatedAt, gracePeriod, now)
}

// VPN contains a record from the `vpns` table. VPN tunnels hang off a
// Project's VirtualRouter.
type VPN struct {
	ID              int64     `db:"id"`
	VirtualRouterID int64     `db:"virtual_router_id"`
	Description     string    `db:"description"`
	State           State     `db:"state"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// ItemID implements the Item interface.
func (v VPN) ItemID() int64 { return v.ID }

// ItemState implements the Item interface.
func (v VPN) ItemState() State { return v.State }

// ItemUpdatedAt implements the Item interface.
func (v VPN) ItemUpdatedAt() time.Time { return v.UpdatedAt }

// CanUserUpdate implements the Item interface.
func (v VPN) CanUserUpdate() bool { return canUserUpdate(v.State) }

// ScrubQueueTimePassed implements the Item interface.
func (v VPN) ScrubQueueTimePassed(gracePeriod time.Duration, now time.Time) bool {
	return scrubQueueTimePassed(v.State, v.UpdatedAt, gracePeriod, now)
}

// Snapshot contains a record from the `snapshots` table.
type Snapshot struct {
	ID        int64     `db:"id"`
	VMID      int64     `db:"vm_id"`
	Name      string    `db:"name"`
	State     State     `db:"state"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// ItemID implements the Item interface.
func (s Snapshot) ItemID() int64 { return s.ID }

// ItemState implements the Item interface.
func (s Snapshot) ItemState() State { return s.State }

// ItemUpdatedAt implements the Item interface.
func (s Snapshot) ItemUpdatedAt() time.Time { return s.UpdatedAt }

// CanUserUpdate implements the Item interface. Snapshots use the narrower
// child-state map.
func (s Snapshot) CanUserUpdate() bool {
	return containsState(userChildStateMap[s.State], StateRunningUpdate) ||
		containsState(userChildStateMap[s.State], StateQuiescedUpdate)
}

// ScrubQueueTimePassed implements the Item interface.
func (s Snapshot) ScrubQueueTimePassed(gracePeriod time.Duration, now time.Time) bool {
	return scrubQueueTimePassed(s.State, s.UpdatedAt, gracePeriod, now)
}

// Backup contains a record from the `backups` table.
type Backup struct {
	ID         int64     `db:"id"`
	VMID       int64     `db:"vm_id"`
	Name       string    `db:"name"`
	Repository string    `db:"repository"`
	State      State     `db:"state"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// ItemID implements the Item interface.
func (b Backup) ItemID() int64 { return b.ID }

// ItemState implements the Item interface.
func (b Backup) ItemState() State { return b.State }

// ItemUpdatedAt implements the Item interface.
func (b Backup) ItemUpdatedAt() time.Time { return b.UpdatedAt }

// CanUserUpdate implements the Item interface. Backups use the narrower
// child-state map.
func (b Backup) CanUserUpdate() bool {
	return containsState(userChildStateMap[b.State], StateRunningUpdate) ||
		containsState(userChildStateMap[b.State], StateQuiescedUpdate)
}

// ScrubQueueTimePassed implements the Item interface.
func (b Backup) ScrubQueueTimePassed(gracePeriod time.Duration, now time.Time) bool {
	return scrubQueueTimePassed(b.State, b.UpdatedAt, gracePeriod, now)
}

// Resource contains a record from the `resources` table. Resources are
// generic stateful entities (currently only Ceph drives).
type Resource struct {
	ID           int64     `db:"id"`
	ProjectID    int64     `db:"project_id"`
	ResourceType int64     `db:"resource_type"`
	ParentID     *int64    `db:"parent_id"`
	Name         string    `db:"name"`
	SizeGiB      int64     `db:"size_gib"`
	State        State     `db:"state"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// ItemID implements the Item interface.
func (r Resource) ItemID() int64 { return r.ID }

// ItemState implements the Item interface.
func (r Resource) ItemState() State { return r.State }

// ItemUpdatedAt implements the Item interface.
func (r Resource) ItemUpdatedAt() time.Time { return r.UpdatedAt }

// CanUserUpdate implements the Item interface.
func (r Resource) CanUserUpdate() bool { return canUserUpdate(r.State) }

// ScrubQueueTimePassed implements the Item interface.
func (r Resource) ScrubQueueTimePassed(gracePeriod time.Duration, now time.Time) bool {
	return scrubQueueTimePassed(r.State, r.UpdatedAt, gracePeriod, now)
}
