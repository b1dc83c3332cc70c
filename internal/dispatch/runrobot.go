// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/sapcc/daedalus/internal/daedalus"
	"github.com/sapcc/daedalus/internal/models"
)

var (
	pollCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "daedalus_runrobot_polls_total",
		Help: "Counter for RunRobot poll cycles, including short-circuited ones.",
	})
	turnOffCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "daedalus_runrobot_turnoffs_total",
		Help: "Counter for RunRobot turn-off requests.",
	})
)

func init() {
	prometheus.MustRegister(pollCounter)
	prometheus.MustRegister(turnOffCounter)
}

// Coordinator is the entry point for the RunRobot dispatch protocol. It owns
// the per-region dirty flag and partitions Robot-processable infrastructure
// into work queues.
type Coordinator struct {
	db         *daedalus.DB
	dirtyFlags daedalus.DirtyFlagStore

	// non-pure functions that can be replaced by deterministic doubles for unit tests
	timeNow func() time.Time
}

// NewCoordinator creates a new Coordinator.
func NewCoordinator(db *daedalus.DB, dirtyFlags daedalus.DirtyFlagStore) *Coordinator {
	return &Coordinator{db, dirtyFlags, time.Now}
}

// OverrideTimeNow replaces time.Now with a test double.
func (c *Coordinator) OverrideTimeNow(timeNow func() time.Time) *Coordinator {
	c.timeNow = timeNow
	return c
}

// ResourceQueues is the per-category half of a poll response.
type ResourceQueues struct {
	VirtualRouter        Buckets `json:"virtual_router"`
	VirtualRouterPhantom Buckets `json:"virtual_router_phantom"`
	VMHyperV             Buckets `json:"vm_hyperv"`
	VMKVM                Buckets `json:"vm_kvm"`
	VMPhantom            Buckets `json:"vm_phantom"`
	SnapshotHyperV       Buckets `json:"snapshot_hyperv"`
	SnapshotKVM          Buckets `json:"snapshot_kvm"`
	BackupHyperV         Buckets `json:"backup_hyperv"`
	BackupKVM            Buckets `json:"backup_kvm"`
	Ceph                 Buckets `json:"ceph"`
}

// Response is the result of one poll cycle. The flattened top-level buckets
// (virtual_routers, vms, snapshots, backups) are the legacy response shape
// and always present; they union the corresponding per-category buckets.
type Response struct {
	ProjectIDs     []int64        `json:"project_ids"`
	Resource       ResourceQueues `json:"resource"`
	VirtualRouters Buckets        `json:"virtual_routers"`
	VMs            Buckets        `json:"vms"`
	Snapshots      Buckets        `json:"snapshots"`
	Backups        Buckets        `json:"backups"`
}

func emptyResponse() Response {
	return Response{
		ProjectIDs: []int64{},
		Resource: ResourceQueues{
			VirtualRouter:        emptyBuckets(),
			VirtualRouterPhantom: emptyBuckets(),
			VMHyperV:             emptyBuckets(),
			VMKVM:                emptyBuckets(),
			VMPhantom:            emptyBuckets(),
			SnapshotHyperV:       emptyBuckets(),
			SnapshotKVM:          emptyBuckets(),
			BackupHyperV:         emptyBuckets(),
			BackupKVM:            emptyBuckets(),
			Ceph:                 emptyBuckets(),
		},
		VirtualRouters: emptyBuckets(),
		VMs:            emptyBuckets(),
		Snapshots:      emptyBuckets(),
		Backups:        emptyBuckets(),
	}
}

// MarkProjectDirty is the single mutation point that every state-changing
// operation must call after altering any infrastructure belonging to the
// Project. It flags the Project for both the Robot and the metrics collector,
// and raises the region-wide dirty bit.
func (c *Coordinator) MarkProjectDirty(ctx context.Context, projectID int64) error {
	var regionID int64
	err := c.db.QueryRow(
		`UPDATE projects SET run_robot = TRUE, run_icarus = TRUE, updated_at = $2 WHERE id = $1 RETURNING region_id`,
		projectID, c.timeNow(),
	).Scan(&regionID)
	if err != nil {
		return fmt.Errorf("cannot flag project %d: %w", projectID, err)
	}

	// The cache write is best-effort: reads fail dirty, so a lost write can
	// only cause extra work, never dropped work.
	err = c.dirtyFlags.Set(ctx, regionID, true)
	if err != nil {
		logg.Error("cannot raise dirty flag for region %d: %s", regionID, err.Error())
	}
	return nil
}

var eligibleProjectsQuery = sqlext.SimplifyWhitespace(`
	SELECT p.id FROM projects p
	 WHERE p.region_id = $1 AND (
	       ($2 AND p.run_robot)
	    OR EXISTS (SELECT 1 FROM virtual_routers vr WHERE vr.project_id = p.id AND vr.state = $3)
	    OR EXISTS (SELECT 1 FROM vms vm WHERE vm.project_id = p.id AND vm.state = $3)
	 )
	 ORDER BY p.updated_at, p.id
`)

// Poll runs one RunRobot poll cycle for a region and returns the work queues
// for every infrastructure category.
//
// With force set, the dirty-flag short-circuit is bypassed; this is used by
// the metrics collector, not by the Robot itself.
//
// On any persistence error, no partial response is returned: the Robot must
// retry the whole poll rather than merge half-built queue maps.
func (c *Coordinator) Poll(ctx context.Context, regionID int64, force bool) (Response, error) {
	pollCounter.Inc()
	dirty := force || c.dirtyFlags.IsDirty(ctx, regionID)

	// SCRUB_PREP work is surfaced unconditionally: it is an irreversible
	// teardown path that must never be dropped because of stale dirty-flag
	// bookkeeping.
	var projectIDs []int64
	_, err := c.db.Select(&projectIDs, eligibleProjectsQuery, regionID, dirty, models.StateScrubPrep)
	if err != nil {
		return Response{}, fmt.Errorf("eligibility query failed for region %d: %w", regionID, err)
	}
	if len(projectIDs) == 0 {
		// no-op path: the dirty flag stays untouched
		return emptyResponse(), nil
	}

	// Optimistic clear before building queues: a mutation arriving while we
	// build re-raises the flag via MarkProjectDirty and is picked up on the
	// next poll, so nothing is lost for longer than one poll interval.
	err = c.dirtyFlags.Set(ctx, regionID, false)
	if err != nil {
		logg.Error("cannot clear dirty flag for region %d: %s", regionID, err.Error())
	}

	now := c.timeNow()
	response := emptyResponse()
	response.ProjectIDs = projectIDs

	r := &response.Resource
	type queueBuild struct {
		target        *Buckets
		query         string
		extraArg      any
		dualScrubPrep bool
	}
	builds := []queueBuild{
		{&r.VirtualRouter, virtualRouterQueueQuery, false, true},
		{&r.VirtualRouterPhantom, virtualRouterQueueQuery, true, true},
		{&r.VMHyperV, vmQueueQuery, models.HypervisorHyperV, true},
		{&r.VMKVM, vmQueueQuery, models.HypervisorKVM, true},
		{&r.VMPhantom, vmQueueQuery, models.HypervisorPhantom, true},
	}
	if dirty {
		// Snapshot/backup/Ceph work only changes when something flagged the
		// region dirty, so these queries are skipped on scrub-prep-only polls.
		builds = append(builds,
			queueBuild{&r.SnapshotHyperV, snapshotQueueQuery, models.HypervisorHyperV, false},
			queueBuild{&r.SnapshotKVM, snapshotQueueQuery, models.HypervisorKVM, false},
			queueBuild{&r.BackupHyperV, backupQueueQuery, models.HypervisorHyperV, false},
			queueBuild{&r.BackupKVM, backupQueueQuery, models.HypervisorKVM, false},
			queueBuild{&r.Ceph, resourceQueueQuery, models.ResourceTypeCeph, false},
		)
	}
	for _, b := range builds {
		*b.target, err = buildQueues(c.db, b.query, projectIDs, b.extraArg, b.dualScrubPrep, now)
		if err != nil {
			return Response{}, fmt.Errorf("queue build failed for region %d: %w", regionID, err)
		}
	}

	response.VirtualRouters = mergeBuckets(r.VirtualRouter, r.VirtualRouterPhantom)
	response.VMs = mergeBuckets(r.VMHyperV, r.VMKVM, r.VMPhantom)
	response.Snapshots = mergeBuckets(r.SnapshotHyperV, r.SnapshotKVM)
	response.Backups = mergeBuckets(r.BackupHyperV, r.BackupKVM)
	return response, nil
}

// TurnOff clears the run_robot flag for an explicit list of Projects,
// regardless of their current state. This is an operator escape hatch (e.g.
// to silence a stuck region); it touches neither run_icarus nor the region
// dirty bit.
func (c *Coordinator) TurnOff(projectIDs []int64) error {
	turnOffCounter.Inc()
	_, err := c.db.Exec(`UPDATE projects SET run_robot = FALSE WHERE id = ANY($1)`, pq.Array(projectIDs))
	return err
}
