// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package dispatch_test

import (
	"context"
	"testing"
	"time"

	"github.com/sapcc/go-bits/assert"

	"github.com/sapcc/daedalus/internal/dispatch"
	"github.com/sapcc/daedalus/internal/models"
	"github.com/sapcc/daedalus/internal/test"
)

const regionID = 1

// emptyBuckets builds a Buckets value with all lists present but empty, same
// as the dispatcher returns for idle categories.
func emptyBuckets() dispatch.Buckets {
	return dispatch.Buckets{
		Build:          []int64{},
		Quiesce:        []int64{},
		Restart:        []int64{},
		Scrub:          []int64{},
		ScrubPrep:      []int64{},
		UpdateQuiesced: []int64{},
		UpdateRunning:  []int64{},
	}
}

func bucketsWith(mod func(*dispatch.Buckets)) dispatch.Buckets {
	b := emptyBuckets()
	mod(&b)
	return b
}

type fixture struct {
	Project       models.Project
	Router        models.Router
	PhantomRouter models.Router
	ServerHyperV  models.Server
	ServerKVM     models.Server
	VirtualRouter models.VirtualRouter
}

// buildFixture inserts a minimal region: one project with a RUNNING virtual
// router on a real router, plus a phantom router and one server per
// hypervisor family worth having.
func buildFixture(t *testing.T, s test.Setup) fixture {
	t.Helper()
	now := s.Clock.Now()

	capacity := int64(10)
	f := fixture{
		Project:       models.Project{Name: "alpha", AddressID: 1, ManagerID: 1, RegionID: regionID, CreatedAt: now, UpdatedAt: now},
		Router:        models.Router{RegionID: regionID, Capacity: &capacity},
		PhantomRouter: models.Router{RegionID: regionID},
		ServerHyperV:  models.Server{RegionID: regionID, TypeID: models.HypervisorHyperV, Enabled: true},
		ServerKVM:     models.Server{RegionID: regionID, TypeID: models.HypervisorKVM, Enabled: true},
	}
	s.MustInsert(t, &f.Project, &f.Router, &f.PhantomRouter, &f.ServerHyperV, &f.ServerKVM)

	f.VirtualRouter = models.VirtualRouter{
		ProjectID: f.Project.ID,
		RouterID:  f.Router.ID,
		State:     models.StateRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.MustInsert(t, &f.VirtualRouter)
	return f
}

// addVM inserts a VM with a distinct updated_at so that queue ordering is
// deterministic.
func addVM(t *testing.T, s test.Setup, f fixture, serverID int64, state models.State) models.VM {
	t.Helper()
	s.Clock.StepBy(time.Minute)
	now := s.Clock.Now()
	vm := models.VM{
		ProjectID: f.Project.ID,
		ServerID:  serverID,
		Name:      "vm",
		CPU:       2,
		RAMMiB:    2048,
		State:     state,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.MustInsert(t, &vm)
	return vm
}

func addSnapshot(t *testing.T, s test.Setup, vmID int64, state models.State) models.Snapshot {
	t.Helper()
	s.Clock.StepBy(time.Minute)
	now := s.Clock.Now()
	snapshot := models.Snapshot{VMID: vmID, Name: "snap", State: state, CreatedAt: now, UpdatedAt: now}
	s.MustInsert(t, &snapshot)
	return snapshot
}

func TestPollBucketPartition(t *testing.T) {
	s := test.NewSetup(t)
	ctx := context.Background()
	f := buildFixture(t, s)

	// one KVM VM per robot-process state
	vmRequested := addVM(t, s, f, f.ServerKVM.ID, models.StateRequested)
	vmQuiesce := addVM(t, s, f, f.ServerKVM.ID, models.StateQuiesce)
	vmRestart := addVM(t, s, f, f.ServerKVM.ID, models.StateRestart)
	vmScrub := addVM(t, s, f, f.ServerKVM.ID, models.StateScrub)
	addVM(t, s, f, f.ServerKVM.ID, models.StateScrubQueue) // grace period not elapsed
	vmUpdateQ := addVM(t, s, f, f.ServerKVM.ID, models.StateQuiescedUpdate)
	vmUpdateR := addVM(t, s, f, f.ServerKVM.ID, models.StateRunningUpdate)
	addVM(t, s, f, f.ServerKVM.ID, models.StateScrubPrep)
	// stable VMs never enter any queue
	vmRunning := addVM(t, s, f, f.ServerHyperV.ID, models.StateRunning)

	// snapshots never get the dual scrubprep bucket, and SCRUB_PREP
	// snapshots land in no bucket at all
	snapshotScrub := addSnapshot(t, s, vmRunning.ID, models.StateScrub)
	addSnapshot(t, s, vmRunning.ID, models.StateScrubPrep)

	err := s.Coordinator.MarkProjectDirty(ctx, f.Project.ID)
	if err != nil {
		t.Fatal(err.Error())
	}

	response, err := s.Coordinator.Poll(ctx, regionID, false)
	if err != nil {
		t.Fatal(err.Error())
	}

	assert.DeepEqual(t, "project IDs", response.ProjectIDs, []int64{f.Project.ID})
	assert.DeepEqual(t, "KVM VM buckets", response.Resource.VMKVM, bucketsWith(func(b *dispatch.Buckets) {
		b.Build = []int64{vmRequested.ID}
		b.Quiesce = []int64{vmQuiesce.ID}
		b.Restart = []int64{vmRestart.ID}
		// SCRUB is duplicated into scrubprep for VMs; the SCRUB_QUEUE VM is
		// absent because its grace period has not elapsed yet
		b.Scrub = []int64{vmScrub.ID}
		b.ScrubPrep = []int64{vmScrub.ID}
		b.UpdateQuiesced = []int64{vmUpdateQ.ID}
		b.UpdateRunning = []int64{vmUpdateR.ID}
	}))
	assert.DeepEqual(t, "Hyper-V VM buckets", response.Resource.VMHyperV, emptyBuckets())
	assert.DeepEqual(t, "Hyper-V snapshot buckets", response.Resource.SnapshotHyperV, bucketsWith(func(b *dispatch.Buckets) {
		b.Scrub = []int64{snapshotScrub.ID}
	}))
	assert.DeepEqual(t, "legacy VM buckets", response.VMs, response.Resource.VMKVM)
	assert.DeepEqual(t, "virtual router buckets", response.VirtualRouters, emptyBuckets())
}

func TestPollScrubQueueGracePeriod(t *testing.T) {
	s := test.NewSetup(t)
	ctx := context.Background()
	f := buildFixture(t, s)
	vm := addVM(t, s, f, f.ServerKVM.ID, models.StateScrubQueue)

	// just before the grace period elapses, the VM stays out of the queues
	s.Clock.StepBy(168 * time.Hour)
	err := s.Coordinator.MarkProjectDirty(ctx, f.Project.ID)
	if err != nil {
		t.Fatal(err.Error())
	}
	response, err := s.Coordinator.Poll(ctx, regionID, false)
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "KVM VM buckets", response.Resource.VMKVM, emptyBuckets())

	// once the grace period has strictly elapsed, the VM moves into scrub
	// (but not scrubprep, which only mirrors SCRUB itself)
	s.Clock.StepBy(time.Second)
	err = s.Coordinator.MarkProjectDirty(ctx, f.Project.ID)
	if err != nil {
		t.Fatal(err.Error())
	}
	response, err = s.Coordinator.Poll(ctx, regionID, false)
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "KVM VM buckets", response.Resource.VMKVM, bucketsWith(func(b *dispatch.Buckets) {
		b.Scrub = []int64{vm.ID}
	}))
}

func TestPollNoEligibleProjects(t *testing.T) {
	s := test.NewSetup(t)
	ctx := context.Background()
	buildFixture(t, s)

	// region flag is raised, but no project has run_robot set and nothing is
	// in SCRUB_PREP, so the poll is a no-op
	err := s.DirtyFlags.Set(ctx, regionID, true)
	if err != nil {
		t.Fatal(err.Error())
	}

	response, err := s.Coordinator.Poll(ctx, regionID, false)
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "project IDs", response.ProjectIDs, []int64{})
	assert.DeepEqual(t, "legacy VM buckets", response.VMs, emptyBuckets())

	// the no-op path must not clear the region flag
	if !s.DirtyFlags.IsDirty(ctx, regionID) {
		t.Error("expected region dirty flag to survive a no-op poll")
	}
}

func TestMarkProjectDirtyIdempotence(t *testing.T) {
	s := test.NewSetup(t)
	ctx := context.Background()
	f := buildFixture(t, s)
	vm := addVM(t, s, f, f.ServerKVM.ID, models.StateRequested)

	// flagging N times must yield the same poll outcome as flagging once
	for range 5 {
		err := s.Coordinator.MarkProjectDirty(ctx, f.Project.ID)
		if err != nil {
			t.Fatal(err.Error())
		}
	}

	response, err := s.Coordinator.Poll(ctx, regionID, false)
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "project IDs", response.ProjectIDs, []int64{f.Project.ID})
	assert.DeepEqual(t, "KVM VM buckets", response.Resource.VMKVM, bucketsWith(func(b *dispatch.Buckets) {
		b.Build = []int64{vm.ID}
	}))

	// after consuming, the region flag is down again
	if s.DirtyFlags.IsDirty(ctx, regionID) {
		t.Error("expected region dirty flag to be cleared by a successful poll")
	}
}

func TestMarkProjectDirtyUnknownProject(t *testing.T) {
	s := test.NewSetup(t)
	err := s.Coordinator.MarkProjectDirty(context.Background(), 4711)
	if err == nil {
		t.Fatal("expected an error when flagging a nonexistent project")
	}
}

func TestTurnOffScoping(t *testing.T) {
	s := test.NewSetup(t)
	ctx := context.Background()
	now := s.Clock.Now()

	var projects [3]models.Project
	for idx := range projects {
		projects[idx] = models.Project{Name: "project", AddressID: 1, ManagerID: 1, RegionID: regionID, CreatedAt: now, UpdatedAt: now}
		s.MustInsert(t, &projects[idx])
		err := s.Coordinator.MarkProjectDirty(ctx, projects[idx].ID)
		if err != nil {
			t.Fatal(err.Error())
		}
	}

	err := s.Coordinator.TurnOff([]int64{projects[0].ID, projects[2].ID})
	if err != nil {
		t.Fatal(err.Error())
	}

	expectedRunRobot := []bool{false, true, false}
	for idx, project := range projects {
		var p models.Project
		err := s.DB.SelectOne(&p, "SELECT * FROM projects WHERE id = $1", project.ID)
		if err != nil {
			t.Fatal(err.Error())
		}
		if p.RunRobot != expectedRunRobot[idx] {
			t.Errorf("project %d: run_robot = %t, expected %t", p.ID, p.RunRobot, expectedRunRobot[idx])
		}
		// TurnOff only suppresses the robot half of the flag pair
		if !p.RunIcarus {
			t.Errorf("project %d: expected run_icarus to be untouched", p.ID)
		}
	}

	// the region cache flag is also untouched
	if !s.DirtyFlags.IsDirty(ctx, regionID) {
		t.Error("expected region dirty flag to be untouched by TurnOff")
	}
}

// Exercises the full scenario: a SCRUB_QUEUE VM past its grace period is
// dispatched while the dirty flag is up, and the grace-period path does not
// consume the project's run_robot flag by itself.
func TestPollEndToEnd(t *testing.T) {
	s := test.NewSetup(t)
	ctx := context.Background()
	f := buildFixture(t, s)
	vm := addVM(t, s, f, f.ServerKVM.ID, models.StateScrubQueue)

	s.Clock.StepBy(200 * time.Hour)
	err := s.Coordinator.MarkProjectDirty(ctx, f.Project.ID)
	if err != nil {
		t.Fatal(err.Error())
	}

	response, err := s.Coordinator.Poll(ctx, regionID, false)
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "KVM VM buckets", response.Resource.VMKVM, bucketsWith(func(b *dispatch.Buckets) {
		b.Scrub = []int64{vm.ID}
	}))
	assert.DeepEqual(t, "legacy VM buckets", response.VMs, response.Resource.VMKVM)

	// run_robot survives the poll, but the region flag was consumed, so an
	// unforced re-poll is a no-op
	response, err = s.Coordinator.Poll(ctx, regionID, false)
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "project IDs on re-poll", response.ProjectIDs, []int64{})

	// a forced poll sees the still-set run_robot flag and rebuilds the queues
	response, err = s.Coordinator.Poll(ctx, regionID, true)
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "project IDs on forced poll", response.ProjectIDs, []int64{f.Project.ID})
	assert.DeepEqual(t, "KVM VM buckets on forced poll", response.Resource.VMKVM, bucketsWith(func(b *dispatch.Buckets) {
		b.Scrub = []int64{vm.ID}
	}))
}

// SCRUB_PREP work must surface even when the dirty flag is down, but
// snapshot/backup/ceph queues are skipped on such polls.
func TestPollScrubPrepBypassesDirtyFlag(t *testing.T) {
	s := test.NewSetup(t)
	ctx := context.Background()
	f := buildFixture(t, s)
	vmScrub := addVM(t, s, f, f.ServerKVM.ID, models.StateScrub)
	addSnapshot(t, s, vmScrub.ID, models.StateScrub)

	// lower both flags explicitly; SCRUB_PREP on the virtual router alone
	// must keep the project eligible
	err := s.DirtyFlags.Set(ctx, regionID, false)
	if err != nil {
		t.Fatal(err.Error())
	}
	f.VirtualRouter.State = models.StateScrubPrep
	s.MustUpdate(t, &f.VirtualRouter)

	response, err := s.Coordinator.Poll(ctx, regionID, false)
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "project IDs", response.ProjectIDs, []int64{f.Project.ID})
	// VM queues are always built for eligible projects
	assert.DeepEqual(t, "KVM VM buckets", response.Resource.VMKVM, bucketsWith(func(b *dispatch.Buckets) {
		b.Scrub = []int64{vmScrub.ID}
		b.ScrubPrep = []int64{vmScrub.ID}
	}))
	// but snapshot queues are only built on dirty polls
	assert.DeepEqual(t, "KVM snapshot buckets", response.Resource.SnapshotKVM, emptyBuckets())
}

func TestPollPhantomSplit(t *testing.T) {
	s := test.NewSetup(t)
	ctx := context.Background()
	f := buildFixture(t, s)

	// second project whose virtual router sits on the phantom router
	now := s.Clock.Now()
	project2 := models.Project{Name: "beta", AddressID: 2, ManagerID: 2, RegionID: regionID, CreatedAt: now, UpdatedAt: now}
	s.MustInsert(t, &project2)
	vr2 := models.VirtualRouter{ProjectID: project2.ID, RouterID: f.PhantomRouter.ID, State: models.StateRequested, CreatedAt: now, UpdatedAt: now}
	s.MustInsert(t, &vr2)

	f.VirtualRouter.State = models.StateRequested
	s.MustUpdate(t, &f.VirtualRouter)

	err := s.Coordinator.MarkProjectDirty(ctx, f.Project.ID)
	if err != nil {
		t.Fatal(err.Error())
	}
	err = s.Coordinator.MarkProjectDirty(ctx, project2.ID)
	if err != nil {
		t.Fatal(err.Error())
	}

	response, err := s.Coordinator.Poll(ctx, regionID, false)
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "real VR buckets", response.Resource.VirtualRouter, bucketsWith(func(b *dispatch.Buckets) {
		b.Build = []int64{f.VirtualRouter.ID}
	}))
	assert.DeepEqual(t, "phantom VR buckets", response.Resource.VirtualRouterPhantom, bucketsWith(func(b *dispatch.Buckets) {
		b.Build = []int64{vr2.ID}
	}))
	// the legacy shape unions both categories
	assert.DeepEqual(t, "legacy VR buckets", response.VirtualRouters, bucketsWith(func(b *dispatch.Buckets) {
		b.Build = []int64{f.VirtualRouter.ID, vr2.ID}
	}))
}
