// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package daedalus_test

import (
	"testing"

	"github.com/sapcc/daedalus/internal/daedalus"
	"github.com/sapcc/daedalus/internal/models"
	"github.com/sapcc/daedalus/internal/test"
)

func TestFindProject(t *testing.T) {
	s := test.NewSetup(t)
	now := s.Clock.Now()

	project := models.Project{Name: "alpha", AddressID: 1, ManagerID: 1, RegionID: 1, CreatedAt: now, UpdatedAt: now}
	s.MustInsert(t, &project)

	found, err := daedalus.FindProject(s.DB, project.ID)
	if err != nil {
		t.Fatal(err.Error())
	}
	if found == nil || found.Name != "alpha" {
		t.Errorf("expected to find project %d, got %+v", project.ID, found)
	}

	missing, err := daedalus.FindProject(s.DB, 4711)
	if err != nil {
		t.Fatal(err.Error())
	}
	if missing != nil {
		t.Errorf("expected no project, got %+v", missing)
	}
}

func TestProjectPredicates(t *testing.T) {
	s := test.NewSetup(t)
	now := s.Clock.Now()

	project := models.Project{Name: "alpha", AddressID: 1, ManagerID: 1, RegionID: 1, CreatedAt: now, UpdatedAt: now}
	capacity := int64(10)
	router := models.Router{RegionID: 1, Capacity: &capacity}
	server := models.Server{RegionID: 1, TypeID: models.HypervisorKVM, Enabled: true}
	s.MustInsert(t, &project, &router, &server)

	assertPredicates := func(step string, expectStable, expectShutDown bool) {
		t.Helper()
		stable, err := daedalus.ProjectIsStable(s.DB, project.ID)
		if err != nil {
			t.Fatal(err.Error())
		}
		if stable != expectStable {
			t.Errorf("%s: stable = %t, expected %t", step, stable, expectStable)
		}
		shutDown, err := daedalus.ProjectIsShutDown(s.DB, project.ID)
		if err != nil {
			t.Fatal(err.Error())
		}
		if shutDown != expectShutDown {
			t.Errorf("%s: shut_down = %t, expected %t", step, shutDown, expectShutDown)
		}
	}

	// a half-provisioned project (no virtual router yet) is neither stable
	// nor shut down
	assertPredicates("without virtual router", false, false)

	vr := models.VirtualRouter{ProjectID: project.ID, RouterID: router.ID, State: models.StateRunning, CreatedAt: now, UpdatedAt: now}
	s.MustInsert(t, &vr)
	assertPredicates("with RUNNING virtual router", true, false)

	vm := models.VM{ProjectID: project.ID, ServerID: server.ID, Name: "vm", CPU: 2, RAMMiB: 2048, State: models.StateBuilding, CreatedAt: now, UpdatedAt: now}
	s.MustInsert(t, &vm)
	assertPredicates("with BUILDING VM", false, false)

	vm.State = models.StateRunning
	s.MustUpdate(t, &vm)
	assertPredicates("with RUNNING VM", true, false)

	// a VM with an in-flight snapshot operation is not stable even though
	// the VM itself is RUNNING
	snapshot := models.Snapshot{VMID: vm.ID, Name: "snap", State: models.StateScrubbing, CreatedAt: now, UpdatedAt: now}
	s.MustInsert(t, &snapshot)
	assertPredicates("with SCRUBBING snapshot", false, false)

	stableVM, err := daedalus.VMIsStable(s.DB, vm)
	if err != nil {
		t.Fatal(err.Error())
	}
	if stableVM {
		t.Error("expected VM with in-flight snapshot to not be stable")
	}

	// everything on the deletion path counts as shut down
	snapshot.State = models.StateClosed
	vm.State = models.StateScrubQueue
	vr.State = models.StateScrubbing
	s.MustUpdate(t, &snapshot, &vm, &vr)
	assertPredicates("with everything scrubbed", false, true)
}

func TestProjectMinState(t *testing.T) {
	s := test.NewSetup(t)
	now := s.Clock.Now()

	project := models.Project{Name: "alpha", AddressID: 1, ManagerID: 1, RegionID: 1, CreatedAt: now, UpdatedAt: now}
	capacity := int64(10)
	router := models.Router{RegionID: 1, Capacity: &capacity}
	server := models.Server{RegionID: 1, TypeID: models.HypervisorKVM, Enabled: true}
	s.MustInsert(t, &project, &router, &server)

	_, exists, err := daedalus.ProjectMinState(s.DB, project.ID)
	if err != nil {
		t.Fatal(err.Error())
	}
	if exists {
		t.Error("expected no min state for a project without infrastructure")
	}

	vr := models.VirtualRouter{ProjectID: project.ID, RouterID: router.ID, State: models.StateRunning, CreatedAt: now, UpdatedAt: now}
	vm := models.VM{ProjectID: project.ID, ServerID: server.ID, Name: "vm", CPU: 2, RAMMiB: 2048, State: models.StateRequested, CreatedAt: now, UpdatedAt: now}
	s.MustInsert(t, &vr, &vm)

	minState, exists, err := daedalus.ProjectMinState(s.DB, project.ID)
	if err != nil {
		t.Fatal(err.Error())
	}
	if !exists || minState != models.StateRequested {
		t.Errorf("expected min state %d, got %d (exists = %t)", models.StateRequested, minState, exists)
	}
}
