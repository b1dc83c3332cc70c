// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package tasks_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sapcc/daedalus/internal/models"
	"github.com/sapcc/daedalus/internal/test"
)

func TestProjectClosure(t *testing.T) {
	s := test.NewSetup(t)
	now := s.Clock.Now()

	capacity := int64(10)
	router := models.Router{RegionID: 1, Capacity: &capacity}
	server := models.Server{RegionID: 1, TypeID: models.HypervisorKVM, Enabled: true}
	s.MustInsert(t, &router, &server)

	// scrubbed: everything CLOSED
	scrubbed := models.Project{Name: "scrubbed", AddressID: 1, ManagerID: 1, RegionID: 1, CreatedAt: now, UpdatedAt: now}
	// active: the virtual router is CLOSED, but a VM is still RUNNING
	active := models.Project{Name: "active", AddressID: 2, ManagerID: 2, RegionID: 1, CreatedAt: now, UpdatedAt: now}
	// fresh: no virtual router yet
	fresh := models.Project{Name: "fresh", AddressID: 3, ManagerID: 3, RegionID: 1, CreatedAt: now, UpdatedAt: now}
	s.MustInsert(t, &scrubbed, &active, &fresh)

	s.MustInsert(t,
		&models.VirtualRouter{ProjectID: scrubbed.ID, RouterID: router.ID, State: models.StateClosed, CreatedAt: now, UpdatedAt: now},
		&models.VirtualRouter{ProjectID: active.ID, RouterID: router.ID, State: models.StateClosed, CreatedAt: now, UpdatedAt: now},
	)
	vmClosed := models.VM{ProjectID: scrubbed.ID, ServerID: server.ID, Name: "vm1", CPU: 2, RAMMiB: 2048, State: models.StateClosed, CreatedAt: now, UpdatedAt: now}
	vmRunning := models.VM{ProjectID: active.ID, ServerID: server.ID, Name: "vm2", CPU: 2, RAMMiB: 2048, State: models.StateRunning, CreatedAt: now, UpdatedAt: now}
	s.MustInsert(t, &vmClosed, &vmRunning)
	s.MustInsert(t,
		&models.Snapshot{VMID: vmClosed.ID, Name: "snap", State: models.StateClosed, CreatedAt: now, UpdatedAt: now},
		&models.Resource{ProjectID: scrubbed.ID, ResourceType: models.ResourceTypeCeph, Name: "drive", SizeGiB: 100, State: models.StateClosed, CreatedAt: now, UpdatedAt: now},
	)

	job := s.Janitor.ProjectClosureJob(prometheus.NewPedanticRegistry())
	err := job.ProcessOne(context.Background())
	if err != nil {
		t.Fatal(err.Error())
	}

	expectClosed := map[int64]bool{scrubbed.ID: true, active.ID: false, fresh.ID: false}
	for projectID, expected := range expectClosed {
		var project models.Project
		err := s.DB.SelectOne(&project, "SELECT * FROM projects WHERE id = $1", projectID)
		if err != nil {
			t.Fatal(err.Error())
		}
		if project.Closed != expected {
			t.Errorf("project %d: closed = %t, expected %t", projectID, project.Closed, expected)
		}
		if expected && project.ArchivedAt == nil {
			t.Errorf("project %d: expected archived_at to be set", projectID)
		}
		if !expected && project.ArchivedAt != nil {
			t.Errorf("project %d: expected archived_at to be unset", projectID)
		}
	}

	// the sweep is idempotent
	err = job.ProcessOne(context.Background())
	if err != nil {
		t.Fatal(err.Error())
	}
	count, err := s.DB.SelectInt("SELECT COUNT(*) FROM projects WHERE closed")
	if err != nil {
		t.Fatal(err.Error())
	}
	if count != 1 {
		t.Errorf("expected exactly 1 closed project, got %d", count)
	}
}
