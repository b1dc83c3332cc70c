// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package daedalus

import (
	"database/sql"
	"errors"

	gorp "github.com/go-gorp/gorp/v3"
	"github.com/lib/pq"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/sapcc/daedalus/internal/models"
)

// FindProject works similar to db.SelectOne(), but returns nil instead of
// sql.ErrNoRows if no Project exists with this ID.
func FindProject(db gorp.SqlExecutor, id int64) (*models.Project, error) {
	var project models.Project
	err := db.SelectOne(&project, "SELECT * FROM projects WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return &project, err
}

// FindVirtualRouterForProject returns the Project's VirtualRouter, or nil if
// it has not been created yet (i.e. the Project is still half-provisioned).
func FindVirtualRouterForProject(db gorp.SqlExecutor, projectID int64) (*models.VirtualRouter, error) {
	var vr models.VirtualRouter
	err := db.SelectOne(&vr, "SELECT * FROM virtual_routers WHERE project_id = $1", projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return &vr, err
}

var vmUnstableCountQuery = sqlext.SimplifyWhitespace(`
	SELECT COUNT(*) FROM vms vm
	 WHERE vm.project_id = $1 AND (
	       vm.state != ALL($2)
	    OR EXISTS (SELECT 1 FROM snapshots s WHERE s.vm_id = vm.id AND s.state != ALL($2))
	 )
`)

var vmNotInStatesCountQuery = sqlext.SimplifyWhitespace(`
	SELECT COUNT(*) FROM vms WHERE project_id = $1 AND state != ALL($2)
`)

// VMIsStable checks the stability predicate for a single VM: the VM itself
// and all its Snapshots must be in stable states.
func VMIsStable(db gorp.SqlExecutor, vm models.VM) (bool, error) {
	if !vm.State.IsStable() {
		return false, nil
	}
	count, err := db.SelectInt(
		"SELECT COUNT(*) FROM snapshots WHERE vm_id = $1 AND state != ALL($2)",
		vm.ID, pq.Array(models.StatesAsInt64(models.StableStates)),
	)
	return count == 0, err
}

// ProjectIsStable checks the Project-level stability predicate: the
// VirtualRouter and every VM (including each VM's Snapshots) must be stable.
// A Project without a VirtualRouter is never stable.
func ProjectIsStable(db gorp.SqlExecutor, projectID int64) (bool, error) {
	vr, err := FindVirtualRouterForProject(db, projectID)
	if err != nil {
		return false, err
	}
	if vr == nil || !vr.State.IsStable() {
		return false, nil
	}
	count, err := db.SelectInt(vmUnstableCountQuery,
		projectID, pq.Array(models.StatesAsInt64(models.StableStates)))
	return count == 0, err
}

// ProjectIsShutDown checks whether every piece of infrastructure in the
// Project is on the deletion path (SCRUB, SCRUB_PREP, SCRUB_QUEUE, SCRUBBING
// or CLOSED). A Project without a VirtualRouter is never shut down.
func ProjectIsShutDown(db gorp.SqlExecutor, projectID int64) (bool, error) {
	vr, err := FindVirtualRouterForProject(db, projectID)
	if err != nil {
		return false, err
	}
	if vr == nil || !vr.State.IsShutDownState() {
		return false, nil
	}
	shutDownStates := []models.State{
		models.StateScrub, models.StateScrubPrep, models.StateScrubQueue,
		models.StateScrubbing, models.StateClosed,
	}
	count, err := db.SelectInt(vmNotInStatesCountQuery,
		projectID, pq.Array(models.StatesAsInt64(shutDownStates)))
	return count == 0, err
}

var projectMinStateQuery = sqlext.SimplifyWhitespace(`
	SELECT MIN(state) FROM (
		SELECT state FROM virtual_routers WHERE project_id = $1
		UNION ALL
		SELECT state FROM vms WHERE project_id = $1
	) states
`)

// ProjectMinState returns the minimum state code across the Project's
// VirtualRouter and VMs, or false if the Project has no infrastructure yet.
func ProjectMinState(db gorp.SqlExecutor, projectID int64) (models.State, bool, error) {
	var minState *int64
	err := db.QueryRow(projectMinStateQuery, projectID).Scan(&minState)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && minState == nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return models.State(*minState), true, nil
}
