// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package daedalusv1

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/respondwith"

	"github.com/sapcc/daedalus/internal/models"
)

type vmUpdateRequest struct {
	CPU    int64 `json:"cpu"`
	RAMMiB int64 `json:"ram_mib"`
}

type vmJSON struct {
	ID        int64        `json:"id"`
	ProjectID int64        `json:"project_id"`
	ServerID  int64        `json:"server_id"`
	Name      string       `json:"name"`
	CPU       int64        `json:"cpu"`
	RAMMiB    int64        `json:"ram_mib"`
	State     models.State `json:"state"`
}

// handlePutVM resizes a VM. The resize is only accepted while the VM's
// current state permits a user-requested update; on acceptance, the VM moves
// into the matching update state and the Robot picks it up on the next poll.
func (a *API) handlePutVM(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/vms/:id")
	vmID, ok := pathParamInt64(r, "id")
	if !ok {
		http.Error(w, "no such vm", http.StatusNotFound)
		return
	}

	var req vmUpdateRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	err := decoder.Decode(&req)
	if err != nil {
		http.Error(w, "request body is not valid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.CPU <= 0 || req.RAMMiB <= 0 {
		http.Error(w, "cpu and ram_mib must be positive", http.StatusBadRequest)
		return
	}

	var vm models.VM
	err = a.db.SelectOne(&vm, "SELECT * FROM vms WHERE id = $1", vmID)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "no such vm", http.StatusNotFound)
		return
	}
	if respondwith.ErrorText(w, err) {
		return
	}

	if !vm.CanUserUpdate() {
		http.Error(w, "vm cannot be updated in its current state", http.StatusConflict)
		return
	}
	nextState := models.StateRunningUpdate
	if vm.State == models.StateQuiesced {
		nextState = models.StateQuiescedUpdate
	}

	vm.CPU = req.CPU
	vm.RAMMiB = req.RAMMiB
	vm.State = nextState
	vm.UpdatedAt = a.timeNow()
	_, err = a.db.Update(&vm)
	if respondwith.ErrorText(w, err) {
		return
	}
	err = a.coordinator.MarkProjectDirty(r.Context(), vm.ProjectID)
	if respondwith.ErrorText(w, err) {
		return
	}

	respondwith.JSON(w, http.StatusOK, vmJSON{
		ID:        vm.ID,
		ProjectID: vm.ProjectID,
		ServerID:  vm.ServerID,
		Name:      vm.Name,
		CPU:       vm.CPU,
		RAMMiB:    vm.RAMMiB,
		State:     vm.State,
	})
}
