// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package daedalusv1

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/respondwith"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/sapcc/daedalus/internal/models"
)

// stateEndpoint describes one entity type that exposes the generic
// state-update endpoint. The itemQuery resolves an item ID to its current
// state and its owning Project (directly or through the VM/VirtualRouter
// parent), which is what transition validation and dirty-flagging need.
type stateEndpoint struct {
	URLPart     string
	Table       string
	ItemQuery   string
	UseChildMap bool
}

var allStateEndpoints = []stateEndpoint{
	{
		URLPart:   "virtual-routers",
		Table:     "virtual_routers",
		ItemQuery: `SELECT state, project_id FROM virtual_routers WHERE id = $1`,
	},
	{
		URLPart:   "vms",
		Table:     "vms",
		ItemQuery: `SELECT state, project_id FROM vms WHERE id = $1`,
	},
	{
		URLPart: "vpns",
		Table:   "vpns",
		ItemQuery: sqlext.SimplifyWhitespace(`
			SELECT v.state, vr.project_id FROM vpns v
			  JOIN virtual_routers vr ON vr.id = v.virtual_router_id
			 WHERE v.id = $1
		`),
	},
	{
		URLPart: "snapshots",
		Table:   "snapshots",
		ItemQuery: sqlext.SimplifyWhitespace(`
			SELECT s.state, vm.project_id FROM snapshots s
			  JOIN vms vm ON vm.id = s.vm_id
			 WHERE s.id = $1
		`),
		UseChildMap: true,
	},
	{
		URLPart: "backups",
		Table:   "backups",
		ItemQuery: sqlext.SimplifyWhitespace(`
			SELECT b.state, vm.project_id FROM backups b
			  JOIN vms vm ON vm.id = b.vm_id
			 WHERE b.id = $1
		`),
		UseChildMap: true,
	},
	{
		URLPart:   "resources",
		Table:     "resources",
		ItemQuery: `SELECT state, project_id FROM resources WHERE id = $1`,
	},
}

type stateUpdateRequest struct {
	State models.State `json:"state"`
	Actor string       `json:"actor"`
}

// canTransition validates one requested transition against the table that
// applies to this entity type and actor. Unknown actors and unknown state
// codes both fail closed.
func (e stateEndpoint) canTransition(actor string, current, next models.State) (bool, error) {
	switch actor {
	case "user":
		if e.UseChildMap {
			return models.CanUserChildTransition(current, next), nil
		}
		return models.CanUserTransition(current, next), nil
	case "robot":
		return models.CanRobotTransition(current, next), nil
	default:
		return false, fmt.Errorf("unknown actor: %q", actor)
	}
}

func (a *API) handlePostItemState(e stateEndpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpapi.IdentifyEndpoint(r, "/v1/"+e.URLPart+"/:id/state")
		itemID, ok := pathParamInt64(r, "id")
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}

		var req stateUpdateRequest
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		err := decoder.Decode(&req)
		if err != nil {
			http.Error(w, "request body is not valid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}

		var (
			currentState models.State
			projectID    int64
		)
		err = a.db.QueryRow(e.ItemQuery, itemID).Scan(&currentState, &projectID)
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if respondwith.ErrorText(w, err) {
			return
		}

		allowed, err := e.canTransition(req.Actor, currentState, req.State)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !allowed {
			msg := fmt.Sprintf("state transition from %d to %d is not allowed for actor %q",
				currentState, req.State, req.Actor)
			http.Error(w, msg, http.StatusConflict)
			return
		}

		_, err = a.db.Exec(
			fmt.Sprintf(`UPDATE %s SET state = $1, updated_at = $2 WHERE id = $3`, e.Table),
			req.State, a.timeNow(), itemID,
		)
		if respondwith.ErrorText(w, err) {
			return
		}
		err = a.coordinator.MarkProjectDirty(r.Context(), projectID)
		if respondwith.ErrorText(w, err) {
			return
		}

		respondwith.JSON(w, http.StatusOK, map[string]any{
			"id":    itemID,
			"state": req.State,
		})
	}
}
