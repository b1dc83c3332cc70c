// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package daedalusv1

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/respondwith"
)

// pathParamInt64 parses a numeric path parameter. The route patterns only
// match digit sequences, so a parse failure means a number too large for
// int64; that also renders as 404 rather than 500.
func pathParamInt64(r *http.Request, name string) (int64, bool) {
	value, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	return value, err == nil
}

func (a *API) handlePollRunRobot(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/run-robot/:region_id")
	regionID, ok := pathParamInt64(r, "region_id")
	if !ok {
		http.Error(w, "no such region", http.StatusNotFound)
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	// "no eligible work" is an empty 200 response, never a 204, to keep the
	// Robot's response parsing uniform
	response, err := a.coordinator.Poll(r.Context(), regionID, force)
	if respondwith.ErrorText(w, err) {
		return
	}
	respondwith.JSON(w, http.StatusOK, response)
}

type turnOffRequest struct {
	ProjectIDs []int64 `json:"project_ids"`
}

func (a *API) handleTurnOffRunRobot(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/run-robot/turn-off")

	var req turnOffRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	err := decoder.Decode(&req)
	if err != nil {
		http.Error(w, "request body is not valid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.ProjectIDs) == 0 {
		http.Error(w, "project_ids must not be empty", http.StatusBadRequest)
		return
	}

	err = a.coordinator.TurnOff(req.ProjectIDs)
	if respondwith.ErrorText(w, err) {
		return
	}
	respondwith.JSON(w, http.StatusOK, turnOffRequest{ProjectIDs: req.ProjectIDs})
}
