// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package daedalusv1

import (
	"time"

	"github.com/gorilla/mux"

	"github.com/sapcc/daedalus/internal/daedalus"
	"github.com/sapcc/daedalus/internal/dispatch"
)

// API contains state variables used by the daedalus V1 API implementation.
type API struct {
	db          *daedalus.DB
	coordinator *dispatch.Coordinator

	// non-pure functions that can be replaced by deterministic doubles for unit tests
	timeNow func() time.Time
}

// NewAPI constructs a new API instance.
func NewAPI(db *daedalus.DB, coordinator *dispatch.Coordinator) *API {
	return &API{db, coordinator, time.Now}
}

// OverrideTimeNow replaces time.Now with a test double.
func (a *API) OverrideTimeNow(timeNow func() time.Time) *API {
	a.timeNow = timeNow
	return a
}

// AddTo implements the api.API interface.
func (a *API) AddTo(r *mux.Router) {
	r.Methods("GET").Path("/v1/run-robot/{region_id:[0-9]+}").HandlerFunc(a.handlePollRunRobot)
	r.Methods("POST").Path("/v1/run-robot/turn-off").HandlerFunc(a.handleTurnOffRunRobot)

	r.Methods("POST").Path("/v1/projects").HandlerFunc(a.handlePostProject)
	r.Methods("GET").Path("/v1/projects/{id:[0-9]+}").HandlerFunc(a.handleGetProject)
	r.Methods("GET").Path("/v1/regions/{region_id:[0-9]+}/projects").HandlerFunc(a.handleGetProjects)

	for _, e := range allStateEndpoints {
		r.Methods("POST").Path("/v1/" + e.URLPart + "/{id:[0-9]+}/state").HandlerFunc(a.handlePostItemState(e))
	}
	r.Methods("PUT").Path("/v1/vms/{id:[0-9]+}").HandlerFunc(a.handlePutVM)

	r.Methods("GET").Path("/v1/regions/{region_id:[0-9]+}/metrics").HandlerFunc(a.handleGetRegionMetrics)
}
