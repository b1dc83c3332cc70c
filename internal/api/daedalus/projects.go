// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package daedalusv1

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/respondwith"

	"github.com/sapcc/daedalus/internal/daedalus"
	"github.com/sapcc/daedalus/internal/models"
)

type projectJSON struct {
	ID               int64      `json:"id"`
	Name             string     `json:"name"`
	AddressID        int64      `json:"address_id"`
	ManagerID        int64      `json:"manager_id"`
	RegionID         int64      `json:"region_id"`
	GracePeriodHours int64      `json:"grace_period_hours"`
	RunRobot         bool       `json:"run_robot"`
	RunIcarus        bool       `json:"run_icarus"`
	Closed           bool       `json:"closed"`
	ArchivedAt       *time.Time `json:"archived_at,omitempty"`
}

// projectDetailJSON is the GET-one response: the plain row plus the derived
// Project-level predicates.
type projectDetailJSON struct {
	projectJSON
	Stable   bool   `json:"stable"`
	ShutDown bool   `json:"shut_down"`
	MinState *int64 `json:"min_state"` // null when the Project has no infrastructure yet
}

func renderProject(p models.Project) projectJSON {
	return projectJSON{
		ID:               p.ID,
		Name:             p.Name,
		AddressID:        p.AddressID,
		ManagerID:        p.ManagerID,
		RegionID:         p.RegionID,
		GracePeriodHours: int64(p.GracePeriodOrDefault() / time.Hour),
		RunRobot:         p.RunRobot,
		RunIcarus:        p.RunIcarus,
		Closed:           p.Closed,
		ArchivedAt:       p.ArchivedAt,
	}
}

type projectRequest struct {
	Name             string `json:"name"`
	AddressID        int64  `json:"address_id"`
	ManagerID        int64  `json:"manager_id"`
	RegionID         int64  `json:"region_id"`
	GracePeriodHours *int64 `json:"grace_period_hours"`
}

func (a *API) handlePostProject(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/projects")

	var req projectRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	err := decoder.Decode(&req)
	if err != nil {
		http.Error(w, "request body is not valid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name must not be empty", http.StatusBadRequest)
		return
	}
	if req.GracePeriodHours != nil && *req.GracePeriodHours < 0 {
		http.Error(w, "grace_period_hours must not be negative", http.StatusBadRequest)
		return
	}

	now := a.timeNow()
	project := models.Project{
		Name:        req.Name,
		AddressID:   req.AddressID,
		ManagerID:   req.ManagerID,
		RegionID:    req.RegionID,
		GracePeriod: req.GracePeriodHours,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = a.db.Insert(&project)
	if respondwith.ErrorText(w, err) {
		return
	}
	respondwith.JSON(w, http.StatusCreated, renderProject(project))
}

func (a *API) handleGetProject(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/projects/:id")
	projectID, ok := pathParamInt64(r, "id")
	if !ok {
		http.Error(w, "no such project", http.StatusNotFound)
		return
	}

	project, err := daedalus.FindProject(a.db, projectID)
	if respondwith.ErrorText(w, err) {
		return
	}
	if project == nil {
		http.Error(w, "no such project", http.StatusNotFound)
		return
	}

	stable, err := daedalus.ProjectIsStable(a.db, project.ID)
	if respondwith.ErrorText(w, err) {
		return
	}
	shutDown, err := daedalus.ProjectIsShutDown(a.db, project.ID)
	if respondwith.ErrorText(w, err) {
		return
	}
	minState, hasMinState, err := daedalus.ProjectMinState(a.db, project.ID)
	if respondwith.ErrorText(w, err) {
		return
	}

	response := projectDetailJSON{
		projectJSON: renderProject(*project),
		Stable:      stable,
		ShutDown:    shutDown,
	}
	if hasMinState {
		state := int64(minState)
		response.MinState = &state
	}
	respondwith.JSON(w, http.StatusOK, response)
}

func (a *API) handleGetProjects(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/regions/:region_id/projects")
	regionID, ok := pathParamInt64(r, "region_id")
	if !ok {
		http.Error(w, "no such region", http.StatusNotFound)
		return
	}

	var projects []models.Project
	_, err := a.db.Select(&projects,
		"SELECT * FROM projects WHERE region_id = $1 ORDER BY id", regionID)
	if respondwith.ErrorText(w, err) {
		return
	}

	result := make([]projectJSON, len(projects))
	for idx, p := range projects {
		result[idx] = renderProject(p)
	}
	respondwith.JSON(w, http.StatusOK, map[string]any{"projects": result})
}
