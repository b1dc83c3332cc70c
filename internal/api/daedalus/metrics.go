// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package daedalusv1

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/respondwith"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/sapcc/daedalus/internal/models"
)

type serverMetricsJSON struct {
	ID      int64                 `json:"id"`
	TypeID  models.HypervisorType `json:"type_id"`
	Enabled bool                  `json:"enabled"`
	// VMCountByState counts this server's VMs per state code, excluding CLOSED.
	VMCountByState map[models.State]uint64 `json:"vm_count_by_state"`
}

type routerMetricsJSON struct {
	ID       int64  `json:"id"`
	Capacity *int64 `json:"capacity"`
	Phantom  bool   `json:"phantom"`
}

type regionMetricsJSON struct {
	RegionID int64               `json:"region_id"`
	Servers  []serverMetricsJSON `json:"servers"`
	Routers  []routerMetricsJSON `json:"routers"`
}

var vmCountByServerAndStateQuery = sqlext.SimplifyWhitespace(`
	SELECT vm.server_id, vm.state, COUNT(*)
	  FROM vms vm
	  JOIN servers srv ON srv.id = vm.server_id
	 WHERE srv.region_id = $1 AND vm.state != $2
	 GROUP BY vm.server_id, vm.state
`)

// handleGetRegionMetrics serves the poll endpoint of the external metrics
// collector ("icarus"). The run_icarus flag plays the same role as run_robot
// does for the RunRobot poll, but is consumed independently: a clean region
// yields 204 unless the collector forces a rebuild, and a served response
// clears the flag on all Projects it covered.
func (a *API) handleGetRegionMetrics(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/regions/:region_id/metrics")
	regionID, ok := pathParamInt64(r, "region_id")
	if !ok {
		http.Error(w, "no such region", http.StatusNotFound)
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	dirtyCount, err := a.db.SelectInt(
		"SELECT COUNT(*) FROM projects WHERE region_id = $1 AND run_icarus", regionID)
	if respondwith.ErrorText(w, err) {
		return
	}
	if dirtyCount == 0 && !force {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	_, err = a.db.Exec(
		"UPDATE projects SET run_icarus = FALSE WHERE region_id = $1 AND run_icarus", regionID)
	if respondwith.ErrorText(w, err) {
		return
	}

	var servers []models.Server
	_, err = a.db.Select(&servers,
		"SELECT * FROM servers WHERE region_id = $1 ORDER BY id", regionID)
	if respondwith.ErrorText(w, err) {
		return
	}
	vmCounts := make(map[int64]map[models.State]uint64, len(servers))
	err = sqlext.ForeachRow(a.db, vmCountByServerAndStateQuery,
		[]any{regionID, models.StateClosed},
		func(rows *sql.Rows) error {
			var (
				serverID int64
				state    models.State
				count    uint64
			)
			err := rows.Scan(&serverID, &state, &count)
			if err != nil {
				return err
			}
			if vmCounts[serverID] == nil {
				vmCounts[serverID] = make(map[models.State]uint64)
			}
			vmCounts[serverID][state] = count
			return nil
		})
	if respondwith.ErrorText(w, err) {
		return
	}

	var routers []models.Router
	_, err = a.db.Select(&routers,
		"SELECT * FROM routers WHERE region_id = $1 ORDER BY id", regionID)
	if respondwith.ErrorText(w, err) {
		return
	}

	response := regionMetricsJSON{
		RegionID: regionID,
		Servers:  make([]serverMetricsJSON, len(servers)),
		Routers:  make([]routerMetricsJSON, len(routers)),
	}
	for idx, srv := range servers {
		counts := vmCounts[srv.ID]
		if counts == nil {
			counts = map[models.State]uint64{}
		}
		response.Servers[idx] = serverMetricsJSON{
			ID:             srv.ID,
			TypeID:         srv.TypeID,
			Enabled:        srv.Enabled,
			VMCountByState: counts,
		}
	}
	for idx, router := range routers {
		response.Routers[idx] = routerMetricsJSON{
			ID:       router.ID,
			Capacity: router.Capacity,
			Phantom:  router.IsPhantom(),
		}
	}
	respondwith.JSON(w, http.StatusOK, response)
}
