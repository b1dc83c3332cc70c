// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"context"
	"time"

	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sapcc/go-bits/jobloop"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/sapcc/daedalus/internal/models"
)

// ProjectClosureJob is a job. Each task finds Projects whose entire
// infrastructure has reached CLOSED and archives them, so that they drop out
// of all future dirty-flag and metrics processing.
func (j *Janitor) ProjectClosureJob(registerer prometheus.Registerer) jobloop.Job {
	return (&jobloop.CronJob{
		Metadata: jobloop.JobMetadata{
			ReadableName: "close fully scrubbed projects",
			CounterOpts: prometheus.CounterOpts{
				Name: "daedalus_project_closures",
				Help: "Counter for project closure sweeps.",
			},
		},
		Interval: j.addJitter(15 * time.Minute),
		Task:     j.closeScrubbedProjects,
	}).Setup(registerer)
}

var closableProjectsQuery = sqlext.SimplifyWhitespace(`
	SELECT p.id FROM projects p
	  JOIN virtual_routers vr ON vr.project_id = p.id
	 WHERE NOT p.closed AND vr.state = $1
	   AND NOT EXISTS (SELECT 1 FROM vms vm
	        WHERE vm.project_id = p.id AND vm.state != $1)
	   AND NOT EXISTS (SELECT 1 FROM vpns v
	        JOIN virtual_routers vr2 ON vr2.id = v.virtual_router_id
	        WHERE vr2.project_id = p.id AND v.state != $1)
	   AND NOT EXISTS (SELECT 1 FROM snapshots s
	        JOIN vms vm ON vm.id = s.vm_id
	        WHERE vm.project_id = p.id AND s.state != $1)
	   AND NOT EXISTS (SELECT 1 FROM backups b
	        JOIN vms vm ON vm.id = b.vm_id
	        WHERE vm.project_id = p.id AND b.state != $1)
	   AND NOT EXISTS (SELECT 1 FROM resources r
	        WHERE r.project_id = p.id AND r.state != $1)
	 ORDER BY p.id
`)

var closeProjectsQuery = sqlext.SimplifyWhitespace(`
	UPDATE projects SET closed = TRUE, archived_at = $2, updated_at = $2
	 WHERE id = ANY($1)
`)

// A Project without a VirtualRouter is never closed here: it is either still
// half-provisioned or was cleaned up through a different path.
func (j *Janitor) closeScrubbedProjects(ctx context.Context, _ prometheus.Labels) error {
	var projectIDs []int64
	_, err := j.db.Select(&projectIDs, closableProjectsQuery, models.StateClosed)
	if err != nil {
		return err
	}
	if len(projectIDs) == 0 {
		return nil
	}

	_, err = j.db.Exec(closeProjectsQuery, pq.Array(projectIDs), j.timeNow())
	if err != nil {
		return err
	}
	logg.Info("closed %d fully scrubbed projects: %v", len(projectIDs), projectIDs)
	return nil
}
