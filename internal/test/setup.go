// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package test

import (
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sapcc/go-bits/easypg"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/mock"
	"github.com/sapcc/go-bits/osext"

	daedalusv1 "github.com/sapcc/daedalus/internal/api/daedalus"
	"github.com/sapcc/daedalus/internal/daedalus"
	"github.com/sapcc/daedalus/internal/dispatch"
	"github.com/sapcc/daedalus/internal/tasks"
)

// Setup contains all the pieces that are needed for most tests.
type Setup struct {
	DB          *daedalus.DB
	Clock       *mock.Clock
	Redis       *miniredis.Miniredis
	DirtyFlags  daedalus.DirtyFlagStore
	Coordinator *dispatch.Coordinator
	Janitor     *tasks.Janitor
	Handler     http.Handler
}

// NewSetup prepares a fresh test environment: an empty migrated database, a
// miniredis-backed dirty-flag store, a mock clock, and the full HTTP handler.
func NewSetup(t *testing.T) Setup {
	t.Helper()
	logg.ShowDebug = osext.GetenvBool("DAEDALUS_DEBUG")

	dbConn := easypg.ConnectForTest(t, daedalus.DBConfiguration(),
		// child tables are cleared through ON DELETE CASCADE
		easypg.ClearTables("projects", "routers", "servers"),
		easypg.ResetPrimaryKeys("projects", "routers", "servers", "virtual_routers",
			"vms", "vpns", "snapshots", "backups", "resources"),
	)
	db := daedalus.InitORM(dbConn)

	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	dirtyFlags := daedalus.NewDirtyFlagStore(rc)

	clock := mock.NewClock()
	clock.StepBy(time.Hour) // start at a nonzero timestamp

	coordinator := dispatch.NewCoordinator(db, dirtyFlags).OverrideTimeNow(clock.Now)
	janitor := tasks.NewJanitor(db).OverrideTimeNow(clock.Now)
	janitor.DisableJitter()

	handler := httpapi.Compose(
		daedalusv1.NewAPI(db, coordinator).OverrideTimeNow(clock.Now),
		httpapi.HealthCheckAPI{SkipRequestLog: true},
	)

	return Setup{
		DB:          db,
		Clock:       clock,
		Redis:       mr,
		DirtyFlags:  dirtyFlags,
		Coordinator: coordinator,
		Janitor:     janitor,
		Handler:     handler,
	}
}
