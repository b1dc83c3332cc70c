// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package daedalus

import (
	"database/sql"

	gorp "github.com/go-gorp/gorp/v3"
	"github.com/sapcc/go-bits/easypg"

	"github.com/sapcc/daedalus/internal/models"
)

var sqlMigrations = map[string]string{
	"001_initial.up.sql": `
		CREATE TABLE projects (
			id           BIGSERIAL   NOT NULL PRIMARY KEY,
			name         TEXT        NOT NULL,
			address_id   BIGINT      NOT NULL,
			manager_id   BIGINT      NOT NULL,
			region_id    BIGINT      NOT NULL,
			grace_period BIGINT      DEFAULT 168,
			run_robot    BOOLEAN     NOT NULL DEFAULT FALSE,
			run_icarus   BOOLEAN     NOT NULL DEFAULT FALSE,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX projects_region_id_idx ON projects (region_id);
		CREATE INDEX projects_run_robot_idx ON projects (run_robot);
		CREATE INDEX projects_run_icarus_idx ON projects (run_icarus);

		CREATE TABLE routers (
			id        BIGSERIAL NOT NULL PRIMARY KEY,
			region_id BIGINT    NOT NULL,
			capacity  BIGINT    DEFAULT NULL
		);

		CREATE TABLE servers (
			id        BIGSERIAL NOT NULL PRIMARY KEY,
			region_id BIGINT    NOT NULL,
			type_id   BIGINT    NOT NULL,
			enabled   BOOLEAN   NOT NULL DEFAULT TRUE
		);

		CREATE TABLE virtual_routers (
			id         BIGSERIAL   NOT NULL PRIMARY KEY,
			project_id BIGINT      NOT NULL UNIQUE REFERENCES projects ON DELETE CASCADE,
			router_id  BIGINT      NOT NULL REFERENCES routers,
			state      INT         NOT NULL DEFAULT -1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX virtual_routers_state_idx ON virtual_routers (state);

		CREATE TABLE vms (
			id         BIGSERIAL   NOT NULL PRIMARY KEY,
			project_id BIGINT      NOT NULL REFERENCES projects ON DELETE CASCADE,
			server_id  BIGINT      NOT NULL REFERENCES servers,
			name       TEXT        NOT NULL,
			cpu        BIGINT      NOT NULL,
			ram_mib    BIGINT      NOT NULL,
			state      INT         NOT NULL DEFAULT -1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX vms_state_idx ON vms (state);

		CREATE TABLE snapshots (
			id         BIGSERIAL   NOT NULL PRIMARY KEY,
			vm_id      BIGINT      NOT NULL REFERENCES vms ON DELETE CASCADE,
			name       TEXT        NOT NULL,
			state      INT         NOT NULL DEFAULT -1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX snapshots_state_idx ON snapshots (state);

		CREATE TABLE backups (
			id         BIGSERIAL   NOT NULL PRIMARY KEY,
			vm_id      BIGINT      NOT NULL REFERENCES vms ON DELETE CASCADE,
			name       TEXT        NOT NULL,
			repository TEXT        NOT NULL DEFAULT '',
			state      INT         NOT NULL DEFAULT -1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX backups_state_idx ON backups (state);
	`,
	"001_initial.down.sql": `
		DROP TABLE backups;
		DROP TABLE snapshots;
		DROP TABLE vms;
		DROP TABLE virtual_routers;
		DROP TABLE servers;
		DROP TABLE routers;
		DROP TABLE projects;
	`,
	"002_add_vpns_and_resources.up.sql": `
		CREATE TABLE vpns (
			id                BIGSERIAL   NOT NULL PRIMARY KEY,
			virtual_router_id BIGINT      NOT NULL REFERENCES virtual_routers ON DELETE CASCADE,
			description       TEXT        NOT NULL DEFAULT '',
			state             INT         NOT NULL DEFAULT -1,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX vpns_state_idx ON vpns (state);

		CREATE TABLE resources (
			id            BIGSERIAL   NOT NULL PRIMARY KEY,
			project_id    BIGINT      NOT NULL REFERENCES projects ON DELETE CASCADE,
			resource_type BIGINT      NOT NULL,
			parent_id     BIGINT      DEFAULT NULL,
			name          TEXT        NOT NULL,
			size_gib      BIGINT      NOT NULL DEFAULT 0,
			state         INT         NOT NULL DEFAULT -1,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX resources_state_idx ON resources (state);
	`,
	"002_add_vpns_and_resources.down.sql": `
		DROP TABLE resources;
		DROP TABLE vpns;
	`,
	"003_add_project_closure.up.sql": `
		ALTER TABLE projects ADD COLUMN closed BOOLEAN NOT NULL DEFAULT FALSE;
		ALTER TABLE projects ADD COLUMN archived_at TIMESTAMPTZ DEFAULT NULL;
	`,
	"003_add_project_closure.down.sql": `
		ALTER TABLE projects DROP COLUMN archived_at;
		ALTER TABLE projects DROP COLUMN closed;
	`,
}

// DB adds convenience functions on top of gorp.DbMap.
type DB struct {
	gorp.DbMap
}

// DBConfiguration returns the easypg.Configuration object that is needed to
// initialize the database connection.
func DBConfiguration() easypg.Configuration {
	return easypg.Configuration{
		Migrations: sqlMigrations,
	}
}

// InitORM wraps a database connection into a DB instance.
func InitORM(dbConn *sql.DB) *DB {
	result := &DB{DbMap: gorp.DbMap{Db: dbConn, Dialect: gorp.PostgresDialect{}}}
	initModels(&result.DbMap)
	return result
}

// initModels configures the gorp.DbMap with all tables and their row types.
func initModels(db *gorp.DbMap) {
	db.AddTableWithName(models.Project{}, "projects").SetKeys(true, "id")
	db.AddTableWithName(models.Router{}, "routers").SetKeys(true, "id")
	db.AddTableWithName(models.Server{}, "servers").SetKeys(true, "id")
	db.AddTableWithName(models.VirtualRouter{}, "virtual_routers").SetKeys(true, "id")
	db.AddTableWithName(models.VM{}, "vms").SetKeys(true, "id")
	db.AddTableWithName(models.VPN{}, "vpns").SetKeys(true, "id")
	db.AddTableWithName(models.Snapshot{}, "snapshots").SetKeys(true, "id")
	db.AddTableWithName(models.Backup{}, "backups").SetKeys(true, "id")
	db.AddTableWithName(models.Resource{}, "resources").SetKeys(true, "id")
}
