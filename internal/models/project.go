// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"time"
)

// DefaultGracePeriodHours applies when a Project has no explicit grace period
// configured. One week.
const DefaultGracePeriodHours = 168

// Project contains a record from the `projects` table.
//
// A Project is the collection of cloud infrastructure belonging to one
// customer in one region. It is the unit of dirty-flag tracking: any state
// change on its infrastructure sets RunRobot and RunIcarus, which are
// consumed by the RunRobot poll and the metrics collector respectively.
type Project struct {
	ID        int64  `db:"id"`
	Name      string `db:"name"`
	AddressID int64  `db:"address_id"`
	ManagerID int64  `db:"manager_id"`
	RegionID  int64  `db:"region_id"`

	// GracePeriod is the number of hours an item lingers in SCRUB_QUEUE before
	// it becomes eligible for scrubbing. NULL means DefaultGracePeriodHours.
	GracePeriod *int64 `db:"grace_period"`

	RunRobot  bool `db:"run_robot"`
	RunIcarus bool `db:"run_icarus"`

	Closed     bool       `db:"closed"`
	ArchivedAt *time.Time `db:"archived_at"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// GracePeriodOrDefault returns the Project's scrub-queue grace period,
// substituting the default for a missing value.
func (p Project) GracePeriodOrDefault() time.Duration {
	hours := int64(DefaultGracePeriodHours)
	if p.GracePeriod != nil {
		hours = *p.GracePeriod
	}
	return time.Duration(hours) * time.Hour
}
