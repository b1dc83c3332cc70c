// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package test

import (
	"testing"
)

// MustInsert inserts the given rows into the database, or fails the test.
func (s Setup) MustInsert(t *testing.T, rows ...any) {
	t.Helper()
	for _, row := range rows {
		err := s.DB.Insert(row)
		if err != nil {
			t.Fatalf("cannot insert %T: %s", row, err.Error())
		}
	}
}

// MustUpdate writes the given rows back to the database, or fails the test.
func (s Setup) MustUpdate(t *testing.T, rows ...any) {
	t.Helper()
	for _, row := range rows {
		_, err := s.DB.Update(row)
		if err != nil {
			t.Fatalf("cannot update %T: %s", row, err.Error())
		}
	}
}

// MustExec executes the given SQL statement, or fails the test.
func (s Setup) MustExec(t *testing.T, query string, args ...any) {
	t.Helper()
	_, err := s.DB.Exec(query, args...)
	if err != nil {
		t.Fatalf("cannot execute %q: %s", query, err.Error())
	}
}
