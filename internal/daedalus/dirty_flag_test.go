// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package daedalus_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sapcc/daedalus/internal/daedalus"
)

func TestDirtyFlagStoreFailsDirty(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	for _, store := range []daedalus.DirtyFlagStore{
		daedalus.NewDirtyFlagStore(nil), // in-memory fallback
		daedalus.NewDirtyFlagStore(rc),
	} {
		ctx := context.Background()

		// a missing entry counts as dirty
		if !store.IsDirty(ctx, 1) {
			t.Error("expected missing flag to read as dirty")
		}

		err := store.Set(ctx, 1, false)
		if err != nil {
			t.Fatal(err.Error())
		}
		if store.IsDirty(ctx, 1) {
			t.Error("expected flag to read clean after clearing")
		}

		err = store.Set(ctx, 1, true)
		if err != nil {
			t.Fatal(err.Error())
		}
		if !store.IsDirty(ctx, 1) {
			t.Error("expected flag to read dirty after raising")
		}

		// flags are per-region
		if !store.IsDirty(ctx, 2) {
			t.Error("expected other regions to stay dirty-by-default")
		}
	}
}

func TestDirtyFlagStoreSurvivesCacheLoss(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := daedalus.NewDirtyFlagStore(rc)
	ctx := context.Background()

	err := store.Set(ctx, 1, false)
	if err != nil {
		t.Fatal(err.Error())
	}

	// cache eviction must degrade to "always do the work"
	mr.FlushAll()
	if !store.IsDirty(ctx, 1) {
		t.Error("expected flag to read dirty after cache loss")
	}
}
