// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package daedalus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sapcc/go-bits/logg"
)

// DirtyFlagStore tracks the per-region RunRobot dirty bit: a shared boolean
// per region ID that is set when any infrastructure in the region changes
// state, and cleared after a successful RunRobot poll has rebuilt the work
// queues.
//
// The flag is an optimization signal, not a correctness-critical store.
// Reads therefore fail safe: a missing or unreadable entry counts as dirty,
// so that cache loss degrades to "always do the work" rather than silently
// skipping work.
type DirtyFlagStore interface {
	// IsDirty reads the flag for a region. Missing entries and read errors
	// both yield true.
	IsDirty(ctx context.Context, regionID int64) bool
	// Set writes the flag for a region. There is no TTL; the value persists
	// until overwritten.
	Set(ctx context.Context, regionID int64, dirty bool) error
}

// RegionCacheKey derives the cache key for a region's dirty flag.
func RegionCacheKey(regionID int64) string {
	return fmt.Sprintf("daedalus_region_%d", regionID)
}

// NewDirtyFlagStore builds a DirtyFlagStore. With a Redis client, the flag is
// shared across all API processes of the region. Without one (single-node
// deployments and most unit tests), a process-local fallback is used.
func NewDirtyFlagStore(rc *redis.Client) DirtyFlagStore {
	if rc == nil {
		return &memoryDirtyFlagStore{flags: make(map[int64]bool)}
	}
	return redisDirtyFlagStore{rc}
}

type redisDirtyFlagStore struct {
	rc *redis.Client
}

// IsDirty implements the DirtyFlagStore interface.
func (s redisDirtyFlagStore) IsDirty(ctx context.Context, regionID int64) bool {
	val, err := s.rc.Get(ctx, RegionCacheKey(regionID)).Bool()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logg.Error("cannot read dirty flag for region %d: %s", regionID, err.Error())
		}
		return true
	}
	return val
}

// Set implements the DirtyFlagStore interface.
func (s redisDirtyFlagStore) Set(ctx context.Context, regionID int64, dirty bool) error {
	return s.rc.Set(ctx, RegionCacheKey(regionID), dirty, 0).Err()
}

type memoryDirtyFlagStore struct {
	mutex sync.Mutex
	flags map[int64]bool
}

// IsDirty implements the DirtyFlagStore interface.
func (s *memoryDirtyFlagStore) IsDirty(ctx context.Context, regionID int64) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	dirty, exists := s.flags[regionID]
	return dirty || !exists
}

// Set implements the DirtyFlagStore interface.
func (s *memoryDirtyFlagStore) Set(ctx context.Context, regionID int64, dirty bool) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.flags[regionID] = dirty
	return nil
}
