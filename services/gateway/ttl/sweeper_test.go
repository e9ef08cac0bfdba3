// Copyright (C) 2025 Laurel Intelligence (engineering@laurelhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ttl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laurelhq/ai-service/services/gateway/cache"
	"github.com/laurelhq/ai-service/services/gateway/datatypes"
	"github.com/laurelhq/ai-service/services/gateway/storage"
)

type sweeperTestEnv struct {
	sweeper  *Sweeper
	sessions *storage.SessionStore
	cache    *cache.CoalescingCache
}

func newSweeperTestEnv(t *testing.T) *sweeperTestEnv {
	t.Helper()

	store, err := storage.Open(storage.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	c := cache.New(store, cache.Options{DefaultTTL: time.Minute})
	t.Cleanup(c.Close)

	sessions := storage.NewSessionStore(store)
	sweeper := NewSweeper(sessions, c, SweeperConfig{
		Interval: time.Hour, // tests drive sweeps via RunNow
		Timeout:  time.Second,
	})

	return &sweeperTestEnv{sweeper: sweeper, sessions: sessions, cache: c}
}

func saveSession(t *testing.T, env *sweeperTestEnv, id string, expiresAt time.Time) {
	t.Helper()
	sess := datatypes.NewSession(id, "", time.Hour)
	sess.ExpiresAt = expiresAt
	require.NoError(t, env.sessions.Save(context.Background(), sess))
}

// TestSweeper_RunNowRemovesExpired verifies that a sweep deletes expired
// records and leaves live ones alone.
func TestSweeper_RunNowRemovesExpired(t *testing.T) {
	env := newSweeperTestEnv(t)
	now := time.Now().UTC()

	saveSession(t, env, "live-1", now.Add(time.Hour))
	saveSession(t, env, "live-2", now.Add(time.Hour))
	saveSession(t, env, "dead-1", now.Add(-time.Minute))
	saveSession(t, env, "dead-2", now.Add(-time.Hour))

	result, err := env.sweeper.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, result.Scanned)
	assert.Equal(t, 2, result.Removed)
	assert.Equal(t, 0, result.Errors)

	var remaining []string
	require.NoError(t, env.sessions.ScanAll(context.Background(), func(s *datatypes.Session) error {
		remaining = append(remaining, s.ID)
		return nil
	}))
	assert.ElementsMatch(t, []string{"live-1", "live-2"}, remaining)
}

// TestSweeper_RunNowInvalidatesCache verifies that a swept session's
// cache entry is removed along with the durable record.
func TestSweeper_RunNowInvalidatesCache(t *testing.T) {
	env := newSweeperTestEnv(t)
	now := time.Now().UTC()

	saveSession(t, env, "dead", now.Add(-time.Minute))
	env.cache.Prime(storage.SessionKey("dead"), []byte(`{"id":"dead"}`), 0)

	_, err := env.sweeper.RunNow(context.Background())
	require.NoError(t, err)

	_, err = env.cache.Get(context.Background(), storage.SessionKey("dead"))
	assert.ErrorIs(t, err, cache.ErrNotFound, "swept session should be gone from the cache")
}

// TestSweeper_RunNowEmptyStore verifies a sweep over nothing is a no-op.
func TestSweeper_RunNowEmptyStore(t *testing.T) {
	env := newSweeperTestEnv(t)

	result, err := env.sweeper.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Scanned)
	assert.Equal(t, 0, result.Removed)
}

// TestSweeper_StartTwiceErrors verifies that a running sweeper rejects a
// second Start.
func TestSweeper_StartTwiceErrors(t *testing.T) {
	env := newSweeperTestEnv(t)

	require.NoError(t, env.sweeper.Start(context.Background()))
	defer env.sweeper.Stop()

	assert.Error(t, env.sweeper.Start(context.Background()))
}

// TestSweeper_StopIsIdempotent verifies Stop can be called repeatedly.
func TestSweeper_StopIsIdempotent(t *testing.T) {
	env := newSweeperTestEnv(t)

	require.NoError(t, env.sweeper.Start(context.Background()))
	env.sweeper.Stop()
	env.sweeper.Stop()
}
