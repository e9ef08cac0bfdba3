package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laurelhq/ai-service/services/gateway/datatypes"
)

func newTestSessionStore(t *testing.T) *SessionStore {
	t.Helper()
	store, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewSessionStore(store)
}

func TestSessionStore_SaveLoad(t *testing.T) {
	ss := newTestSessionStore(t)
	ctx := context.Background()

	sess := datatypes.NewSession("sess-1", "owner-1", time.Hour)
	sess.AppendTurn("user", "hello", 10)
	require.NoError(t, ss.Save(ctx, sess))

	loaded, err := ss.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", loaded.ID)
	assert.Equal(t, "owner-1", loaded.OwnerID)
	require.Len(t, loaded.History, 1)
	assert.Equal(t, "hello", loaded.History[0].Content)
}

func TestSessionStore_LoadMissing(t *testing.T) {
	ss := newTestSessionStore(t)

	_, err := ss.Load(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionStore_ExpiredRecordIsNotFound(t *testing.T) {
	ss := newTestSessionStore(t)
	ctx := context.Background()

	sess := datatypes.NewSession("sess-1", "", time.Hour)
	sess.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, ss.Save(ctx, sess))

	_, err := ss.Load(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrSessionNotFound, "a record past its expiry reads as absent")
}

func TestSessionStore_Delete(t *testing.T) {
	ss := newTestSessionStore(t)
	ctx := context.Background()

	require.NoError(t, ss.Save(ctx, datatypes.NewSession("sess-1", "", time.Hour)))
	require.NoError(t, ss.Delete(ctx, "sess-1"))

	_, err := ss.Load(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionStore_ScanAllIncludesExpired(t *testing.T) {
	ss := newTestSessionStore(t)
	ctx := context.Background()

	live := datatypes.NewSession("live", "", time.Hour)
	dead := datatypes.NewSession("dead", "", time.Hour)
	dead.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, ss.Save(ctx, live))
	require.NoError(t, ss.Save(ctx, dead))

	var ids []string
	err := ss.ScanAll(ctx, func(s *datatypes.Session) error {
		ids = append(ids, s.ID)
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"live", "dead"}, ids, "the sweep needs to see expired records")
}
