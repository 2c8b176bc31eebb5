package impersonation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

// TestPurpose: Validates the Redis-backed store has the same semantics as the in-memory one.
// Scope: Unit Test (miniredis)
// Security: Impersonation state shared across instances
// Expected: Put/Get/Delete round-trip, overwrite returns the previous session, keys carry no TTL.
// Test Case ID: IMP-03
func TestRedisStore_Lifecycle(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	got, err := store.Get(ctx, "U1")
	require.NoError(t, err)
	assert.Nil(t, got)

	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	prev, err := store.Put(ctx, &Session{RealSubjectID: "U1", TargetSubjectID: "U2", Reason: "support", StartedAt: started})
	require.NoError(t, err)
	assert.Nil(t, prev)
	assert.True(t, mr.Exists("impersonation:U1"))
	assert.Zero(t, mr.TTL("impersonation:U1"))

	prev, err = store.Put(ctx, &Session{RealSubjectID: "U1", TargetSubjectID: "U3", Reason: "escalation", StartedAt: started})
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, "U2", prev.TargetSubjectID)

	got, err = store.Get(ctx, "U1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "U3", got.TargetSubjectID)
	assert.True(t, started.Equal(got.StartedAt))

	deleted, err := store.Delete(ctx, "U1")
	require.NoError(t, err)
	require.NotNil(t, deleted)
	assert.Equal(t, "U3", deleted.TargetSubjectID)

	got, err = store.Get(ctx, "U1")
	require.NoError(t, err)
	assert.Nil(t, got)

	deleted, err = store.Delete(ctx, "U1")
	require.NoError(t, err)
	assert.Nil(t, deleted)
}

func TestRedisStore_ServiceIntegration(t *testing.T) {
	store, _ := newRedisStore(t)
	w := &recordingWriter{}
	svc := NewService(store, w)
	ctx := context.Background()

	_, err := svc.Start(ctx, "U1", "U2", "support")
	require.NoError(t, err)

	s, err := svc.Get(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, "U2", s.TargetSubjectID)

	require.NoError(t, svc.Stop(ctx, "U1"))
	s, err = svc.Get(ctx, "U1")
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.Len(t, w.entries, 2)
}

func TestRedisStore_Unavailable(t *testing.T) {
	store, mr := newRedisStore(t)
	mr.Close()

	_, err := store.Get(context.Background(), "U1")
	assert.Error(t, err)
}

func TestNewRedisStoreFromURL(t *testing.T) {
	mr := miniredis.RunT(t)

	store, err := NewRedisStoreFromURL(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	defer store.Close()

	_, err = NewRedisStoreFromURL(context.Background(), "://bad")
	assert.Error(t, err)
}
