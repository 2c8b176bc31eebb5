package authz_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/portalcore/portalcore/internal/audit"
	"github.com/portalcore/portalcore/internal/authz"
	"github.com/portalcore/portalcore/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReader struct {
	calls   atomic.Int32
	roles   []string
	err     error
	release chan struct{}
}

func (c *countingReader) ListRoles(ctx context.Context, _ string) ([]string, error) {
	c.calls.Add(1)
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return c.roles, c.err
}

var cacheCfg = authz.LookupConfig{CacheTTL: time.Minute, CacheSize: 16}

// TestPurpose: Validates that role lookups are cached.
// Scope: Unit Test
// Security: Availability of the super admin check under load
// Expected: Repeated lookups hit the store once.
// Test Case ID: AZ-01
func TestRoleLookup_Caches(t *testing.T) {
	reader := &countingReader{roles: []string{"SuperAdmin"}}
	l := authz.NewRoleLookup(reader, cacheCfg, nil)

	for i := 0; i < 5; i++ {
		assert.True(t, l.IsSuperAdmin(context.Background(), "u1"))
	}
	assert.EqualValues(t, 1, reader.calls.Load())

	l.Invalidate("u1")
	assert.True(t, l.IsSuperAdmin(context.Background(), "u1"))
	assert.EqualValues(t, 2, reader.calls.Load())
}

// TestPurpose: Validates that concurrent misses for one subject share a single store read.
// Scope: Unit Test
// Security: Thundering-herd protection
// Expected: One ListRoles call for many concurrent callers.
// Test Case ID: AZ-02
func TestRoleLookup_Singleflight(t *testing.T) {
	reader := &countingReader{roles: []string{"super_admin"}, release: make(chan struct{})}
	l := authz.NewRoleLookup(reader, authz.LookupConfig{}, nil)

	var (
		wg      sync.WaitGroup
		granted atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.IsSuperAdmin(context.Background(), "u1") {
				granted.Add(1)
			}
		}()
	}
	require.Eventually(t, func() bool { return reader.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(reader.release)
	wg.Wait()

	assert.EqualValues(t, 10, granted.Load())
	assert.EqualValues(t, 1, reader.calls.Load())
}

// TestPurpose: Validates that the super admin check fails closed.
// Scope: Unit Test
// Security: Fail-closed authorization
// Expected: Store errors and cancelled contexts yield false; failures are not cached.
// Test Case ID: AZ-03
func TestRoleLookup_FailClosed(t *testing.T) {
	reader := &countingReader{roles: []string{"super_admin"}, err: errors.New("db down")}
	l := authz.NewRoleLookup(reader, cacheCfg, nil)

	assert.False(t, l.IsSuperAdmin(context.Background(), "u1"))

	reader.err = nil
	assert.True(t, l.IsSuperAdmin(context.Background(), "u1"), "errors are not cached")

	slow := &countingReader{roles: []string{"super_admin"}, release: make(chan struct{})}
	defer close(slow.release)
	ls := authz.NewRoleLookup(slow, cacheCfg, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, ls.IsSuperAdmin(ctx, "u2"))

	assert.False(t, l.IsSuperAdmin(context.Background(), ""))
}

func TestService_GrantRevoke(t *testing.T) {
	store := memory.New()
	lookup := authz.NewRoleLookup(store.GlobalRoles(), cacheCfg, nil)
	svc := authz.NewService(store.GlobalRoles(), lookup, audit.Discard{})
	ctx := context.Background()

	assert.False(t, lookup.IsSuperAdmin(ctx, "u1"))

	require.NoError(t, svc.GrantGlobalRole(ctx, "u1", "Super-Admin", "operator"))
	assert.True(t, lookup.IsSuperAdmin(ctx, "u1"), "grant invalidates the cached negative")

	roles, err := store.GlobalRoles().ListRoles(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"super_admin"}, roles)

	require.NoError(t, svc.RevokeGlobalRole(ctx, "u1", "SUPER_ADMIN", "operator"))
	assert.False(t, lookup.IsSuperAdmin(ctx, "u1"))

	assert.Error(t, svc.RevokeGlobalRole(ctx, "u1", "super_admin", "operator"))
	assert.Error(t, svc.GrantGlobalRole(ctx, "", "super_admin", "operator"))
}

// TestPurpose: Validates how long a revoked super admin stays elevated on an instance that did not perform the revoke.
// Scope: Unit Test
// Security: Privilege revocation latency across instances
// Expected: The revoking instance drops the role at once; a peer drops it once its cache TTL expires; a zero TTL never serves a stale role.
// Test Case ID: AZ-08
func TestRoleLookup_RevocationBoundedByTTL(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	local := authz.NewRoleLookup(store.GlobalRoles(), cacheCfg, nil)
	peer := authz.NewRoleLookup(store.GlobalRoles(), authz.LookupConfig{CacheTTL: 50 * time.Millisecond, CacheSize: 16}, nil)
	uncached := authz.NewRoleLookup(store.GlobalRoles(), authz.LookupConfig{}, nil)
	svc := authz.NewService(store.GlobalRoles(), local, audit.Discard{})

	require.NoError(t, svc.GrantGlobalRole(ctx, "u1", "super_admin", "operator"))
	require.True(t, peer.IsSuperAdmin(ctx, "u1"))
	require.True(t, uncached.IsSuperAdmin(ctx, "u1"))

	require.NoError(t, svc.RevokeGlobalRole(ctx, "u1", "super_admin", "operator"))
	assert.False(t, local.IsSuperAdmin(ctx, "u1"))
	assert.False(t, uncached.IsSuperAdmin(ctx, "u1"))
	assert.Eventually(t, func() bool { return !peer.IsSuperAdmin(ctx, "u1") }, 2*time.Second, 10*time.Millisecond)
}
