package authz

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newCacheFixture(t *testing.T) (*engineFixture, *PermissionCache, *miniredis.Miniredis) {
	t.Helper()
	f := newEngineFixture(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return f, NewPermissionCache(client, f.engine, time.Minute, nil), mr
}

func seedCachedUser(t *testing.T, f *engineFixture) Role {
	t.Helper()
	ctx := context.Background()
	f.seedPermission(t, "course", "read")
	role := f.seedRole(t, "reader", 20, "course:read")
	f.repo.addUser(1)
	_, err := f.assignments.Assign(ctx, AssignParams{UserID: 1, RoleID: role.ID, AssignedBy: 1})
	require.NoError(t, err)
	return role
}

func TestCacheServesStaleUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	f, cache, _ := newCacheFixture(t)
	role := seedCachedUser(t, f)

	keys, err := cache.EffectivePermissions(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"course:read"}, keys)

	// A grant behind the cache's back is invisible until invalidation.
	f.seedPermission(t, "course", "update")
	require.NoError(t, f.registry.Grant(ctx, role.ID, "course:update"))

	keys, err = cache.EffectivePermissions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	cache.InvalidateUser(ctx, 1)
	keys, err = cache.EffectivePermissions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, keys, 2)
}

func TestCacheFlushBumpsGeneration(t *testing.T) {
	ctx := context.Background()
	f, cache, _ := newCacheFixture(t)
	role := seedCachedUser(t, f)

	_, err := cache.EffectivePermissions(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, f.registry.Revoke(ctx, role.ID, "course:read"))
	cache.Flush(ctx)

	keys, err := cache.EffectivePermissions(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestCacheExpiryRefetches(t *testing.T) {
	ctx := context.Background()
	f, cache, mr := newCacheFixture(t)
	role := seedCachedUser(t, f)

	_, err := cache.EffectivePermissions(ctx, 1)
	require.NoError(t, err)

	f.seedPermission(t, "course", "update")
	require.NoError(t, f.registry.Grant(ctx, role.ID, "course:update"))

	mr.FastForward(2 * time.Minute)

	keys, err := cache.EffectivePermissions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, keys, 2)
}

func TestCacheAuthorize(t *testing.T) {
	ctx := context.Background()
	f, cache, _ := newCacheFixture(t)
	seedCachedUser(t, f)

	ok, err := cache.Authorize(ctx, 1, "course", "read")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = cache.Authorize(ctx, 1, "course", "delete")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = cache.Authorize(ctx, 1, "", "read")
	require.ErrorIs(t, err, ErrValidation)
}

func TestCacheEmptySetIsCached(t *testing.T) {
	ctx := context.Background()
	f, cache, _ := newCacheFixture(t)
	f.repo.addUser(1)

	keys, err := cache.EffectivePermissions(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, keys)
}
