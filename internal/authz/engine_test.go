package authz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type engineFixture struct {
	repo        *memoryRepo
	catalog     *Catalog
	registry    *Registry
	assignments *Assignments
	engine      *Engine
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	repo := newMemoryRepo()
	catalog := NewCatalog(repo)
	registry := NewRegistry(repo, catalog)
	return &engineFixture{
		repo:        repo,
		catalog:     catalog,
		registry:    registry,
		assignments: NewAssignments(repo),
		engine:      NewEngine(repo, registry, nil),
	}
}

func (f *engineFixture) seedRole(t *testing.T, name string, level int, grants ...string) Role {
	t.Helper()
	ctx := context.Background()
	role, err := f.registry.CreateRole(ctx, CreateRoleParams{Name: name, Level: level})
	require.NoError(t, err)
	for _, pattern := range grants {
		require.NoError(t, f.registry.Grant(ctx, role.ID, pattern))
	}
	return role
}

func (f *engineFixture) seedPermission(t *testing.T, resource, action string) {
	t.Helper()
	_, err := f.catalog.Register(context.Background(), resource, action, "")
	require.NoError(t, err)
}

func TestEffectivePermissionsUnion(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.seedPermission(t, "course", "read")
	f.seedPermission(t, "course", "update")
	f.seedPermission(t, "assignment", "grade")

	reader := f.seedRole(t, "reader", 20, "course:read")
	editor := f.seedRole(t, "editor", 15, "course:read", "course:update", "assignment:grade")
	f.repo.addUser(1)

	_, err := f.assignments.Assign(ctx, AssignParams{UserID: 1, RoleID: reader.ID, AssignedBy: 1})
	require.NoError(t, err)
	_, err = f.assignments.Assign(ctx, AssignParams{UserID: 1, RoleID: editor.ID, AssignedBy: 1})
	require.NoError(t, err)

	perms, err := f.engine.EffectivePermissions(ctx, 1, time.Now())
	require.NoError(t, err)
	require.Len(t, perms, 3, "overlap between roles collapses to one entry")
}

func TestExpiredAssignmentContributesNothing(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.seedPermission(t, "course", "read")
	role := f.seedRole(t, "reader", 20, "course:read")
	f.repo.addUser(1)

	deadline := time.Now().Add(time.Hour)
	_, err := f.assignments.Assign(ctx, AssignParams{UserID: 1, RoleID: role.ID, AssignedBy: 1, ValidUntil: &deadline})
	require.NoError(t, err)

	perms, err := f.engine.EffectivePermissions(ctx, 1, deadline)
	require.NoError(t, err)
	require.Len(t, perms, 1, "deadline instant itself is still valid")

	perms, err = f.engine.EffectivePermissions(ctx, 1, deadline.Add(time.Second))
	require.NoError(t, err)
	require.Empty(t, perms)

	ok, err := f.engine.Authorize(ctx, 1, "course", "read")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestInactiveRoleContributesNothing(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.seedPermission(t, "course", "read")
	role := f.seedRole(t, "reader", 20, "course:read")
	f.repo.addUser(1)

	_, err := f.assignments.Assign(ctx, AssignParams{UserID: 1, RoleID: role.ID, AssignedBy: 1})
	require.NoError(t, err)
	require.NoError(t, f.registry.SetActive(ctx, role.ID, false))

	perms, err := f.engine.EffectivePermissions(ctx, 1, time.Now())
	require.NoError(t, err)
	require.Empty(t, perms)
}

func TestUnknownUserGetsEmptySet(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	perms, err := f.engine.EffectivePermissions(ctx, 404, time.Now())
	require.NoError(t, err)
	require.Empty(t, perms)

	ok, err := f.engine.Authorize(ctx, 404, "course", "read")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAuthorizeValidatesInput(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	_, err := f.engine.Authorize(ctx, 1, "", "read")
	require.ErrorIs(t, err, ErrValidation)
	_, err = f.engine.Authorize(ctx, 1, "course", "  ")
	require.ErrorIs(t, err, ErrValidation)
}

func TestAuthorizeAny(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.seedPermission(t, "course", "read")
	role := f.seedRole(t, "reader", 20, "course:read")
	f.repo.addUser(1)
	_, err := f.assignments.Assign(ctx, AssignParams{UserID: 1, RoleID: role.ID, AssignedBy: 1})
	require.NoError(t, err)

	ok, err := f.engine.AuthorizeAny(ctx, 1, []Check{
		{Resource: "course", Action: "delete"},
		{Resource: "course", Action: "read"},
	})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.engine.AuthorizeAny(ctx, 1, []Check{{Resource: "course", Action: "delete"}})
	require.NoError(t, err)
	require.False(t, ok)

	_, err = f.engine.AuthorizeAny(ctx, 1, nil)
	require.ErrorIs(t, err, ErrValidation)
}

func TestHighestAuthorityLevel(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	strong := f.seedRole(t, "admin", 3)
	weak := f.seedRole(t, "reader", 20)
	f.repo.addUser(1)

	level, err := f.engine.HighestAuthorityLevel(ctx, 1, time.Now())
	require.NoError(t, err)
	require.Equal(t, LevelNone, level)

	_, err = f.assignments.Assign(ctx, AssignParams{UserID: 1, RoleID: weak.ID, AssignedBy: 1})
	require.NoError(t, err)
	_, err = f.assignments.Assign(ctx, AssignParams{UserID: 1, RoleID: strong.ID, AssignedBy: 1})
	require.NoError(t, err)

	level, err = f.engine.HighestAuthorityLevel(ctx, 1, time.Now())
	require.NoError(t, err)
	require.Equal(t, 3, level)
}
