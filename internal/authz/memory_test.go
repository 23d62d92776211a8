package authz

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// memoryRepo backs the service tests with map storage. WithTx
// serializes callers so guarded check-then-write sequences observe the
// same one-winner behavior the SQL repository gets from its unique
// indexes and transaction isolation.
type memoryRepo struct {
	mu   sync.Mutex
	txMu sync.Mutex

	perms        map[string]Permission
	roles        map[int64]Role
	assignments  map[int64]Assignment
	users        map[int64]bool
	nextPermID   int64
	nextRoleID   int64
	nextAssignID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		perms:       make(map[string]Permission),
		roles:       make(map[int64]Role),
		assignments: make(map[int64]Assignment),
		users:       make(map[int64]bool),
	}
}

func (r *memoryRepo) addUser(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[id] = true
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(Repository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	return fn(r)
}

func (r *memoryRepo) UpsertPermission(ctx context.Context, resource, action, description string) (Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := resource + ":" + action
	if existing, ok := r.perms[key]; ok {
		existing.Description = description
		r.perms[key] = existing
		return existing, nil
	}
	r.nextPermID++
	perm := Permission{ID: r.nextPermID, Resource: resource, Action: action, Description: description}
	r.perms[key] = perm
	return perm, nil
}

func (r *memoryRepo) FindPermission(ctx context.Context, resource, action string) (Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	perm, ok := r.perms[resource+":"+action]
	if !ok {
		return Permission{}, fmt.Errorf("%w: permission %s:%s", ErrNotFound, resource, action)
	}
	return perm, nil
}

func (r *memoryRepo) ListPermissionsByResource(ctx context.Context, resource string) ([]Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Permission
	for _, p := range r.perms {
		if p.Resource == resource {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListPermissions(ctx context.Context) ([]Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Permission, 0, len(r.perms))
	for _, p := range r.perms {
		out = append(out, p)
	}
	return out, nil
}

func (r *memoryRepo) CreateRole(ctx context.Context, role Role) (Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.roles {
		if existing.Name == role.Name {
			return Role{}, fmt.Errorf("%w: role %s", ErrConflict, role.Name)
		}
	}
	r.nextRoleID++
	role.ID = r.nextRoleID
	role.CreatedAt = time.Now()
	role.UpdatedAt = role.CreatedAt
	r.roles[role.ID] = role
	return cloneRole(role), nil
}

func (r *memoryRepo) GetRole(ctx context.Context, id int64) (Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[id]
	if !ok {
		return Role{}, fmt.Errorf("%w: role %d", ErrNotFound, id)
	}
	return cloneRole(role), nil
}

func (r *memoryRepo) GetRoleByName(ctx context.Context, name string) (Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, role := range r.roles {
		if role.Name == name {
			return cloneRole(role), nil
		}
	}
	return Role{}, fmt.Errorf("%w: role %s", ErrNotFound, name)
}

func (r *memoryRepo) ListRoles(ctx context.Context) ([]Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Role, 0, len(r.roles))
	for _, role := range r.roles {
		out = append(out, cloneRole(role))
	}
	return out, nil
}

func (r *memoryRepo) UpdateRole(ctx context.Context, role Role) (Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.roles[role.ID]
	if !ok {
		return Role{}, fmt.Errorf("%w: role %d", ErrNotFound, role.ID)
	}
	role.Grants = existing.Grants
	role.CreatedAt = existing.CreatedAt
	role.UpdatedAt = time.Now()
	r.roles[role.ID] = role
	return cloneRole(role), nil
}

func (r *memoryRepo) DeleteRole(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[id]; !ok {
		return fmt.Errorf("%w: role %d", ErrNotFound, id)
	}
	delete(r.roles, id)
	return nil
}

func (r *memoryRepo) AddGrant(ctx context.Context, roleID int64, grant Grant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[roleID]
	if !ok {
		return fmt.Errorf("%w: role %d", ErrNotFound, roleID)
	}
	for _, g := range role.Grants {
		if g.String() == grant.String() {
			return nil
		}
	}
	role.Grants = append(role.Grants, grant)
	r.roles[roleID] = role
	return nil
}

func (r *memoryRepo) RemoveGrant(ctx context.Context, roleID int64, grant Grant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[roleID]
	if !ok {
		return fmt.Errorf("%w: role %d", ErrNotFound, roleID)
	}
	kept := role.Grants[:0]
	for _, g := range role.Grants {
		if g.String() != grant.String() {
			kept = append(kept, g)
		}
	}
	role.Grants = kept
	r.roles[roleID] = role
	return nil
}

func (r *memoryRepo) CountAssignmentsForRole(ctx context.Context, roleID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, a := range r.assignments {
		if a.RoleID == roleID {
			count++
		}
	}
	return count, nil
}

func (r *memoryRepo) CreateAssignment(ctx context.Context, a Assignment) (Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.assignments {
		if existing.UserID == a.UserID && existing.RoleID == a.RoleID &&
			int64Equal(existing.InstitutionID, a.InstitutionID) &&
			int64Equal(existing.DepartmentID, a.DepartmentID) {
			return Assignment{}, fmt.Errorf("%w: assignment tuple", ErrConflict)
		}
	}
	r.nextAssignID++
	a.ID = r.nextAssignID
	a.CreatedAt = time.Now()
	r.assignments[a.ID] = a
	return a, nil
}

func (r *memoryRepo) GetAssignment(ctx context.Context, id int64) (Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assignments[id]
	if !ok {
		return Assignment{}, fmt.Errorf("%w: assignment %d", ErrNotFound, id)
	}
	return a, nil
}

func (r *memoryRepo) DeleteAssignment(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.assignments[id]; !ok {
		return fmt.Errorf("%w: assignment %d", ErrNotFound, id)
	}
	delete(r.assignments, id)
	return nil
}

func (r *memoryRepo) AssignmentsForUser(ctx context.Context, userID int64) ([]Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Assignment
	for _, a := range r.assignments {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memoryRepo) ActiveAssignmentsForUser(ctx context.Context, userID int64, asOf time.Time) ([]Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Assignment
	for _, a := range r.assignments {
		if a.UserID != userID || !a.ActiveAt(asOf) {
			continue
		}
		role, ok := r.roles[a.RoleID]
		if !ok || !role.IsActive {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *memoryRepo) ActiveRolesForUser(ctx context.Context, userID int64, asOf time.Time) ([]Role, error) {
	active, err := r.ActiveAssignmentsForUser(ctx, userID, asOf)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[int64]struct{})
	var out []Role
	for _, a := range active {
		if _, ok := seen[a.RoleID]; ok {
			continue
		}
		seen[a.RoleID] = struct{}{}
		out = append(out, cloneRole(r.roles[a.RoleID]))
	}
	return out, nil
}

func (r *memoryRepo) UserExists(ctx context.Context, userID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[userID], nil
}

func cloneRole(role Role) Role {
	role.Grants = append([]Grant(nil), role.Grants...)
	return role
}

func int64Equal(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
