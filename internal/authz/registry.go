package authz

import (
	"context"
	"fmt"
	"strings"
)

// Registry manages roles and their permission grants.
type Registry struct {
	repo    RoleRepository
	catalog *Catalog
}

// NewRegistry constructs a Registry.
func NewRegistry(repo RoleRepository, catalog *Catalog) *Registry {
	return &Registry{repo: repo, catalog: catalog}
}

// CreateRoleParams carries the attributes of a new role.
type CreateRoleParams struct {
	Name        string
	DisplayName string
	Description string
	Level       int
	IsSystem    bool
}

// CreateRole inserts a new role. The machine name must be unique;
// a duplicate fails with ErrConflict.
func (r *Registry) CreateRole(ctx context.Context, p CreateRoleParams) (Role, error) {
	name := strings.TrimSpace(strings.ToLower(p.Name))
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name required", ErrValidation)
	}
	if !validRoleLevel(p.Level) {
		return Role{}, fmt.Errorf("%w: role level %d out of range [%d,%d]", ErrValidation, p.Level, minRoleLevel, maxRoleLevel)
	}
	role, err := r.repo.CreateRole(ctx, Role{
		Name:        name,
		DisplayName: strings.TrimSpace(p.DisplayName),
		Description: strings.TrimSpace(p.Description),
		Level:       p.Level,
		IsSystem:    p.IsSystem,
		IsActive:    true,
	})
	if err != nil {
		return Role{}, fmt.Errorf("authz: create role %s: %w", name, err)
	}
	return role, nil
}

// GetRole fetches a role by ID.
func (r *Registry) GetRole(ctx context.Context, id int64) (Role, error) {
	return r.repo.GetRole(ctx, id)
}

// GetRoleByName fetches a role by machine name.
func (r *Registry) GetRoleByName(ctx context.Context, name string) (Role, error) {
	return r.repo.GetRoleByName(ctx, strings.ToLower(name))
}

// ListRoles returns all roles.
func (r *Registry) ListRoles(ctx context.Context) ([]Role, error) {
	return r.repo.ListRoles(ctx)
}

// Grant attaches a permission pattern to a role. Exact patterns must
// name a permission already present in the catalog; wildcard patterns
// are stored as-is and expand dynamically at resolution time.
func (r *Registry) Grant(ctx context.Context, roleID int64, pattern string) error {
	grant, err := ParseGrant(pattern)
	if err != nil {
		return err
	}
	if _, err := r.repo.GetRole(ctx, roleID); err != nil {
		return fmt.Errorf("authz: grant to role %d: %w", roleID, err)
	}
	if grant.Kind == GrantExact {
		if _, err := r.catalog.Find(ctx, grant.Resource, grant.Action); err != nil {
			return fmt.Errorf("authz: grant %s: %w", grant, err)
		}
	}
	if err := r.repo.AddGrant(ctx, roleID, grant); err != nil {
		return fmt.Errorf("authz: grant %s to role %d: %w", grant, roleID, err)
	}
	return nil
}

// Revoke detaches a permission pattern from a role.
func (r *Registry) Revoke(ctx context.Context, roleID int64, pattern string) error {
	grant, err := ParseGrant(pattern)
	if err != nil {
		return err
	}
	if err := r.repo.RemoveGrant(ctx, roleID, grant); err != nil {
		return fmt.Errorf("authz: revoke %s from role %d: %w", grant, roleID, err)
	}
	return nil
}

// ResolvePermissions expands the role's grants against the current
// catalog. Catalog growth after a wildcard grant is reflected without
// re-granting.
func (r *Registry) ResolvePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	role, err := r.repo.GetRole(ctx, roleID)
	if err != nil {
		return nil, fmt.Errorf("authz: resolve permissions for role %d: %w", roleID, err)
	}
	return r.resolveGrants(ctx, role.Grants)
}

func (r *Registry) resolveGrants(ctx context.Context, grants []Grant) ([]Permission, error) {
	seen := make(map[string]struct{})
	var out []Permission
	add := func(perms []Permission) {
		for _, p := range perms {
			if _, ok := seen[p.Key()]; ok {
				continue
			}
			seen[p.Key()] = struct{}{}
			out = append(out, p)
		}
	}
	for _, g := range grants {
		switch g.Kind {
		case GrantAll:
			perms, err := r.catalog.All(ctx)
			if err != nil {
				return nil, err
			}
			add(perms)
		case GrantResource:
			perms, err := r.catalog.ListByResource(ctx, g.Resource)
			if err != nil {
				return nil, err
			}
			add(perms)
		default:
			perm, err := r.catalog.Find(ctx, g.Resource, g.Action)
			if err != nil {
				// Exact grants are validated on insert; a later gap in
				// the catalog should not poison the whole resolution.
				continue
			}
			add([]Permission{perm})
		}
	}
	return out, nil
}

// SetActive toggles a role. Deactivating a system role is rejected.
func (r *Registry) SetActive(ctx context.Context, roleID int64, active bool) error {
	role, err := r.repo.GetRole(ctx, roleID)
	if err != nil {
		return fmt.Errorf("authz: set active on role %d: %w", roleID, err)
	}
	if role.IsSystem && !active {
		return fmt.Errorf("%w: cannot modify system role structure", ErrForbidden)
	}
	role.IsActive = active
	if _, err := r.repo.UpdateRole(ctx, role); err != nil {
		return fmt.Errorf("authz: set active on role %d: %w", roleID, err)
	}
	return nil
}

// UpdateMetadataParams carries optional role metadata changes; nil
// fields are left untouched.
type UpdateMetadataParams struct {
	DisplayName *string
	Description *string
	Level       *int
}

// UpdateMetadata edits role metadata. Level changes on system roles are
// rejected with ErrForbidden.
func (r *Registry) UpdateMetadata(ctx context.Context, roleID int64, p UpdateMetadataParams) (Role, error) {
	role, err := r.repo.GetRole(ctx, roleID)
	if err != nil {
		return Role{}, fmt.Errorf("authz: update role %d: %w", roleID, err)
	}
	if p.Level != nil {
		if role.IsSystem {
			return Role{}, fmt.Errorf("%w: cannot modify system role structure", ErrForbidden)
		}
		if !validRoleLevel(*p.Level) {
			return Role{}, fmt.Errorf("%w: role level %d out of range [%d,%d]", ErrValidation, *p.Level, minRoleLevel, maxRoleLevel)
		}
		role.Level = *p.Level
	}
	if p.DisplayName != nil {
		role.DisplayName = strings.TrimSpace(*p.DisplayName)
	}
	if p.Description != nil {
		role.Description = strings.TrimSpace(*p.Description)
	}
	updated, err := r.repo.UpdateRole(ctx, role)
	if err != nil {
		return Role{}, fmt.Errorf("authz: update role %d: %w", roleID, err)
	}
	return updated, nil
}

// DeleteRole removes a non-system role with no remaining assignments.
func (r *Registry) DeleteRole(ctx context.Context, roleID int64) error {
	role, err := r.repo.GetRole(ctx, roleID)
	if err != nil {
		return fmt.Errorf("authz: delete role %d: %w", roleID, err)
	}
	if role.IsSystem {
		return fmt.Errorf("%w: system role %s cannot be deleted", ErrForbidden, role.Name)
	}
	count, err := r.repo.CountAssignmentsForRole(ctx, roleID)
	if err != nil {
		return fmt.Errorf("authz: delete role %d: %w", roleID, err)
	}
	if count > 0 {
		return fmt.Errorf("%w: role %s still referenced by %d assignment(s)", ErrConflict, role.Name, count)
	}
	if err := r.repo.DeleteRole(ctx, roleID); err != nil {
		return fmt.Errorf("authz: delete role %d: %w", roleID, err)
	}
	return nil
}
