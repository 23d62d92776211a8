package authz

import (
	"context"
	"time"
)

// CatalogRepository persists the permission catalog.
type CatalogRepository interface {
	// UpsertPermission creates the (resource, action) permission or, if
	// it already exists, updates its description. Idempotent.
	UpsertPermission(ctx context.Context, resource, action, description string) (Permission, error)
	FindPermission(ctx context.Context, resource, action string) (Permission, error)
	ListPermissionsByResource(ctx context.Context, resource string) ([]Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
}

// RoleRepository persists roles and their grants.
type RoleRepository interface {
	// CreateRole inserts a role, returning ErrConflict when the name is
	// taken. The insert must be atomic create-if-absent.
	CreateRole(ctx context.Context, role Role) (Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	UpdateRole(ctx context.Context, role Role) (Role, error)
	DeleteRole(ctx context.Context, id int64) error
	AddGrant(ctx context.Context, roleID int64, grant Grant) error
	RemoveGrant(ctx context.Context, roleID int64, grant Grant) error
	CountAssignmentsForRole(ctx context.Context, roleID int64) (int64, error)
}

// AssignmentRepository persists user-role assignments.
type AssignmentRepository interface {
	// CreateAssignment inserts an assignment, returning ErrConflict when
	// the (user, role, institution, department) tuple already exists.
	CreateAssignment(ctx context.Context, a Assignment) (Assignment, error)
	GetAssignment(ctx context.Context, id int64) (Assignment, error)
	DeleteAssignment(ctx context.Context, id int64) error
	AssignmentsForUser(ctx context.Context, userID int64) ([]Assignment, error)
	// ActiveAssignmentsForUser returns assignments whose role is active
	// and whose validity window covers asOf.
	ActiveAssignmentsForUser(ctx context.Context, userID int64, asOf time.Time) ([]Assignment, error)
	// ActiveRolesForUser returns the distinct roles, grants included,
	// behind ActiveAssignmentsForUser.
	ActiveRolesForUser(ctx context.Context, userID int64, asOf time.Time) ([]Role, error)
	UserExists(ctx context.Context, userID int64) (bool, error)
}

// Repository is the full persistence surface of the authorization core.
// WithTx runs fn against a transactional view; the Hierarchy Guard uses
// it to keep its authority check and the subsequent write atomic.
type Repository interface {
	CatalogRepository
	RoleRepository
	AssignmentRepository
	WithTx(ctx context.Context, fn func(Repository) error) error
}
