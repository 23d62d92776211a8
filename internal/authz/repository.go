package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGRepository provides PostgreSQL backed persistence for the
// authorization core. Uniqueness relies on unique indexes; duplicate
// inserts surface as ErrConflict via SQLSTATE 23505, which gives the
// concurrent-assign contract exactly one winner.
type PGRepository struct {
	pool *pgxpool.Pool
	db   querier
}

// NewPGRepository constructs a repository over the pool.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool, db: pool}
}

// WithTx runs fn against a RepeatableRead transaction. Calls nested
// inside an existing transaction reuse it.
func (r *PGRepository) WithTx(ctx context.Context, fn func(Repository) error) error {
	if r.pool == nil {
		return fn(r)
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("authz: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(&PGRepository{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("authz: commit tx: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// UpsertPermission implements the idempotent catalog insert.
func (r *PGRepository) UpsertPermission(ctx context.Context, resource, action, description string) (Permission, error) {
	var p Permission
	err := r.db.QueryRow(ctx, `
		INSERT INTO permissions (resource, action, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (resource, action) DO UPDATE SET description = EXCLUDED.description
		RETURNING id, resource, action, description`,
		resource, action, description,
	).Scan(&p.ID, &p.Resource, &p.Action, &p.Description)
	if err != nil {
		return Permission{}, err
	}
	return p, nil
}

// FindPermission looks up one permission by key.
func (r *PGRepository) FindPermission(ctx context.Context, resource, action string) (Permission, error) {
	var p Permission
	err := r.db.QueryRow(ctx,
		`SELECT id, resource, action, description FROM permissions WHERE resource = $1 AND action = $2`,
		resource, action,
	).Scan(&p.ID, &p.Resource, &p.Action, &p.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, fmt.Errorf("%w: permission %s:%s", ErrNotFound, resource, action)
	}
	if err != nil {
		return Permission{}, err
	}
	return p, nil
}

// ListPermissionsByResource returns all permissions for one resource.
func (r *PGRepository) ListPermissionsByResource(ctx context.Context, resource string) ([]Permission, error) {
	return r.queryPermissions(ctx,
		`SELECT id, resource, action, description FROM permissions WHERE resource = $1 ORDER BY action`, resource)
}

// ListPermissions returns the whole catalog.
func (r *PGRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	return r.queryPermissions(ctx,
		`SELECT id, resource, action, description FROM permissions ORDER BY resource, action`)
}

func (r *PGRepository) queryPermissions(ctx context.Context, sql string, args ...any) ([]Permission, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Resource, &p.Action, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// CreateRole inserts a role; duplicate names map to ErrConflict.
func (r *PGRepository) CreateRole(ctx context.Context, role Role) (Role, error) {
	err := r.db.QueryRow(ctx, `
		INSERT INTO roles (name, display_name, description, level, is_system, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		role.Name, role.DisplayName, role.Description, role.Level, role.IsSystem, role.IsActive,
	).Scan(&role.ID, &role.CreatedAt, &role.UpdatedAt)
	if isUniqueViolation(err) {
		return Role{}, fmt.Errorf("%w: role name %s", ErrConflict, role.Name)
	}
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

const roleColumns = `id, name, display_name, description, level, is_system, is_active, created_at, updated_at`

// GetRole fetches a role with its grants.
func (r *PGRepository) GetRole(ctx context.Context, id int64) (Role, error) {
	return r.getRole(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
}

// GetRoleByName fetches a role by machine name with its grants.
func (r *PGRepository) GetRoleByName(ctx context.Context, name string) (Role, error) {
	return r.getRole(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1`, name)
}

func (r *PGRepository) getRole(ctx context.Context, sql string, arg any) (Role, error) {
	var role Role
	err := r.db.QueryRow(ctx, sql, arg).Scan(
		&role.ID, &role.Name, &role.DisplayName, &role.Description,
		&role.Level, &role.IsSystem, &role.IsActive, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, fmt.Errorf("%w: role %v", ErrNotFound, arg)
	}
	if err != nil {
		return Role{}, err
	}
	grants, err := r.loadGrants(ctx, []int64{role.ID})
	if err != nil {
		return Role{}, err
	}
	role.Grants = grants[role.ID]
	return role, nil
}

// ListRoles returns all roles with grants, ordered by level then name.
func (r *PGRepository) ListRoles(ctx context.Context) ([]Role, error) {
	return r.queryRoles(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY level, name`)
}

func (r *PGRepository) queryRoles(ctx context.Context, sql string, args ...any) ([]Role, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	var ids []int64
	for rows.Next() {
		var role Role
		if err := rows.Scan(
			&role.ID, &role.Name, &role.DisplayName, &role.Description,
			&role.Level, &role.IsSystem, &role.IsActive, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
		ids = append(ids, role.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	grants, err := r.loadGrants(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range roles {
		roles[i].Grants = grants[roles[i].ID]
	}
	return roles, nil
}

func (r *PGRepository) loadGrants(ctx context.Context, roleIDs []int64) (map[int64][]Grant, error) {
	out := make(map[int64][]Grant, len(roleIDs))
	if len(roleIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT role_id, pattern FROM role_grants WHERE role_id = ANY($1) ORDER BY pattern`, roleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var roleID int64
		var pattern string
		if err := rows.Scan(&roleID, &pattern); err != nil {
			return nil, err
		}
		grant, err := ParseGrant(pattern)
		if err != nil {
			return nil, fmt.Errorf("authz: stored grant %q for role %d: %w", pattern, roleID, err)
		}
		out[roleID] = append(out[roleID], grant)
	}
	return out, rows.Err()
}

// UpdateRole persists metadata and flag changes.
func (r *PGRepository) UpdateRole(ctx context.Context, role Role) (Role, error) {
	err := r.db.QueryRow(ctx, `
		UPDATE roles
		SET display_name = $2, description = $3, level = $4, is_active = $5, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`,
		role.ID, role.DisplayName, role.Description, role.Level, role.IsActive,
	).Scan(&role.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, fmt.Errorf("%w: role %d", ErrNotFound, role.ID)
	}
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

// DeleteRole removes a role and its grants.
func (r *PGRepository) DeleteRole(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: role %d", ErrNotFound, id)
	}
	return nil
}

// AddGrant attaches a pattern to a role; re-adding is a no-op.
func (r *PGRepository) AddGrant(ctx context.Context, roleID int64, grant Grant) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO role_grants (role_id, pattern) VALUES ($1, $2)
		ON CONFLICT (role_id, pattern) DO NOTHING`,
		roleID, grant.String())
	return err
}

// RemoveGrant detaches a pattern from a role.
func (r *PGRepository) RemoveGrant(ctx context.Context, roleID int64, grant Grant) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM role_grants WHERE role_id = $1 AND pattern = $2`, roleID, grant.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: grant %s on role %d", ErrNotFound, grant, roleID)
	}
	return nil
}

// CountAssignmentsForRole counts references to a role.
func (r *PGRepository) CountAssignmentsForRole(ctx context.Context, roleID int64) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM user_role_assignments WHERE role_id = $1`, roleID).Scan(&count)
	return count, err
}

// CreateAssignment inserts an assignment; duplicate tuples map to
// ErrConflict. The unique index treats NULL scope columns as equal so
// two unscoped grants of the same role collide.
func (r *PGRepository) CreateAssignment(ctx context.Context, a Assignment) (Assignment, error) {
	err := r.db.QueryRow(ctx, `
		INSERT INTO user_role_assignments (user_id, role_id, institution_id, department_id, assigned_by, valid_until)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		a.UserID, a.RoleID, a.InstitutionID, a.DepartmentID, a.AssignedBy, a.ValidUntil,
	).Scan(&a.ID, &a.CreatedAt)
	if isUniqueViolation(err) {
		return Assignment{}, fmt.Errorf("%w: user %d already holds role %d in this scope", ErrConflict, a.UserID, a.RoleID)
	}
	if err != nil {
		return Assignment{}, err
	}
	return a, nil
}

const assignmentColumns = `id, user_id, role_id, institution_id, department_id, assigned_by, valid_until, created_at`

// GetAssignment fetches one assignment.
func (r *PGRepository) GetAssignment(ctx context.Context, id int64) (Assignment, error) {
	var a Assignment
	err := r.db.QueryRow(ctx,
		`SELECT `+assignmentColumns+` FROM user_role_assignments WHERE id = $1`, id,
	).Scan(&a.ID, &a.UserID, &a.RoleID, &a.InstitutionID, &a.DepartmentID, &a.AssignedBy, &a.ValidUntil, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Assignment{}, fmt.Errorf("%w: assignment %d", ErrNotFound, id)
	}
	if err != nil {
		return Assignment{}, err
	}
	return a, nil
}

// DeleteAssignment hard-deletes an assignment.
func (r *PGRepository) DeleteAssignment(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM user_role_assignments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: assignment %d", ErrNotFound, id)
	}
	return nil
}

// AssignmentsForUser returns every assignment, expired included.
func (r *PGRepository) AssignmentsForUser(ctx context.Context, userID int64) ([]Assignment, error) {
	return r.queryAssignments(ctx,
		`SELECT `+assignmentColumns+` FROM user_role_assignments WHERE user_id = $1 ORDER BY id`, userID)
}

// ActiveAssignmentsForUser filters on role activity and validity.
func (r *PGRepository) ActiveAssignmentsForUser(ctx context.Context, userID int64, asOf time.Time) ([]Assignment, error) {
	return r.queryAssignments(ctx, `
		SELECT a.id, a.user_id, a.role_id, a.institution_id, a.department_id, a.assigned_by, a.valid_until, a.created_at
		FROM user_role_assignments a
		JOIN roles r ON r.id = a.role_id AND r.is_active
		WHERE a.user_id = $1 AND (a.valid_until IS NULL OR a.valid_until >= $2)
		ORDER BY a.id`, userID, asOf)
}

func (r *PGRepository) queryAssignments(ctx context.Context, sql string, args ...any) ([]Assignment, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.ID, &a.UserID, &a.RoleID, &a.InstitutionID, &a.DepartmentID, &a.AssignedBy, &a.ValidUntil, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ActiveRolesForUser returns the distinct active roles behind the
// user's live assignments, grants included.
func (r *PGRepository) ActiveRolesForUser(ctx context.Context, userID int64, asOf time.Time) ([]Role, error) {
	return r.queryRoles(ctx, `
		SELECT DISTINCT r.id, r.name, r.display_name, r.description, r.level, r.is_system, r.is_active, r.created_at, r.updated_at
		FROM roles r
		JOIN user_role_assignments a ON a.role_id = r.id
		WHERE a.user_id = $1 AND r.is_active AND (a.valid_until IS NULL OR a.valid_until >= $2)
		ORDER BY r.id`, userID, asOf)
}

// UserExists reports whether the user account is present.
func (r *PGRepository) UserExists(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	return exists, err
}
