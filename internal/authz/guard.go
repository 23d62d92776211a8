package authz

import (
	"context"
	"fmt"
	"time"
)

// Meta-permission gating role and catalog mutation, independent of the
// level comparison.
const (
	ResourceSystem       = "system"
	ActionManageSettings = "manage_settings"
)

// MutationEvent describes a guarded mutation for the audit trail.
type MutationEvent struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID int64
	Detail   string
}

// Auditor receives guarded-mutation events. Implementations must not
// fail the mutation; recording is best-effort.
type Auditor interface {
	RecordMutation(ctx context.Context, e MutationEvent)
}

// Guard enforces the level hierarchy: a principal may only grant,
// modify, or revoke at a level numerically >= their own strongest role
// (lower number = more authority). It is stateless; every check is
// computed fresh against current assignment data, and each guarded
// mutation re-runs its check inside the same transaction as the write.
type Guard struct {
	repo    Repository
	auditor Auditor
}

// NewGuard constructs a Guard. The auditor may be nil.
func NewGuard(repo Repository, auditor Auditor) *Guard {
	return &Guard{repo: repo, auditor: auditor}
}

func (g *Guard) services(repo Repository) (*Registry, *Engine, *Assignments) {
	catalog := NewCatalog(repo)
	registry := NewRegistry(repo, catalog)
	engine := NewEngine(repo, registry, nil)
	return registry, engine, NewAssignments(repo)
}

// CanAssign reports whether the actor may grant the target role:
// true iff the role's level is at or below the actor's authority.
func (g *Guard) CanAssign(ctx context.Context, actorID int64, target Role) (bool, error) {
	return g.canActAtLevel(ctx, g.repo, actorID, target.Level)
}

// CanRevoke applies the same level rule to an existing assignment.
func (g *Guard) CanRevoke(ctx context.Context, actorID int64, existing Assignment) (bool, error) {
	role, err := g.repo.GetRole(ctx, existing.RoleID)
	if err != nil {
		return false, fmt.Errorf("authz: guard revoke check: %w", err)
	}
	return g.canActAtLevel(ctx, g.repo, actorID, role.Level)
}

// CanMutateRolePermissions reports whether the actor holds the
// (system, manage_settings) meta-permission.
func (g *Guard) CanMutateRolePermissions(ctx context.Context, actorID int64) (bool, error) {
	_, engine, _ := g.services(g.repo)
	return engine.Authorize(ctx, actorID, ResourceSystem, ActionManageSettings)
}

func (g *Guard) canActAtLevel(ctx context.Context, repo Repository, actorID int64, targetLevel int) (bool, error) {
	_, engine, _ := g.services(repo)
	actorLevel, err := engine.HighestAuthorityLevel(ctx, actorID, time.Now())
	if err != nil {
		return false, err
	}
	// A role can be granted by an equal or stronger authority; a user
	// with no active roles (LevelNone) outranks nothing.
	return !IsMoreAuthoritativeThan(targetLevel, actorLevel), nil
}

// AssignRole runs the hierarchy check and the assignment write in one
// transaction, so the actor's authority cannot change between the two.
func (g *Guard) AssignRole(ctx context.Context, actorID int64, p AssignParams) (Assignment, error) {
	var created Assignment
	err := g.repo.WithTx(ctx, func(tx Repository) error {
		target, err := tx.GetRole(ctx, p.RoleID)
		if err != nil {
			return fmt.Errorf("authz: assign role: %w", err)
		}
		ok, err := g.canActAtLevel(ctx, tx, actorID, target.Level)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: level %d role %s exceeds actor %d authority", ErrForbidden, target.Level, target.Name, actorID)
		}
		p.AssignedBy = actorID
		_, _, assignments := g.services(tx)
		created, err = assignments.assign(ctx, tx, p)
		return err
	})
	if err != nil {
		return Assignment{}, err
	}
	g.audit(ctx, MutationEvent{ActorID: actorID, Action: "assign", Entity: "assignment", EntityID: created.ID,
		Detail: fmt.Sprintf("role %d to user %d", p.RoleID, p.UserID)})
	return created, nil
}

// RevokeAssignment checks and deletes atomically.
func (g *Guard) RevokeAssignment(ctx context.Context, actorID int64, assignmentID int64) error {
	var revoked Assignment
	err := g.repo.WithTx(ctx, func(tx Repository) error {
		existing, err := tx.GetAssignment(ctx, assignmentID)
		if err != nil {
			return fmt.Errorf("authz: revoke assignment: %w", err)
		}
		role, err := tx.GetRole(ctx, existing.RoleID)
		if err != nil {
			return fmt.Errorf("authz: revoke assignment: %w", err)
		}
		ok, err := g.canActAtLevel(ctx, tx, actorID, role.Level)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: level %d role %s exceeds actor %d authority", ErrForbidden, role.Level, role.Name, actorID)
		}
		revoked = existing
		return tx.DeleteAssignment(ctx, assignmentID)
	})
	if err != nil {
		return err
	}
	g.audit(ctx, MutationEvent{ActorID: actorID, Action: "revoke", Entity: "assignment", EntityID: assignmentID,
		Detail: fmt.Sprintf("role %d from user %d", revoked.RoleID, revoked.UserID)})
	return nil
}

// CreateRole gates role creation on the meta-permission and forbids
// creating a role stronger than the actor.
func (g *Guard) CreateRole(ctx context.Context, actorID int64, p CreateRoleParams) (Role, error) {
	var created Role
	err := g.withMutationRights(ctx, actorID, func(tx Repository, registry *Registry) error {
		ok, err := g.canActAtLevel(ctx, tx, actorID, p.Level)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: cannot create role at level %d above own authority", ErrForbidden, p.Level)
		}
		created, err = registry.CreateRole(ctx, p)
		return err
	})
	if err != nil {
		return Role{}, err
	}
	g.audit(ctx, MutationEvent{ActorID: actorID, Action: "create", Entity: "role", EntityID: created.ID, Detail: created.Name})
	return created, nil
}

// UpdateRole gates metadata edits on the meta-permission.
func (g *Guard) UpdateRole(ctx context.Context, actorID int64, roleID int64, p UpdateMetadataParams) (Role, error) {
	var updated Role
	err := g.withMutationRights(ctx, actorID, func(tx Repository, registry *Registry) error {
		var err error
		updated, err = registry.UpdateMetadata(ctx, roleID, p)
		return err
	})
	if err != nil {
		return Role{}, err
	}
	g.audit(ctx, MutationEvent{ActorID: actorID, Action: "update", Entity: "role", EntityID: roleID, Detail: updated.Name})
	return updated, nil
}

// SetRoleActive gates activation toggles on the meta-permission.
func (g *Guard) SetRoleActive(ctx context.Context, actorID int64, roleID int64, active bool) error {
	err := g.withMutationRights(ctx, actorID, func(tx Repository, registry *Registry) error {
		return registry.SetActive(ctx, roleID, active)
	})
	if err != nil {
		return err
	}
	g.audit(ctx, MutationEvent{ActorID: actorID, Action: "set_active", Entity: "role", EntityID: roleID,
		Detail: fmt.Sprintf("active=%t", active)})
	return nil
}

// DeleteRole gates deletion on the meta-permission; the registry still
// rejects system roles and roles with live assignments.
func (g *Guard) DeleteRole(ctx context.Context, actorID int64, roleID int64) error {
	err := g.withMutationRights(ctx, actorID, func(tx Repository, registry *Registry) error {
		return registry.DeleteRole(ctx, roleID)
	})
	if err != nil {
		return err
	}
	g.audit(ctx, MutationEvent{ActorID: actorID, Action: "delete", Entity: "role", EntityID: roleID})
	return nil
}

// GrantPermission gates pattern grants on the meta-permission.
func (g *Guard) GrantPermission(ctx context.Context, actorID int64, roleID int64, pattern string) error {
	err := g.withMutationRights(ctx, actorID, func(tx Repository, registry *Registry) error {
		return registry.Grant(ctx, roleID, pattern)
	})
	if err != nil {
		return err
	}
	g.audit(ctx, MutationEvent{ActorID: actorID, Action: "grant", Entity: "role", EntityID: roleID, Detail: pattern})
	return nil
}

// RevokePermission gates pattern revocations on the meta-permission.
func (g *Guard) RevokePermission(ctx context.Context, actorID int64, roleID int64, pattern string) error {
	err := g.withMutationRights(ctx, actorID, func(tx Repository, registry *Registry) error {
		return registry.Revoke(ctx, roleID, pattern)
	})
	if err != nil {
		return err
	}
	g.audit(ctx, MutationEvent{ActorID: actorID, Action: "revoke_grant", Entity: "role", EntityID: roleID, Detail: pattern})
	return nil
}

// RegisterPermission gates catalog growth on the meta-permission.
func (g *Guard) RegisterPermission(ctx context.Context, actorID int64, resource, action, description string) (Permission, error) {
	var perm Permission
	err := g.withMutationRights(ctx, actorID, func(tx Repository, _ *Registry) error {
		var err error
		perm, err = NewCatalog(tx).Register(ctx, resource, action, description)
		return err
	})
	if err != nil {
		return Permission{}, err
	}
	g.audit(ctx, MutationEvent{ActorID: actorID, Action: "register", Entity: "permission", EntityID: perm.ID, Detail: perm.Key()})
	return perm, nil
}

func (g *Guard) withMutationRights(ctx context.Context, actorID int64, fn func(Repository, *Registry) error) error {
	return g.repo.WithTx(ctx, func(tx Repository) error {
		registry, engine, _ := g.services(tx)
		ok, err := engine.Authorize(ctx, actorID, ResourceSystem, ActionManageSettings)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: actor %d lacks %s:%s", ErrForbidden, actorID, ResourceSystem, ActionManageSettings)
		}
		return fn(tx, registry)
	})
}

func (g *Guard) audit(ctx context.Context, e MutationEvent) {
	if g.auditor != nil {
		g.auditor.RecordMutation(ctx, e)
	}
}
