package authz

import (
	"context"
	"fmt"
	"time"
)

// Assignments is the role-assignment store. It enforces uniqueness and
// referential validity only; authority checks belong to the Hierarchy
// Guard and must happen before these mutators are reached.
type Assignments struct {
	repo Repository
}

// NewAssignments constructs an Assignments store.
func NewAssignments(repo Repository) *Assignments {
	return &Assignments{repo: repo}
}

// AssignParams describes a new user-role binding.
type AssignParams struct {
	UserID        int64
	RoleID        int64
	InstitutionID *int64
	DepartmentID  *int64
	AssignedBy    int64
	ValidUntil    *time.Time
}

// Assign binds a user to a role. Duplicate (user, role, institution,
// department) tuples fail with ErrConflict; unknown user or role fails
// with ErrNotFound.
func (a *Assignments) Assign(ctx context.Context, p AssignParams) (Assignment, error) {
	if p.UserID == 0 || p.RoleID == 0 {
		return Assignment{}, fmt.Errorf("%w: user and role required", ErrValidation)
	}
	return a.assign(ctx, a.repo, p)
}

func (a *Assignments) assign(ctx context.Context, repo Repository, p AssignParams) (Assignment, error) {
	exists, err := repo.UserExists(ctx, p.UserID)
	if err != nil {
		return Assignment{}, fmt.Errorf("authz: assign role %d to user %d: %w", p.RoleID, p.UserID, err)
	}
	if !exists {
		return Assignment{}, fmt.Errorf("%w: user %d", ErrNotFound, p.UserID)
	}
	if _, err := repo.GetRole(ctx, p.RoleID); err != nil {
		return Assignment{}, fmt.Errorf("authz: assign role %d to user %d: %w", p.RoleID, p.UserID, err)
	}
	created, err := repo.CreateAssignment(ctx, Assignment{
		UserID:        p.UserID,
		RoleID:        p.RoleID,
		InstitutionID: p.InstitutionID,
		DepartmentID:  p.DepartmentID,
		AssignedBy:    p.AssignedBy,
		ValidUntil:    p.ValidUntil,
	})
	if err != nil {
		return Assignment{}, fmt.Errorf("authz: assign role %d to user %d: %w", p.RoleID, p.UserID, err)
	}
	return created, nil
}

// Revoke hard-deletes an assignment.
func (a *Assignments) Revoke(ctx context.Context, assignmentID int64) error {
	if err := a.repo.DeleteAssignment(ctx, assignmentID); err != nil {
		return fmt.Errorf("authz: revoke assignment %d: %w", assignmentID, err)
	}
	return nil
}

// Get fetches one assignment by ID.
func (a *Assignments) Get(ctx context.Context, assignmentID int64) (Assignment, error) {
	return a.repo.GetAssignment(ctx, assignmentID)
}

// ActiveFor returns the assignments contributing permissions at asOf:
// role active, validity window open.
func (a *Assignments) ActiveFor(ctx context.Context, userID int64, asOf time.Time) ([]Assignment, error) {
	return a.repo.ActiveAssignmentsForUser(ctx, userID, asOf)
}

// AllFor returns every assignment for a user, expired and inactive
// included, for audit and display.
func (a *Assignments) AllFor(ctx context.Context, userID int64) ([]Assignment, error) {
	return a.repo.AssignmentsForUser(ctx, userID)
}
