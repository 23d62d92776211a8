package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/lyceum-lms/lyceum-lms/internal/authz"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	CreateUser(ctx context.Context, user User) (User, error)
	SetActive(ctx context.Context, id int64, active bool) error
}

// Service handles user account business logic. New accounts get the
// baseline role automatically; that default grant is system behavior,
// not an administrative act, so it does not pass the hierarchy guard.
type Service struct {
	repo        RepositoryPort
	registry    *authz.Registry
	assignments *authz.Assignments
	logger      *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, registry *authz.Registry, assignments *authz.Assignments, logger *slog.Logger) *Service {
	return &Service{repo: repo, registry: registry, assignments: assignments, logger: logger}
}

// CreateParams describes a new account.
type CreateParams struct {
	Email     string
	Name      string
	Password  string
	CreatedBy int64
}

// Create inserts an account and auto-assigns the default role.
func (s *Service) Create(ctx context.Context, p CreateParams) (User, error) {
	email := strings.TrimSpace(strings.ToLower(p.Email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: valid email required", authz.ErrValidation)
	}
	if len(p.Password) < 8 {
		return User{}, fmt.Errorf("%w: password must be at least 8 characters", authz.ErrValidation)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(p.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("users: hash password: %w", err)
	}
	user, err := s.repo.CreateUser(ctx, User{
		Email:        email,
		Name:         strings.TrimSpace(p.Name),
		PasswordHash: string(hash),
		IsActive:     true,
	})
	if err != nil {
		return User{}, fmt.Errorf("users: create %s: %w", email, err)
	}

	role, err := s.registry.GetRoleByName(ctx, authz.DefaultRoleName)
	if err != nil {
		// Account creation stands even when provisioning has not run;
		// the user simply starts without a role.
		s.logger.Warn("default role missing", slog.Any("error", err))
		return user, nil
	}
	assignedBy := p.CreatedBy
	if assignedBy == 0 {
		assignedBy = user.ID
	}
	_, err = s.assignments.Assign(ctx, authz.AssignParams{
		UserID:     user.ID,
		RoleID:     role.ID,
		AssignedBy: assignedBy,
	})
	if err != nil && !errors.Is(err, authz.ErrConflict) {
		s.logger.Error("assign default role", slog.Int64("user", user.ID), slog.Any("error", err))
	}
	return user, nil
}

// Get fetches one account.
func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	return s.repo.GetUser(ctx, id)
}

// List returns all accounts.
func (s *Service) List(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// SetActive toggles an account.
func (s *Service) SetActive(ctx context.Context, id int64, active bool) error {
	return s.repo.SetActive(ctx, id, active)
}
