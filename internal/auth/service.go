package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/lyceum-lms/lyceum-lms/internal/shared"
	"github.com/lyceum-lms/lyceum-lms/internal/users"
)

// Repository defines persistence operations for the auth module.
type Repository interface {
	CreateToken(ctx context.Context, t Token) error
	FindToken(ctx context.Context, digest string) (Token, error)
	DeleteToken(ctx context.Context, digest string) error
	DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error)
}

// UserLookup is the slice of the users module auth depends on.
type UserLookup interface {
	FindByEmail(ctx context.Context, email string) (users.User, error)
}

// Service wraps authentication business rules.
type Service struct {
	repo  Repository
	users UserLookup
	ttl   time.Duration
}

// NewService constructs a new Service.
func NewService(repo Repository, users UserLookup, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{repo: repo, users: users, ttl: ttl}
}

// Authenticate validates email/password credentials and issues a token.
// The plaintext token is returned to the caller exactly once.
func (s *Service) Authenticate(ctx context.Context, email, password string) (string, time.Time, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return "", time.Time{}, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return "", time.Time{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", time.Time{}, shared.ErrInvalidCredentials
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", time.Time{}, fmt.Errorf("auth: generate token: %w", err)
	}
	plaintext := hex.EncodeToString(raw)
	expiresAt := time.Now().Add(s.ttl)
	if err := s.repo.CreateToken(ctx, Token{
		Digest:    digest(plaintext),
		UserID:    user.ID,
		ExpiresAt: expiresAt,
	}); err != nil {
		return "", time.Time{}, fmt.Errorf("auth: store token: %w", err)
	}
	return plaintext, expiresAt, nil
}

// Resolve maps a presented token to a user ID.
func (s *Service) Resolve(ctx context.Context, plaintext string) (int64, error) {
	token, err := s.repo.FindToken(ctx, digest(plaintext))
	if err != nil {
		return 0, shared.ErrInvalidCredentials
	}
	if time.Now().After(token.ExpiresAt) {
		return 0, shared.ErrTokenExpired
	}
	return token.UserID, nil
}

// Revoke deletes a token, ending its session.
func (s *Service) Revoke(ctx context.Context, plaintext string) error {
	return s.repo.DeleteToken(ctx, digest(plaintext))
}

// PurgeExpired removes tokens past their lifetime.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpiredTokens(ctx, time.Now())
}

func digest(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
