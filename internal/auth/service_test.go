package auth

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/lyceum-lms/lyceum-lms/internal/shared"
	"github.com/lyceum-lms/lyceum-lms/internal/users"
)

type memoryTokenRepo struct {
	tokens map[string]Token
}

func newMemoryTokenRepo() *memoryTokenRepo {
	return &memoryTokenRepo{tokens: make(map[string]Token)}
}

func (r *memoryTokenRepo) CreateToken(ctx context.Context, t Token) error {
	r.tokens[t.Digest] = t
	return nil
}

func (r *memoryTokenRepo) FindToken(ctx context.Context, digest string) (Token, error) {
	t, ok := r.tokens[digest]
	if !ok {
		return Token{}, fmt.Errorf("token not found")
	}
	return t, nil
}

func (r *memoryTokenRepo) DeleteToken(ctx context.Context, digest string) error {
	delete(r.tokens, digest)
	return nil
}

func (r *memoryTokenRepo) DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	for digest, t := range r.tokens {
		if t.ExpiresAt.Before(before) {
			delete(r.tokens, digest)
			n++
		}
	}
	return n, nil
}

type stubUserLookup struct {
	user users.User
	err  error
}

func (s stubUserLookup) FindByEmail(ctx context.Context, email string) (users.User, error) {
	if s.err != nil {
		return users.User{}, s.err
	}
	return s.user, nil
}

func activeUser(t *testing.T, password string) users.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return users.User{ID: 7, Email: "ada@example.com", PasswordHash: string(hash), IsActive: true}
}

func TestAuthenticateAndResolve(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryTokenRepo()
	service := NewService(repo, stubUserLookup{user: activeUser(t, "correct horse")}, time.Hour)

	token, expiresAt, err := service.Authenticate(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.True(t, expiresAt.After(time.Now()))
	require.NotContains(t, repo.tokens, token, "only the digest is persisted")

	userID, err := service.Resolve(ctx, token)
	require.NoError(t, err)
	require.Equal(t, int64(7), userID)
}

func TestAuthenticateRejectsBadCredentials(t *testing.T) {
	ctx := context.Background()
	service := NewService(newMemoryTokenRepo(), stubUserLookup{user: activeUser(t, "correct horse")}, time.Hour)

	_, _, err := service.Authenticate(ctx, "ada@example.com", "wrong password")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	missing := NewService(newMemoryTokenRepo(), stubUserLookup{err: shared.ErrNotFound}, time.Hour)
	_, _, err = missing.Authenticate(ctx, "ghost@example.com", "whatever")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestAuthenticateRejectsInactiveAccount(t *testing.T) {
	ctx := context.Background()
	user := activeUser(t, "correct horse")
	user.IsActive = false
	service := NewService(newMemoryTokenRepo(), stubUserLookup{user: user}, time.Hour)

	_, _, err := service.Authenticate(ctx, "ada@example.com", "correct horse")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestResolveExpiredToken(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryTokenRepo()
	service := NewService(repo, stubUserLookup{user: activeUser(t, "correct horse")}, time.Nanosecond)

	token, _, err := service.Authenticate(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	_, err = service.Resolve(ctx, token)
	require.ErrorIs(t, err, shared.ErrTokenExpired)
}

func TestRevokeEndsSession(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryTokenRepo()
	service := NewService(repo, stubUserLookup{user: activeUser(t, "correct horse")}, time.Hour)

	token, _, err := service.Authenticate(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)
	require.NoError(t, service.Revoke(ctx, token))

	_, err = service.Resolve(ctx, token)
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestPurgeExpired(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryTokenRepo()
	service := NewService(repo, stubUserLookup{user: activeUser(t, "correct horse")}, time.Hour)

	repo.tokens["stale"] = Token{Digest: "stale", UserID: 1, ExpiresAt: time.Now().Add(-time.Hour)}
	_, _, err := service.Authenticate(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)

	n, err := service.PurgeExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.Len(t, repo.tokens, 1)
}
