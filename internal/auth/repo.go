package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lyceum-lms/lyceum-lms/internal/shared"
)

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CreateToken persists a token digest.
func (r *PGRepository) CreateToken(ctx context.Context, t Token) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO api_tokens (digest, user_id, expires_at) VALUES ($1, $2, $3)`,
		t.Digest, t.UserID, t.ExpiresAt)
	return err
}

// FindToken fetches a token by digest.
func (r *PGRepository) FindToken(ctx context.Context, digest string) (Token, error) {
	var t Token
	err := r.pool.QueryRow(ctx, `
		SELECT digest, user_id, expires_at, created_at FROM api_tokens WHERE digest = $1`,
		digest,
	).Scan(&t.Digest, &t.UserID, &t.ExpiresAt, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Token{}, shared.ErrNotFound
	}
	if err != nil {
		return Token{}, err
	}
	return t, nil
}

// DeleteToken removes a token record.
func (r *PGRepository) DeleteToken(ctx context.Context, digest string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM api_tokens WHERE digest = $1`, digest)
	return err
}

// DeleteExpiredTokens removes tokens past their lifetime.
func (r *PGRepository) DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM api_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
