package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertEvent appends one event.
func (r *Repository) InsertEvent(ctx context.Context, e Event) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_events (id, actor_id, action, entity, entity_id, detail, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.ActorID, e.Action, e.Entity, e.EntityID, e.Detail, e.At)
	return err
}

// ListEvents returns matching events, newest first.
func (r *Repository) ListEvents(ctx context.Context, f Filters) ([]Event, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.ActorID != 0 {
		conds = append(conds, "actor_id = "+arg(f.ActorID))
	}
	if f.Entity != "" {
		conds = append(conds, "entity = "+arg(f.Entity))
	}
	if !f.From.IsZero() {
		conds = append(conds, "at >= "+arg(f.From))
	}
	if !f.To.IsZero() {
		conds = append(conds, "at <= "+arg(f.To))
	}
	sql := `SELECT id, actor_id, action, entity, entity_id, detail, at FROM audit_events`
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	sql += " ORDER BY at DESC LIMIT " + arg(f.Limit)

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.Entity, &e.EntityID, &e.Detail, &e.At); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
