package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lyceum-lms/lyceum-lms/internal/auth"
	"github.com/lyceum-lms/lyceum-lms/internal/authz"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAssignmentPurge removes role assignments whose validity
	// lapsed longer than the retention window ago. Expiry itself is
	// evaluated lazily at query time; this is storage housekeeping.
	TaskAssignmentPurge = "authz:purge_assignments"
	// TaskTokenPurge removes expired API tokens.
	TaskTokenPurge = "auth:purge_tokens"
	// TaskPermissionWarmup primes the permission cache for users with
	// recent assignments.
	TaskPermissionWarmup = "authz:warmup_permissions"
)

// AssignmentPurgePayload configures the purge window.
type AssignmentPurgePayload struct {
	Retention time.Duration `json:"retention"`
}

// NewAssignmentPurgeTask constructs an Asynq task.
func NewAssignmentPurgeTask(payload AssignmentPurgePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAssignmentPurge, data), nil
}

// NewAssignmentPurgeHandler processes TaskAssignmentPurge tasks.
func NewAssignmentPurgeHandler(pool *pgxpool.Pool, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload AssignmentPurgePayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.Retention <= 0 {
			payload.Retention = 90 * 24 * time.Hour
		}
		cutoff := time.Now().Add(-payload.Retention)
		tag, err := pool.Exec(ctx,
			`DELETE FROM user_role_assignments WHERE valid_until IS NOT NULL AND valid_until < $1`, cutoff)
		if err != nil {
			return err
		}
		if n := tag.RowsAffected(); n > 0 {
			logger.Info("purged lapsed assignments", slog.Int64("count", n))
		}
		return nil
	}
}

// NewTokenPurgeTask constructs an Asynq task.
func NewTokenPurgeTask() *asynq.Task {
	return asynq.NewTask(TaskTokenPurge, nil)
}

// NewTokenPurgeHandler processes TaskTokenPurge tasks.
func NewTokenPurgeHandler(service *auth.Service, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		n, err := service.PurgeExpired(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info("purged expired tokens", slog.Int64("count", n))
		}
		return nil
	}
}

// PermissionWarmupPayload caps how many users get primed per run.
type PermissionWarmupPayload struct {
	Limit int `json:"limit"`
}

// NewPermissionWarmupTask constructs an Asynq task.
func NewPermissionWarmupTask(payload PermissionWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPermissionWarmup, data), nil
}

// NewPermissionWarmupHandler primes the permission cache for the users
// with the most recent assignment activity.
func NewPermissionWarmupHandler(pool *pgxpool.Pool, cache *authz.PermissionCache, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload PermissionWarmupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.Limit <= 0 || payload.Limit > 10000 {
			payload.Limit = 500
		}
		rows, err := pool.Query(ctx, `
			SELECT DISTINCT user_id FROM user_role_assignments
			ORDER BY user_id DESC LIMIT $1`, payload.Limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		var userIDs []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			userIDs = append(userIDs, id)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		for _, id := range userIDs {
			if _, err := cache.EffectivePermissions(ctx, id); err != nil {
				logger.Warn("permission warmup", slog.Int64("user", id), slog.Any("error", err))
			}
		}
		return nil
	}
}
