package audit

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lyceum-lms/lyceum-lms/internal/authz"
)

type memoryAuditRepo struct {
	events    []Event
	insertErr error
	lastQuery Filters
}

func (r *memoryAuditRepo) InsertEvent(ctx context.Context, e Event) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	r.events = append(r.events, e)
	return nil
}

func (r *memoryAuditRepo) ListEvents(ctx context.Context, f Filters) ([]Event, error) {
	r.lastQuery = f
	var out []Event
	for _, e := range r.events {
		if f.ActorID != 0 && e.ActorID != f.ActorID {
			continue
		}
		if f.Entity != "" && e.Entity != f.Entity {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func TestRecordMutation(t *testing.T) {
	ctx := context.Background()
	repo := &memoryAuditRepo{}
	service := NewService(repo, slog.Default())

	service.RecordMutation(ctx, authz.MutationEvent{ActorID: 1, Action: "assign", Entity: "assignment", EntityID: 9, Detail: "role 2 to user 3"})

	require.Len(t, repo.events, 1)
	e := repo.events[0]
	require.NotEqual(t, uuid.Nil, e.ID)
	require.Equal(t, int64(1), e.ActorID)
	require.Equal(t, "assign", e.Action)
	require.False(t, e.At.IsZero())
}

func TestRecordMutationSwallowsPersistenceErrors(t *testing.T) {
	ctx := context.Background()
	repo := &memoryAuditRepo{insertErr: errors.New("db down")}
	service := NewService(repo, slog.Default())

	require.NotPanics(t, func() {
		service.RecordMutation(ctx, authz.MutationEvent{ActorID: 1, Action: "assign", Entity: "assignment"})
	})
	require.Empty(t, repo.events)
}

func TestTimelineClampsLimit(t *testing.T) {
	ctx := context.Background()
	repo := &memoryAuditRepo{}
	service := NewService(repo, slog.Default())

	_, err := service.Timeline(ctx, Filters{})
	require.NoError(t, err)
	require.Equal(t, 100, repo.lastQuery.Limit)

	_, err = service.Timeline(ctx, Filters{Limit: 9999})
	require.NoError(t, err)
	require.Equal(t, 100, repo.lastQuery.Limit)

	_, err = service.Timeline(ctx, Filters{Limit: 25})
	require.NoError(t, err)
	require.Equal(t, 25, repo.lastQuery.Limit)
}

func TestTimelineFilters(t *testing.T) {
	ctx := context.Background()
	repo := &memoryAuditRepo{}
	service := NewService(repo, slog.Default())

	service.RecordMutation(ctx, authz.MutationEvent{ActorID: 1, Action: "assign", Entity: "assignment"})
	service.RecordMutation(ctx, authz.MutationEvent{ActorID: 2, Action: "create", Entity: "role"})

	events, err := service.Timeline(ctx, Filters{ActorID: 2})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "role", events[0].Entity)
}
