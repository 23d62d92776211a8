package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lyceum-lms/lyceum-lms/internal/authz"
)

// Event is one recorded authorization mutation.
type Event struct {
	ID       uuid.UUID
	ActorID  int64
	Action   string
	Entity   string
	EntityID int64
	Detail   string
	At       time.Time
}

// Filters narrow the timeline query.
type Filters struct {
	ActorID int64
	Entity  string
	From    time.Time
	To      time.Time
	Limit   int
}

// RepositoryPort persists audit events.
type RepositoryPort interface {
	InsertEvent(ctx context.Context, e Event) error
	ListEvents(ctx context.Context, f Filters) ([]Event, error)
}

// Service records and queries the authorization audit trail.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// RecordMutation implements authz.Auditor. Recording never fails the
// mutation it describes; persistence errors are logged and dropped.
func (s *Service) RecordMutation(ctx context.Context, e authz.MutationEvent) {
	event := Event{
		ID:       uuid.New(),
		ActorID:  e.ActorID,
		Action:   e.Action,
		Entity:   e.Entity,
		EntityID: e.EntityID,
		Detail:   e.Detail,
		At:       time.Now(),
	}
	if err := s.repo.InsertEvent(ctx, event); err != nil && s.logger != nil {
		s.logger.Error("record audit event",
			slog.String("action", e.Action),
			slog.String("entity", e.Entity),
			slog.Any("error", err))
	}
}

// Timeline returns matching events, newest first.
func (s *Service) Timeline(ctx context.Context, f Filters) ([]Event, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	return s.repo.ListEvents(ctx, f)
}
