package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lyceum-lms/lyceum-lms/internal/authz"
	"github.com/lyceum-lms/lyceum-lms/internal/platform/httpx"
)

// Handler exposes the audit timeline.
type Handler struct {
	logger  *slog.Logger
	service *Service
	mw      authz.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, mw authz.Middleware) *Handler {
	return &Handler{logger: logger, service: service, mw: mw}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.mw.RequireAny("system:view_audit")).Get("/", h.timeline)
}

type eventResponse struct {
	ID       uuid.UUID `json:"id"`
	ActorID  int64     `json:"actor_id"`
	Action   string    `json:"action"`
	Entity   string    `json:"entity"`
	EntityID int64     `json:"entity_id"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	f := Filters{Entity: r.URL.Query().Get("entity")}
	if raw := r.URL.Query().Get("actor_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			f.ActorID = id
		}
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			f.From = t
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			f.To = t
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			f.Limit = n
		}
	}
	events, err := h.service.Timeline(r.Context(), f)
	if err != nil {
		h.logger.Error("audit timeline", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse{
			ID: e.ID, ActorID: e.ActorID, Action: e.Action,
			Entity: e.Entity, EntityID: e.EntityID, Detail: e.Detail, At: e.At,
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}
