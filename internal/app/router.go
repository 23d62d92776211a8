package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/lyceum-lms/lyceum-lms/internal/audit"
	"github.com/lyceum-lms/lyceum-lms/internal/auth"
	"github.com/lyceum-lms/lyceum-lms/internal/authz"
	"github.com/lyceum-lms/lyceum-lms/internal/observability"
	"github.com/lyceum-lms/lyceum-lms/internal/users"
	"github.com/lyceum-lms/lyceum-lms/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger       *slog.Logger
	Config       *Config
	AuthService  *auth.Service
	AuthHandler  *auth.Handler
	AuthzHandler *authz.Handler
	UsersHandler *users.Handler
	AuditHandler *audit.Handler
	JobsHandler  *jobs.Handler
	Metrics      *observability.Metrics
}

// NewRouter constructs the chi.Router with Lyceum defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Auth:    auth.Middleware(params.AuthService),
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)
	r.Route("/authz", params.AuthzHandler.MountRoutes)
	if params.UsersHandler != nil {
		r.Route("/users", params.UsersHandler.MountRoutes)
	}
	if params.AuditHandler != nil {
		r.Route("/audit", params.AuditHandler.MountRoutes)
	}
	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
