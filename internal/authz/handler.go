package authz

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/lyceum-lms/lyceum-lms/internal/platform/httpx"
	"github.com/lyceum-lms/lyceum-lms/internal/shared"
)

// Handler exposes the authorization admin API.
type Handler struct {
	logger      *slog.Logger
	catalog     *Catalog
	registry    *Registry
	assignments *Assignments
	engine      *Engine
	guard       *Guard
	cache       *PermissionCache
	mw          Middleware
	validator   *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, catalog *Catalog, registry *Registry, assignments *Assignments, engine *Engine, guard *Guard, cache *PermissionCache, mw Middleware) *Handler {
	return &Handler{
		logger:      logger,
		catalog:     catalog,
		registry:    registry,
		assignments: assignments,
		engine:      engine,
		guard:       guard,
		cache:       cache,
		mw:          mw,
		validator:   validator.New(),
	}
}

// MountRoutes registers the admin API routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/roles", func(r chi.Router) {
		r.With(h.mw.RequireAny("role:read")).Get("/", h.listRoles)
		r.With(h.mw.RequireAny("role:read")).Get("/{id}", h.getRole)
		r.With(h.mw.RequireAny("role:read")).Get("/{id}/permissions", h.rolePermissions)
		r.With(h.mw.RequireAny("role:create")).Post("/", h.createRole)
		r.With(h.mw.RequireAny("role:update")).Patch("/{id}", h.updateRole)
		r.With(h.mw.RequireAny("role:update")).Post("/{id}/active", h.setRoleActive)
		r.With(h.mw.RequireAny("role:update")).Post("/{id}/grants", h.grantPermission)
		r.With(h.mw.RequireAny("role:update")).Delete("/{id}/grants", h.revokePermission)
		r.With(h.mw.RequireAny("role:delete")).Delete("/{id}", h.deleteRole)
	})
	r.Route("/permissions", func(r chi.Router) {
		r.With(h.mw.RequireAny("role:read")).Get("/", h.listPermissions)
		r.With(h.mw.RequireAny("system:manage_settings")).Post("/", h.registerPermission)
	})
	r.Route("/assignments", func(r chi.Router) {
		r.With(h.mw.RequireAny("role:assign")).Post("/", h.assign)
		r.With(h.mw.RequireAny("role:assign")).Delete("/{id}", h.revokeAssignment)
	})
	r.Route("/users/{id}", func(r chi.Router) {
		r.With(h.mw.RequireAny("role:read", "user:read")).Get("/assignments", h.userAssignments)
		r.With(h.mw.RequireAny("role:read", "user:read")).Get("/permissions", h.userPermissions)
	})
	r.Get("/me/permissions", h.myPermissions)
	r.Post("/me/check", h.check)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.registry.ListRoles(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]roleResponse, 0, len(roles))
	for _, role := range roles {
		out = append(out, toRoleResponse(role))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	role, err := h.registry.GetRole(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleResponse(role))
}

func (h *Handler) rolePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	perms, err := h.registry.ResolvePermissions(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPermissionResponses(perms))
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req createRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.guard.CreateRole(r.Context(), actor, CreateRoleParams{
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Description: req.Description,
		Level:       req.Level,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRoleResponse(role))
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req updateRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.guard.UpdateRole(r.Context(), actor, id, UpdateMetadataParams{
		DisplayName: req.DisplayName,
		Description: req.Description,
		Level:       req.Level,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.cache.Flush(r.Context())
	httpx.JSON(w, http.StatusOK, toRoleResponse(role))
}

func (h *Handler) setRoleActive(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req setActiveRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.guard.SetRoleActive(r.Context(), actor, id, req.Active); err != nil {
		h.respondError(w, err)
		return
	}
	h.cache.Flush(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.guard.DeleteRole(r.Context(), actor, id); err != nil {
		h.respondError(w, err)
		return
	}
	h.cache.Flush(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) grantPermission(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req grantRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.guard.GrantPermission(r.Context(), actor, id, req.Pattern); err != nil {
		h.respondError(w, err)
		return
	}
	h.cache.Flush(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revokePermission(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req grantRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.guard.RevokePermission(r.Context(), actor, id, req.Pattern); err != nil {
		h.respondError(w, err)
		return
	}
	h.cache.Flush(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	var (
		perms []Permission
		err   error
	)
	if resource := r.URL.Query().Get("resource"); resource != "" {
		perms, err = h.catalog.ListByResource(r.Context(), resource)
	} else {
		perms, err = h.catalog.All(r.Context())
	}
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPermissionResponses(perms))
}

func (h *Handler) registerPermission(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req registerPermissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	perm, err := h.guard.RegisterPermission(r.Context(), actor, req.Resource, req.Action, req.Description)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.cache.Flush(r.Context())
	httpx.JSON(w, http.StatusCreated, permissionResponse{ID: perm.ID, Resource: perm.Resource, Action: perm.Action, Description: perm.Description})
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req assignRequest
	if !h.decode(w, r, &req) {
		return
	}
	created, err := h.guard.AssignRole(r.Context(), actor, AssignParams{
		UserID:        req.UserID,
		RoleID:        req.RoleID,
		InstitutionID: req.InstitutionID,
		DepartmentID:  req.DepartmentID,
		ValidUntil:    req.ValidUntil,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.cache.InvalidateUser(r.Context(), req.UserID)
	httpx.JSON(w, http.StatusCreated, toAssignmentResponse(created, time.Now()))
}

func (h *Handler) revokeAssignment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	existing, err := h.assignments.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.guard.RevokeAssignment(r.Context(), actor, id); err != nil {
		h.respondError(w, err)
		return
	}
	h.cache.InvalidateUser(r.Context(), existing.UserID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) userAssignments(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	list, err := h.assignments.AllFor(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	now := time.Now()
	out := make([]assignmentResponse, 0, len(list))
	for _, a := range list {
		out = append(out, toAssignmentResponse(a, now))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) userPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	perms, err := h.engine.EffectivePermissions(r.Context(), id, time.Now())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPermissionResponses(perms))
}

func (h *Handler) myPermissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	keys, err := h.cache.EffectivePermissions(r.Context(), actor)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, keys)
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req checkRequest
	if !h.decode(w, r, &req) {
		return
	}
	allowed, err := h.cache.Authorize(r.Context(), actor, req.Resource, req.Action)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, decisionResponse{Allowed: allowed})
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (int64, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return 0, false
	}
	return actor, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrForbidden):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	default:
		h.logger.Error("authz handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
