package authz

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Check names one (resource, action) pair for AuthorizeAny.
type Check struct {
	Resource string
	Action   string
}

// DecisionRecorder receives authorization verdicts for metrics.
type DecisionRecorder interface {
	Decision(resource string, allowed bool)
}

// Engine answers point-in-time authorization queries. Reads never take
// locks: every query re-reads current state and computes independently,
// so concurrent request handlers can call it freely.
type Engine struct {
	repo     AssignmentRepository
	registry *Registry
	recorder DecisionRecorder
}

// NewEngine constructs an Engine. The recorder may be nil.
func NewEngine(repo AssignmentRepository, registry *Registry, recorder DecisionRecorder) *Engine {
	return &Engine{repo: repo, registry: registry, recorder: recorder}
}

// EffectivePermissions returns the deduplicated union of resolved
// permissions across the user's active assignments at asOf. An unknown
// user yields an empty set, never an error.
func (e *Engine) EffectivePermissions(ctx context.Context, userID int64, asOf time.Time) ([]Permission, error) {
	start := time.Now()
	defer func() {
		if obs, ok := e.recorder.(interface{ ObserveResolve(time.Duration) }); ok {
			obs.ObserveResolve(time.Since(start))
		}
	}()
	roles, err := e.repo.ActiveRolesForUser(ctx, userID, asOf)
	if err != nil {
		return nil, fmt.Errorf("authz: effective permissions for user %d: %w", userID, err)
	}
	seen := make(map[string]struct{})
	var grants []Grant
	for _, role := range roles {
		for _, g := range role.Grants {
			key := g.String()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			grants = append(grants, g)
		}
	}
	perms, err := e.registry.resolveGrants(ctx, grants)
	if err != nil {
		return nil, fmt.Errorf("authz: effective permissions for user %d: %w", userID, err)
	}
	return perms, nil
}

// Authorize reports whether the user holds (resource, action) right
// now. Pure query, no side effects beyond metrics; unprivileged and
// unknown users get false, not an error.
func (e *Engine) Authorize(ctx context.Context, userID int64, resource, action string) (bool, error) {
	resource = strings.TrimSpace(strings.ToLower(resource))
	action = strings.TrimSpace(strings.ToLower(action))
	if resource == "" || action == "" {
		return false, fmt.Errorf("%w: resource and action required", ErrValidation)
	}
	perms, err := e.EffectivePermissions(ctx, userID, time.Now())
	if err != nil {
		return false, err
	}
	allowed := false
	for _, p := range perms {
		if p.Resource == resource && p.Action == action {
			allowed = true
			break
		}
	}
	if e.recorder != nil {
		e.recorder.Decision(resource, allowed)
	}
	return allowed, nil
}

// AuthorizeAny reports whether at least one of the checks passes.
func (e *Engine) AuthorizeAny(ctx context.Context, userID int64, checks []Check) (bool, error) {
	if len(checks) == 0 {
		return false, fmt.Errorf("%w: at least one check required", ErrValidation)
	}
	for _, c := range checks {
		ok, err := e.Authorize(ctx, userID, c.Resource, c.Action)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// HighestAuthorityLevel returns the minimum level value across the
// user's active assignments, or LevelNone when there are none.
func (e *Engine) HighestAuthorityLevel(ctx context.Context, userID int64, asOf time.Time) (int, error) {
	roles, err := e.repo.ActiveRolesForUser(ctx, userID, asOf)
	if err != nil {
		return LevelNone, fmt.Errorf("authz: highest authority level for user %d: %w", userID, err)
	}
	return highestLevel(roles), nil
}

func highestLevel(roles []Role) int {
	level := LevelNone
	for _, r := range roles {
		if IsMoreAuthoritativeThan(r.Level, level) {
			level = r.Level
		}
	}
	return level
}
