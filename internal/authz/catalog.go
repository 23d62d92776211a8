package authz

import (
	"context"
	"fmt"
	"strings"
)

// Catalog manages the universe of (resource, action) permissions.
// Permissions are append-only: there is no delete, so role grants can
// never silently dangle.
type Catalog struct {
	repo CatalogRepository
}

// NewCatalog constructs a Catalog over the given repository.
func NewCatalog(repo CatalogRepository) *Catalog {
	return &Catalog{repo: repo}
}

// Register creates or refreshes a permission. Re-registering an
// existing (resource, action) pair updates the description in place.
func (c *Catalog) Register(ctx context.Context, resource, action, description string) (Permission, error) {
	resource = strings.TrimSpace(strings.ToLower(resource))
	action = strings.TrimSpace(strings.ToLower(action))
	if resource == "" || action == "" {
		return Permission{}, fmt.Errorf("%w: permission resource and action required", ErrValidation)
	}
	if resource == "*" || action == "*" || strings.Contains(resource, ":") || strings.Contains(action, ":") {
		return Permission{}, fmt.Errorf("%w: permission %q:%q may not contain wildcards or separators", ErrValidation, resource, action)
	}
	perm, err := c.repo.UpsertPermission(ctx, resource, action, strings.TrimSpace(description))
	if err != nil {
		return Permission{}, fmt.Errorf("authz: register permission %s:%s: %w", resource, action, err)
	}
	return perm, nil
}

// Find looks up one permission by its (resource, action) key.
func (c *Catalog) Find(ctx context.Context, resource, action string) (Permission, error) {
	return c.repo.FindPermission(ctx, strings.ToLower(resource), strings.ToLower(action))
}

// ListByResource returns every permission defined for a resource.
func (c *Catalog) ListByResource(ctx context.Context, resource string) ([]Permission, error) {
	return c.repo.ListPermissionsByResource(ctx, strings.ToLower(resource))
}

// All returns the entire catalog.
func (c *Catalog) All(ctx context.Context) ([]Permission, error) {
	return c.repo.ListPermissions(ctx)
}
