package authz

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Permission is an atomic capability identified by (resource, action).
type Permission struct {
	ID          int64
	Resource    string
	Action      string
	Description string
}

// Key returns the canonical "resource:action" form.
func (p Permission) Key() string {
	return p.Resource + ":" + p.Action
}

// Role is a named, leveled bundle of permission grants.
type Role struct {
	ID          int64
	Name        string
	DisplayName string
	Description string
	Level       int
	IsSystem    bool
	IsActive    bool
	Grants      []Grant
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Assignment binds a user to a role within an optional organizational
// scope and validity window. The tuple (UserID, RoleID, InstitutionID,
// DepartmentID) is unique.
type Assignment struct {
	ID            int64
	UserID        int64
	RoleID        int64
	InstitutionID *int64
	DepartmentID  *int64
	AssignedBy    int64
	ValidUntil    *time.Time
	CreatedAt     time.Time
}

// ActiveAt reports whether the assignment still contributes permissions
// at the given instant. Expiry is inclusive of the deadline itself.
func (a Assignment) ActiveAt(asOf time.Time) bool {
	return a.ValidUntil == nil || !a.ValidUntil.Before(asOf)
}

// GrantKind discriminates the wildcard variants of a permission grant.
type GrantKind int

const (
	// GrantExact covers a single (resource, action) permission.
	GrantExact GrantKind = iota
	// GrantResource covers every action on one resource ("resource:*").
	GrantResource
	// GrantAll covers the entire catalog ("*").
	GrantAll
)

// Grant is one permission pattern held by a role. Wildcards are
// resolved against the live catalog at query time, never snapshotted.
type Grant struct {
	Kind     GrantKind
	Resource string
	Action   string
}

// ParseGrant parses the pattern grammar "*" | "<res>:*" | "<res>:<action>".
// Any other shape, including "*:read", is rejected.
func ParseGrant(pattern string) (Grant, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "*" {
		return Grant{Kind: GrantAll}, nil
	}
	res, act, ok := strings.Cut(pattern, ":")
	if !ok || res == "" || act == "" || res == "*" || strings.Contains(act, ":") {
		return Grant{}, fmt.Errorf("%w: permission pattern %q", ErrValidation, pattern)
	}
	if act == "*" {
		return Grant{Kind: GrantResource, Resource: res}, nil
	}
	return Grant{Kind: GrantExact, Resource: res, Action: act}, nil
}

// String renders the grant back into its wire pattern.
func (g Grant) String() string {
	switch g.Kind {
	case GrantAll:
		return "*"
	case GrantResource:
		return g.Resource + ":*"
	default:
		return g.Resource + ":" + g.Action
	}
}

// Matches reports whether the grant covers the given permission.
func (g Grant) Matches(resource, action string) bool {
	switch g.Kind {
	case GrantAll:
		return true
	case GrantResource:
		return g.Resource == resource
	default:
		return g.Resource == resource && g.Action == action
	}
}

// LevelNone is the authority level of a user with no active role
// assignments: below every defined role.
const LevelNone = math.MaxInt32

// Role levels are small positive integers; lower value = more authority.
const (
	minRoleLevel = 1
	maxRoleLevel = 1000
)

// IsMoreAuthoritativeThan reports whether level a outranks level b.
// Lower numeric value wins; equal levels do not outrank each other.
func IsMoreAuthoritativeThan(a, b int) bool {
	return a < b
}

func validRoleLevel(level int) bool {
	return level >= minRoleLevel && level <= maxRoleLevel
}
