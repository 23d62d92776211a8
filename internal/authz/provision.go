package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// DefaultRoleName is auto-assigned to newly created accounts.
const DefaultRoleName = "student"

type seedPermission struct {
	resource    string
	action      string
	description string
}

type seedRole struct {
	name        string
	displayName string
	level       int
	grants      []string
}

var seedPermissions = []seedPermission{
	{"course", "read", "View courses and their content"},
	{"course", "create", "Create new courses"},
	{"course", "update", "Edit course content and settings"},
	{"course", "delete", "Delete courses"},
	{"course", "publish", "Publish courses to learners"},
	{"course", "enroll", "Enroll into courses"},
	{"course", "archive", "Archive finished courses"},

	{"assignment", "read", "View assignments"},
	{"assignment", "create", "Create assignments"},
	{"assignment", "update", "Edit assignments"},
	{"assignment", "delete", "Delete assignments"},
	{"assignment", "submit", "Submit assignment solutions"},
	{"assignment", "grade", "Grade assignment submissions"},

	{"assessment", "read", "View assessments"},
	{"assessment", "create", "Create assessments"},
	{"assessment", "update", "Edit assessments"},
	{"assessment", "delete", "Delete assessments"},
	{"assessment", "attempt", "Attempt assessments"},
	{"assessment", "grade", "Grade assessment attempts"},

	{"chat", "read", "Read chat messages"},
	{"chat", "send", "Send chat messages"},
	{"chat", "moderate", "Moderate chat rooms"},

	{"notification", "read", "Read notifications"},
	{"notification", "send", "Send notifications"},
	{"notification", "manage", "Manage notification channels"},

	{"file", "read", "Download files"},
	{"file", "upload", "Upload files"},
	{"file", "delete", "Delete files"},

	{"user", "read", "View user accounts"},
	{"user", "create", "Create user accounts"},
	{"user", "update", "Edit user accounts"},
	{"user", "delete", "Delete user accounts"},

	{"role", "read", "View roles and assignments"},
	{"role", "create", "Create roles"},
	{"role", "update", "Edit roles"},
	{"role", "delete", "Delete roles"},
	{"role", "assign", "Assign roles to users"},

	{ResourceSystem, ActionManageSettings, "Mutate roles and the permission catalog"},
	{ResourceSystem, "view_audit", "Read the audit timeline"},
	{ResourceSystem, "view_metrics", "Read operational metrics"},
}

var seedRoles = []seedRole{
	{"super_admin", "Super Administrator", 1, []string{"*"}},
	{"platform_admin", "Platform Administrator", 3, []string{
		"user:*", "role:*", "system:*", "notification:*", "file:*",
	}},
	{"institution_admin", "Institution Administrator", 6, []string{
		"course:*", "assignment:*", "assessment:*", "chat:*",
		"user:read", "user:update", "role:read", "role:assign", "notification:send", "file:*",
	}},
	{"department_head", "Department Head", 10, []string{
		"course:*", "assignment:*", "assessment:*",
		"user:read", "role:read", "chat:moderate", "file:upload", "file:read",
	}},
	{"teacher", "Teacher", 15, []string{
		"course:read", "course:create", "course:update", "course:publish",
		"assignment:*", "assessment:*", "chat:read", "chat:send", "chat:moderate",
		"file:read", "file:upload", "notification:send",
	}},
	{"student_teacher", "Student Teacher", 20, []string{
		"course:read", "course:enroll",
		"assignment:read", "assignment:submit", "assignment:grade",
		"assessment:read", "assessment:attempt",
		"chat:read", "chat:send", "file:read", "notification:read",
	}},
	{DefaultRoleName, "Student", 22, []string{
		"course:read", "course:enroll",
		"assignment:read", "assignment:submit",
		"assessment:read", "assessment:attempt",
		"chat:read", "chat:send", "file:read", "notification:read",
	}},
	{"observer", "Observer", 25, []string{
		"course:read", "assignment:read", "assessment:read", "notification:read",
	}},
}

// Provision seeds the permission catalog and the system roles. It is
// idempotent: permissions are upserted, existing roles are left as-is
// and only missing grants are attached. Catalog and registry come in as
// explicit parameters so tests can provision isolated instances.
func Provision(ctx context.Context, logger *slog.Logger, catalog *Catalog, registry *Registry) error {
	for _, p := range seedPermissions {
		if _, err := catalog.Register(ctx, p.resource, p.action, p.description); err != nil {
			return fmt.Errorf("authz: provision permission %s:%s: %w", p.resource, p.action, err)
		}
	}
	for _, sr := range seedRoles {
		role, err := registry.GetRoleByName(ctx, sr.name)
		switch {
		case errors.Is(err, ErrNotFound):
			role, err = registry.CreateRole(ctx, CreateRoleParams{
				Name:        sr.name,
				DisplayName: sr.displayName,
				Description: sr.displayName,
				Level:       sr.level,
				IsSystem:    true,
			})
			if err != nil {
				return fmt.Errorf("authz: provision role %s: %w", sr.name, err)
			}
			if logger != nil {
				logger.Info("provisioned system role", slog.String("role", sr.name), slog.Int("level", sr.level))
			}
		case err != nil:
			return fmt.Errorf("authz: provision role %s: %w", sr.name, err)
		}
		for _, pattern := range sr.grants {
			if err := registry.Grant(ctx, role.ID, pattern); err != nil {
				return fmt.Errorf("authz: provision grant %s on %s: %w", pattern, sr.name, err)
			}
		}
	}
	return nil
}
