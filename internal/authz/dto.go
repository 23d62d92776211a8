package authz

import "time"

type createRoleRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=64"`
	DisplayName string `json:"display_name" validate:"required,max=128"`
	Description string `json:"description" validate:"max=512"`
	Level       int    `json:"level" validate:"required,gt=0"`
}

type updateRoleRequest struct {
	DisplayName *string `json:"display_name" validate:"omitempty,max=128"`
	Description *string `json:"description" validate:"omitempty,max=512"`
	Level       *int    `json:"level" validate:"omitempty,gt=0"`
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

type grantRequest struct {
	Pattern string `json:"pattern" validate:"required"`
}

type registerPermissionRequest struct {
	Resource    string `json:"resource" validate:"required,max=64"`
	Action      string `json:"action" validate:"required,max=64"`
	Description string `json:"description" validate:"max=512"`
}

type assignRequest struct {
	UserID        int64      `json:"user_id" validate:"required,gt=0"`
	RoleID        int64      `json:"role_id" validate:"required,gt=0"`
	InstitutionID *int64     `json:"institution_id" validate:"omitempty,gt=0"`
	DepartmentID  *int64     `json:"department_id" validate:"omitempty,gt=0"`
	ValidUntil    *time.Time `json:"valid_until"`
}

type checkRequest struct {
	Resource string `json:"resource" validate:"required"`
	Action   string `json:"action" validate:"required"`
}

type roleResponse struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description"`
	Level       int       `json:"level"`
	IsSystem    bool      `json:"is_system"`
	IsActive    bool      `json:"is_active"`
	Grants      []string  `json:"grants"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toRoleResponse(role Role) roleResponse {
	grants := make([]string, 0, len(role.Grants))
	for _, g := range role.Grants {
		grants = append(grants, g.String())
	}
	return roleResponse{
		ID:          role.ID,
		Name:        role.Name,
		DisplayName: role.DisplayName,
		Description: role.Description,
		Level:       role.Level,
		IsSystem:    role.IsSystem,
		IsActive:    role.IsActive,
		Grants:      grants,
		CreatedAt:   role.CreatedAt,
		UpdatedAt:   role.UpdatedAt,
	}
}

type permissionResponse struct {
	ID          int64  `json:"id"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Description string `json:"description"`
}

func toPermissionResponses(perms []Permission) []permissionResponse {
	out := make([]permissionResponse, 0, len(perms))
	for _, p := range perms {
		out = append(out, permissionResponse{ID: p.ID, Resource: p.Resource, Action: p.Action, Description: p.Description})
	}
	return out
}

type assignmentResponse struct {
	ID            int64      `json:"id"`
	UserID        int64      `json:"user_id"`
	RoleID        int64      `json:"role_id"`
	InstitutionID *int64     `json:"institution_id,omitempty"`
	DepartmentID  *int64     `json:"department_id,omitempty"`
	AssignedBy    int64      `json:"assigned_by"`
	ValidUntil    *time.Time `json:"valid_until,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	Active        bool       `json:"active"`
}

func toAssignmentResponse(a Assignment, asOf time.Time) assignmentResponse {
	return assignmentResponse{
		ID:            a.ID,
		UserID:        a.UserID,
		RoleID:        a.RoleID,
		InstitutionID: a.InstitutionID,
		DepartmentID:  a.DepartmentID,
		AssignedBy:    a.AssignedBy,
		ValidUntil:    a.ValidUntil,
		CreatedAt:     a.CreatedAt,
		Active:        a.ActiveAt(asOf),
	}
}

type decisionResponse struct {
	Allowed bool `json:"allowed"`
}
