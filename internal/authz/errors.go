package authz

import "errors"

// Sentinel errors for the authorization core. Callers classify with
// errors.Is; wrapped messages carry the operation and entity.
var (
	// ErrNotFound indicates a referenced role, user, permission or
	// assignment does not exist.
	ErrNotFound = errors.New("authz: not found")
	// ErrConflict indicates a uniqueness violation (duplicate role
	// name or assignment tuple).
	ErrConflict = errors.New("authz: conflict")
	// ErrValidation indicates malformed input, such as an invalid
	// permission pattern or a missing required field.
	ErrValidation = errors.New("authz: validation failed")
	// ErrForbidden indicates the Hierarchy Guard or system-role
	// protection rejected the operation.
	ErrForbidden = errors.New("authz: forbidden")
)
