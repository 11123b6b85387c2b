package errors

import "errors"

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrEmailTaken          = errors.New("email is already taken")
	ErrRoleNotFound        = errors.New("role not found")
	ErrRoleNameTaken       = errors.New("role name is already taken")
	ErrOrgUnitNotFound     = errors.New("organization unit not found")
	ErrOrgUnitCycle        = errors.New("organization unit cannot be its own ancestor")
	ErrUnknownRoleAssigned = errors.New("assigned role does not exist")
)
