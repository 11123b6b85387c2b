package entities

import "time"

type Role struct {
	RoleID          string
	Name            string
	Description     string
	PermissionCodes []string
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
