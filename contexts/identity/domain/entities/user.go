package entities

import "time"

// UserRole is the role snapshot denormalized onto the user. RoleName is a
// copy of the role's current name and is kept in sync by the
// RoleNameChanged fan-out.
type UserRole struct {
	RoleID   string
	RoleName string
}

type User struct {
	UserID    string
	Name      string
	Email     string
	Phone     string
	OrgUnitID string
	Roles     []UserRole
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (u User) HasRole(roleID string) bool {
	for _, r := range u.Roles {
		if r.RoleID == roleID {
			return true
		}
	}
	return false
}
