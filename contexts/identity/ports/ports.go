package ports

import (
	"context"
	"time"

	"steward/contexts/identity/domain/entities"
)

// UserRepository persists users. SaveUser compares the entity version
// against the stored row and returns commandbus.ErrConcurrencyConflict on a
// mismatch.
type UserRepository interface {
	CreateUser(ctx context.Context, user entities.User) error
	GetUser(ctx context.Context, userID string) (entities.User, error)
	SaveUser(ctx context.Context, user entities.User) error
	DeleteUser(ctx context.Context, userID string) error
	ListUsers(ctx context.Context) ([]entities.User, error)
	// ListUsersWithRole returns every user whose role snapshot references
	// the role.
	ListUsersWithRole(ctx context.Context, roleID string) ([]entities.User, error)
}

type RoleRepository interface {
	CreateRole(ctx context.Context, role entities.Role) error
	GetRole(ctx context.Context, roleID string) (entities.Role, error)
	SaveRole(ctx context.Context, role entities.Role) error
	ListRoles(ctx context.Context) ([]entities.Role, error)
}

type OrganizationUnitRepository interface {
	CreateOrgUnit(ctx context.Context, unit entities.OrganizationUnit) error
	GetOrgUnit(ctx context.Context, orgUnitID string) (entities.OrganizationUnit, error)
	SaveOrgUnit(ctx context.Context, unit entities.OrganizationUnit) error
	ListOrgUnits(ctx context.Context) ([]entities.OrganizationUnit, error)
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}
