package queries

import (
	"context"

	"steward/contexts/identity/domain/entities"
	"steward/contexts/identity/ports"
)

type GetUserUseCase struct {
	Users ports.UserRepository
}

func (uc GetUserUseCase) Execute(ctx context.Context, userID string) (entities.User, error) {
	return uc.Users.GetUser(ctx, userID)
}

type ListUsersUseCase struct {
	Users ports.UserRepository
}

func (uc ListUsersUseCase) Execute(ctx context.Context) ([]entities.User, error) {
	return uc.Users.ListUsers(ctx)
}

type ListRolesUseCase struct {
	Roles ports.RoleRepository
}

func (uc ListRolesUseCase) Execute(ctx context.Context) ([]entities.Role, error) {
	return uc.Roles.ListRoles(ctx)
}

type ListOrgUnitsUseCase struct {
	OrgUnits ports.OrganizationUnitRepository
}

func (uc ListOrgUnitsUseCase) Execute(ctx context.Context) ([]entities.OrganizationUnit, error) {
	return uc.OrgUnits.ListOrgUnits(ctx)
}
