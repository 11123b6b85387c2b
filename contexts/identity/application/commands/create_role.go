package commands

import (
	"context"
	"log/slog"
	"strings"

	application "steward/contexts/identity/application"
	"steward/contexts/identity/domain/entities"
	"steward/contexts/identity/ports"
	"steward/internal/shared/commandbus"
)

type CreateRoleCommand struct {
	Name            string   `validate:"required,max=64"`
	Description     string   `validate:"omitempty,max=256"`
	PermissionCodes []string `validate:"dive,required"`
}

func (CreateRoleCommand) CommandName() string { return "identity.create_role" }

func (CreateRoleCommand) ResourceKey() string { return "" }

type CreateRoleResult struct {
	RoleID string
}

type CreateRoleUseCase struct {
	Roles       ports.RoleRepository
	Clock       ports.Clock
	IDGenerator ports.IDGenerator
	Logger      *slog.Logger
}

func (uc CreateRoleUseCase) Execute(ctx context.Context, cmd CreateRoleCommand) (CreateRoleResult, []commandbus.DomainEvent, error) {
	logger := application.ResolveLogger(uc.Logger)
	now := uc.Clock.Now().UTC()

	roleID, err := uc.IDGenerator.NewID(ctx)
	if err != nil {
		return CreateRoleResult{}, nil, err
	}
	role := entities.Role{
		RoleID:          roleID,
		Name:            strings.TrimSpace(cmd.Name),
		Description:     strings.TrimSpace(cmd.Description),
		PermissionCodes: append([]string(nil), cmd.PermissionCodes...),
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := uc.Roles.CreateRole(ctx, role); err != nil {
		return CreateRoleResult{}, nil, err
	}

	logger.InfoContext(ctx, "role created",
		"event", "role_created",
		"role_id", roleID,
	)
	return CreateRoleResult{RoleID: roleID}, nil, nil
}
