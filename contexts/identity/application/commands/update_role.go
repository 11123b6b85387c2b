package commands

import (
	"context"
	"log/slog"
	"strings"

	application "steward/contexts/identity/application"
	"steward/contexts/identity/domain/events"
	"steward/contexts/identity/ports"
	"steward/internal/shared/commandbus"
)

type UpdateRoleCommand struct {
	RoleID          string   `validate:"required"`
	Name            string   `validate:"required,max=64"`
	Description     string   `validate:"omitempty,max=256"`
	PermissionCodes []string `validate:"dive,required"`
}

func (UpdateRoleCommand) CommandName() string { return "identity.update_role" }

func (c UpdateRoleCommand) ResourceKey() string { return "role:" + c.RoleID }

type UpdateRoleUseCase struct {
	Roles  ports.RoleRepository
	Clock  ports.Clock
	Logger *slog.Logger
}

func (uc UpdateRoleUseCase) Execute(ctx context.Context, cmd UpdateRoleCommand) (struct{}, []commandbus.DomainEvent, error) {
	logger := application.ResolveLogger(uc.Logger)

	role, err := uc.Roles.GetRole(ctx, cmd.RoleID)
	if err != nil {
		return struct{}{}, nil, err
	}

	newName := strings.TrimSpace(cmd.Name)
	nameChanged := role.Name != newName

	role.Name = newName
	role.Description = strings.TrimSpace(cmd.Description)
	role.PermissionCodes = append([]string(nil), cmd.PermissionCodes...)
	role.UpdatedAt = uc.Clock.Now().UTC()
	if err := uc.Roles.SaveRole(ctx, role); err != nil {
		return struct{}{}, nil, err
	}

	logger.InfoContext(ctx, "role updated",
		"event", "role_updated",
		"role_id", role.RoleID,
		"name_changed", nameChanged,
	)
	if !nameChanged {
		return struct{}{}, nil, nil
	}
	return struct{}{}, []commandbus.DomainEvent{events.RoleNameChanged{RoleID: role.RoleID, NewName: newName}}, nil
}
