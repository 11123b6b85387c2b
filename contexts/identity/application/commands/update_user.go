package commands

import (
	"context"
	"log/slog"
	"strings"

	application "steward/contexts/identity/application"
	"steward/contexts/identity/ports"
	"steward/internal/shared/commandbus"
)

type UpdateUserCommand struct {
	UserID    string `validate:"required"`
	Name      string `validate:"required,max=128"`
	Phone     string `validate:"omitempty,max=32"`
	OrgUnitID string `validate:"omitempty"`
}

func (UpdateUserCommand) CommandName() string { return "identity.update_user" }

func (c UpdateUserCommand) ResourceKey() string { return "user:" + c.UserID }

type UpdateUserUseCase struct {
	Users    ports.UserRepository
	OrgUnits ports.OrganizationUnitRepository
	Clock    ports.Clock
	Logger   *slog.Logger
}

func (uc UpdateUserUseCase) Execute(ctx context.Context, cmd UpdateUserCommand) (struct{}, []commandbus.DomainEvent, error) {
	logger := application.ResolveLogger(uc.Logger)

	user, err := uc.Users.GetUser(ctx, cmd.UserID)
	if err != nil {
		return struct{}{}, nil, err
	}
	orgUnitID := strings.TrimSpace(cmd.OrgUnitID)
	if orgUnitID != "" && orgUnitID != user.OrgUnitID {
		if _, err := uc.OrgUnits.GetOrgUnit(ctx, orgUnitID); err != nil {
			return struct{}{}, nil, err
		}
	}

	user.Name = strings.TrimSpace(cmd.Name)
	user.Phone = strings.TrimSpace(cmd.Phone)
	user.OrgUnitID = orgUnitID
	user.UpdatedAt = uc.Clock.Now().UTC()
	if err := uc.Users.SaveUser(ctx, user); err != nil {
		return struct{}{}, nil, err
	}

	logger.InfoContext(ctx, "user updated",
		"event", "user_updated",
		"user_id", user.UserID,
	)
	return struct{}{}, nil, nil
}
