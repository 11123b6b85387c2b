package commands

import (
	"context"
	"log/slog"
	"strings"

	application "steward/contexts/identity/application"
	"steward/contexts/identity/domain/entities"
	"steward/contexts/identity/domain/events"
	"steward/contexts/identity/ports"
	"steward/internal/shared/commandbus"
)

type CreateUserCommand struct {
	Name      string `validate:"required,max=128"`
	Email     string `validate:"required,email"`
	Phone     string `validate:"omitempty,max=32"`
	OrgUnitID string `validate:"omitempty"`
}

func (CreateUserCommand) CommandName() string { return "identity.create_user" }

// Uniqueness is enforced by the repository, not a lock.
func (CreateUserCommand) ResourceKey() string { return "" }

type CreateUserResult struct {
	UserID string
}

type CreateUserUseCase struct {
	Users       ports.UserRepository
	OrgUnits    ports.OrganizationUnitRepository
	Clock       ports.Clock
	IDGenerator ports.IDGenerator
	Logger      *slog.Logger
}

func (uc CreateUserUseCase) Execute(ctx context.Context, cmd CreateUserCommand) (CreateUserResult, []commandbus.DomainEvent, error) {
	logger := application.ResolveLogger(uc.Logger)
	now := uc.Clock.Now().UTC()

	orgUnitID := strings.TrimSpace(cmd.OrgUnitID)
	if orgUnitID != "" {
		if _, err := uc.OrgUnits.GetOrgUnit(ctx, orgUnitID); err != nil {
			return CreateUserResult{}, nil, err
		}
	}

	userID, err := uc.IDGenerator.NewID(ctx)
	if err != nil {
		return CreateUserResult{}, nil, err
	}
	user := entities.User{
		UserID:    userID,
		Name:      strings.TrimSpace(cmd.Name),
		Email:     strings.ToLower(strings.TrimSpace(cmd.Email)),
		Phone:     strings.TrimSpace(cmd.Phone),
		OrgUnitID: orgUnitID,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uc.Users.CreateUser(ctx, user); err != nil {
		return CreateUserResult{}, nil, err
	}

	logger.InfoContext(ctx, "user created",
		"event", "user_created",
		"user_id", userID,
	)
	return CreateUserResult{UserID: userID},
		[]commandbus.DomainEvent{events.UserCreated{UserID: userID, Email: user.Email}}, nil
}
