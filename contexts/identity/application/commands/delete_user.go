package commands

import (
	"context"
	"errors"
	"log/slog"

	application "steward/contexts/identity/application"
	domainerrors "steward/contexts/identity/domain/errors"
	"steward/contexts/identity/ports"
	"steward/internal/shared/commandbus"
)

type DeleteUserCommand struct {
	UserID string `validate:"required"`
}

func (DeleteUserCommand) CommandName() string { return "identity.delete_user" }

func (c DeleteUserCommand) ResourceKey() string { return "user:" + c.UserID }

type DeleteUserUseCase struct {
	Users  ports.UserRepository
	Logger *slog.Logger
}

func (uc DeleteUserUseCase) Execute(ctx context.Context, cmd DeleteUserCommand) (struct{}, []commandbus.DomainEvent, error) {
	logger := application.ResolveLogger(uc.Logger)

	if err := uc.Users.DeleteUser(ctx, cmd.UserID); err != nil {
		// Deleting a user that is already gone is not an error.
		if errors.Is(err, domainerrors.ErrUserNotFound) {
			return struct{}{}, nil, nil
		}
		return struct{}{}, nil, err
	}

	logger.InfoContext(ctx, "user deleted",
		"event", "user_deleted",
		"user_id", cmd.UserID,
	)
	return struct{}{}, nil, nil
}
