package commands

import (
	"context"
	"log/slog"

	application "steward/contexts/identity/application"
	"steward/contexts/identity/ports"
	"steward/internal/shared/commandbus"
)

// SyncUserRoleNamesCommand refreshes the denormalized role name on every
// user holding the role. Dispatched from the RoleNameChanged handler so it
// commits atomically with the role rename.
type SyncUserRoleNamesCommand struct {
	RoleID  string `validate:"required"`
	NewName string `validate:"required,max=64"`
}

func (SyncUserRoleNamesCommand) CommandName() string { return "identity.sync_user_role_names" }

// The role rename already holds the role lock.
func (SyncUserRoleNamesCommand) ResourceKey() string { return "" }

type SyncUserRoleNamesResult struct {
	UpdatedUsers int
}

type SyncUserRoleNamesUseCase struct {
	Users  ports.UserRepository
	Clock  ports.Clock
	Logger *slog.Logger
}

func (uc SyncUserRoleNamesUseCase) Execute(ctx context.Context, cmd SyncUserRoleNamesCommand) (SyncUserRoleNamesResult, []commandbus.DomainEvent, error) {
	logger := application.ResolveLogger(uc.Logger)
	now := uc.Clock.Now().UTC()

	users, err := uc.Users.ListUsersWithRole(ctx, cmd.RoleID)
	if err != nil {
		return SyncUserRoleNamesResult{}, nil, err
	}

	updated := 0
	for _, user := range users {
		changed := false
		for i := range user.Roles {
			if user.Roles[i].RoleID == cmd.RoleID && user.Roles[i].RoleName != cmd.NewName {
				user.Roles[i].RoleName = cmd.NewName
				changed = true
			}
		}
		if !changed {
			continue
		}
		user.UpdatedAt = now
		if err := uc.Users.SaveUser(ctx, user); err != nil {
			return SyncUserRoleNamesResult{}, nil, err
		}
		updated++
	}

	logger.InfoContext(ctx, "user role names synced",
		"event", "user_role_names_synced",
		"role_id", cmd.RoleID,
		"updated_users", updated,
	)
	return SyncUserRoleNamesResult{UpdatedUsers: updated}, nil, nil
}
