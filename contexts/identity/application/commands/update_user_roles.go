package commands

import (
	"context"
	"log/slog"
	"sort"

	application "steward/contexts/identity/application"
	"steward/contexts/identity/domain/entities"
	domainerrors "steward/contexts/identity/domain/errors"
	"steward/contexts/identity/ports"
	"steward/internal/shared/commandbus"
)

// UpdateUserRolesCommand replaces the user's role set wholesale. Concurrent
// dispatches for the same user serialize on the resource lock, so the last
// committed set wins and no merge is attempted.
type UpdateUserRolesCommand struct {
	UserID  string   `validate:"required"`
	RoleIDs []string `validate:"dive,required"`
}

func (UpdateUserRolesCommand) CommandName() string { return "identity.update_user_roles" }

func (c UpdateUserRolesCommand) ResourceKey() string { return "user:" + c.UserID }

type UpdateUserRolesResult struct {
	UserID string
	Roles  []entities.UserRole
}

type UpdateUserRolesUseCase struct {
	Users  ports.UserRepository
	Roles  ports.RoleRepository
	Clock  ports.Clock
	Logger *slog.Logger
}

func (uc UpdateUserRolesUseCase) Execute(ctx context.Context, cmd UpdateUserRolesCommand) (UpdateUserRolesResult, []commandbus.DomainEvent, error) {
	logger := application.ResolveLogger(uc.Logger)

	user, err := uc.Users.GetUser(ctx, cmd.UserID)
	if err != nil {
		return UpdateUserRolesResult{}, nil, err
	}

	seen := make(map[string]bool, len(cmd.RoleIDs))
	roles := make([]entities.UserRole, 0, len(cmd.RoleIDs))
	for _, roleID := range cmd.RoleIDs {
		if seen[roleID] {
			continue
		}
		seen[roleID] = true
		role, err := uc.Roles.GetRole(ctx, roleID)
		if err != nil {
			return UpdateUserRolesResult{}, nil, domainerrors.ErrUnknownRoleAssigned
		}
		roles = append(roles, entities.UserRole{RoleID: role.RoleID, RoleName: role.Name})
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].RoleID < roles[j].RoleID })

	user.Roles = roles
	user.UpdatedAt = uc.Clock.Now().UTC()
	if err := uc.Users.SaveUser(ctx, user); err != nil {
		return UpdateUserRolesResult{}, nil, err
	}

	logger.InfoContext(ctx, "user roles replaced",
		"event", "user_roles_updated",
		"user_id", user.UserID,
		"role_count", len(roles),
	)
	return UpdateUserRolesResult{UserID: user.UserID, Roles: roles}, nil, nil
}
