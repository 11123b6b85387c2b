package identity

import (
	"log/slog"

	"steward/contexts/identity/application/commands"
	"steward/contexts/identity/application/converters"
	"steward/contexts/identity/application/eventhandlers"
	"steward/contexts/identity/domain/events"
	"steward/contexts/identity/ports"
	"steward/internal/shared/commandbus"
)

type Dependencies struct {
	Users       ports.UserRepository
	Roles       ports.RoleRepository
	OrgUnits    ports.OrganizationUnitRepository
	Clock       ports.Clock
	IDGenerator ports.IDGenerator
	Logger      *slog.Logger
}

// Register wires the identity handlers, domain event handlers and
// integration event converters into the dispatcher.
func Register(d *commandbus.Dispatcher, deps Dependencies) {
	createUser := commands.CreateUserUseCase{
		Users:       deps.Users,
		OrgUnits:    deps.OrgUnits,
		Clock:       deps.Clock,
		IDGenerator: deps.IDGenerator,
		Logger:      deps.Logger,
	}
	d.RegisterHandler(commands.CreateUserCommand{}.CommandName(), commandbus.TypedHandler(createUser.Execute))

	updateUser := commands.UpdateUserUseCase{
		Users:    deps.Users,
		OrgUnits: deps.OrgUnits,
		Clock:    deps.Clock,
		Logger:   deps.Logger,
	}
	d.RegisterHandler(commands.UpdateUserCommand{}.CommandName(), commandbus.TypedHandler(updateUser.Execute))

	deleteUser := commands.DeleteUserUseCase{
		Users:  deps.Users,
		Logger: deps.Logger,
	}
	d.RegisterHandler(commands.DeleteUserCommand{}.CommandName(), commandbus.TypedHandler(deleteUser.Execute))

	updateUserRoles := commands.UpdateUserRolesUseCase{
		Users:  deps.Users,
		Roles:  deps.Roles,
		Clock:  deps.Clock,
		Logger: deps.Logger,
	}
	d.RegisterHandler(commands.UpdateUserRolesCommand{}.CommandName(), commandbus.TypedHandler(updateUserRoles.Execute))

	createRole := commands.CreateRoleUseCase{
		Roles:       deps.Roles,
		Clock:       deps.Clock,
		IDGenerator: deps.IDGenerator,
		Logger:      deps.Logger,
	}
	d.RegisterHandler(commands.CreateRoleCommand{}.CommandName(), commandbus.TypedHandler(createRole.Execute))

	updateRole := commands.UpdateRoleUseCase{
		Roles:  deps.Roles,
		Clock:  deps.Clock,
		Logger: deps.Logger,
	}
	d.RegisterHandler(commands.UpdateRoleCommand{}.CommandName(), commandbus.TypedHandler(updateRole.Execute))

	syncRoleNames := commands.SyncUserRoleNamesUseCase{
		Users:  deps.Users,
		Clock:  deps.Clock,
		Logger: deps.Logger,
	}
	d.RegisterHandler(commands.SyncUserRoleNamesCommand{}.CommandName(), commandbus.TypedHandler(syncRoleNames.Execute))

	createOrgUnit := commands.CreateOrganizationUnitUseCase{
		OrgUnits:    deps.OrgUnits,
		Clock:       deps.Clock,
		IDGenerator: deps.IDGenerator,
		Logger:      deps.Logger,
	}
	d.RegisterHandler(commands.CreateOrganizationUnitCommand{}.CommandName(), commandbus.TypedHandler(createOrgUnit.Execute))

	updateOrgUnit := commands.UpdateOrganizationUnitUseCase{
		OrgUnits: deps.OrgUnits,
		Clock:    deps.Clock,
		Logger:   deps.Logger,
	}
	d.RegisterHandler(commands.UpdateOrganizationUnitCommand{}.CommandName(), commandbus.TypedHandler(updateOrgUnit.Execute))

	d.RegisterDomainEventHandler(events.RoleNameChanged{}.EventName(), eventhandlers.RoleNameChangedHandler{Sender: d})
	d.RegisterConverter(converters.UserCreatedConverter{})
}
