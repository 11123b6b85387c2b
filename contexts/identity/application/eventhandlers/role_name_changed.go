package eventhandlers

import (
	"context"
	"fmt"

	"steward/contexts/identity/application/commands"
	"steward/contexts/identity/domain/events"
	"steward/internal/shared/commandbus"
)

type Sender interface {
	Send(ctx context.Context, cmd commandbus.Command) (any, error)
}

// RoleNameChangedHandler propagates a role rename to the role name
// snapshots on users, inside the renaming transaction.
type RoleNameChangedHandler struct {
	Sender Sender
}

func (h RoleNameChangedHandler) HandleEvent(ctx context.Context, event commandbus.DomainEvent) error {
	e, ok := event.(events.RoleNameChanged)
	if !ok {
		return fmt.Errorf("role name changed handler: unexpected event %T", event)
	}
	_, err := h.Sender.Send(ctx, commands.SyncUserRoleNamesCommand{
		RoleID:  e.RoleID,
		NewName: e.NewName,
	})
	return err
}
