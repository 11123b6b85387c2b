package events

// UserCreated is raised by CreateUser and published as "user.created" for
// external subscribers.
type UserCreated struct {
	UserID string
	Email  string
}

func (UserCreated) EventName() string     { return "identity.user_created" }
func (e UserCreated) AggregateID() string { return e.UserID }

// RoleNameChanged is raised by UpdateRole when the name changes. Handled in
// the same transaction to refresh the role name snapshots on users.
type RoleNameChanged struct {
	RoleID  string
	NewName string
}

func (RoleNameChanged) EventName() string     { return "identity.role_name_changed" }
func (e RoleNameChanged) AggregateID() string { return e.RoleID }
