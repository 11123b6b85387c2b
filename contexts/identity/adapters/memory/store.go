package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"steward/contexts/identity/domain/entities"
	domainerrors "steward/contexts/identity/domain/errors"
	"steward/internal/shared/commandbus"
)

// Store is the in-memory identity adapter used by tests and the memory
// broker profile. It participates in MemoryUnitOfWork rollback through
// Snapshot/Restore.
type Store struct {
	mu sync.RWMutex

	users    map[string]entities.User
	roles    map[string]entities.Role
	orgUnits map[string]entities.OrganizationUnit

	now    time.Time
	nextID int
}

func NewStore() *Store {
	return &Store{
		users:    make(map[string]entities.User),
		roles:    make(map[string]entities.Role),
		orgUnits: make(map[string]entities.OrganizationUnit),
		now:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *Store) CreateUser(_ context.Context, user entities.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Email == user.Email {
			return domainerrors.ErrEmailTaken
		}
	}
	s.users[user.UserID] = cloneUser(user)
	return nil
}

func (s *Store) GetUser(_ context.Context, userID string) (entities.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.users[userID]
	if !exists {
		return entities.User{}, domainerrors.ErrUserNotFound
	}
	return cloneUser(item), nil
}

func (s *Store) SaveUser(_ context.Context, user entities.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.users[user.UserID]
	if !exists {
		return domainerrors.ErrUserNotFound
	}
	if current.Version != user.Version {
		return commandbus.ErrConcurrencyConflict
	}
	user.Version++
	s.users[user.UserID] = cloneUser(user)
	return nil
}

func (s *Store) DeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[userID]; !exists {
		return domainerrors.ErrUserNotFound
	}
	delete(s.users, userID)
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]entities.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usersWhere(func(entities.User) bool { return true }), nil
}

func (s *Store) ListUsersWithRole(_ context.Context, roleID string) ([]entities.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usersWhere(func(u entities.User) bool { return u.HasRole(roleID) }), nil
}

func (s *Store) usersWhere(match func(entities.User) bool) []entities.User {
	items := make([]entities.User, 0, len(s.users))
	for _, item := range s.users {
		if match(item) {
			items = append(items, cloneUser(item))
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items
}

func (s *Store) CreateRole(_ context.Context, role entities.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.roles {
		if existing.Name == role.Name {
			return domainerrors.ErrRoleNameTaken
		}
	}
	s.roles[role.RoleID] = cloneRole(role)
	return nil
}

func (s *Store) GetRole(_ context.Context, roleID string) (entities.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.roles[roleID]
	if !exists {
		return entities.Role{}, domainerrors.ErrRoleNotFound
	}
	return cloneRole(item), nil
}

func (s *Store) SaveRole(_ context.Context, role entities.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.roles[role.RoleID]
	if !exists {
		return domainerrors.ErrRoleNotFound
	}
	if current.Version != role.Version {
		return commandbus.ErrConcurrencyConflict
	}
	for _, existing := range s.roles {
		if existing.RoleID != role.RoleID && existing.Name == role.Name {
			return domainerrors.ErrRoleNameTaken
		}
	}
	role.Version++
	s.roles[role.RoleID] = cloneRole(role)
	return nil
}

func (s *Store) ListRoles(_ context.Context) ([]entities.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]entities.Role, 0, len(s.roles))
	for _, item := range s.roles {
		items = append(items, cloneRole(item))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

func (s *Store) CreateOrgUnit(_ context.Context, unit entities.OrganizationUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orgUnits[unit.OrgUnitID]; exists {
		return commandbus.ErrConcurrencyConflict
	}
	s.orgUnits[unit.OrgUnitID] = unit
	return nil
}

func (s *Store) GetOrgUnit(_ context.Context, orgUnitID string) (entities.OrganizationUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.orgUnits[orgUnitID]
	if !exists {
		return entities.OrganizationUnit{}, domainerrors.ErrOrgUnitNotFound
	}
	return item, nil
}

func (s *Store) SaveOrgUnit(_ context.Context, unit entities.OrganizationUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.orgUnits[unit.OrgUnitID]
	if !exists {
		return domainerrors.ErrOrgUnitNotFound
	}
	if current.Version != unit.Version {
		return commandbus.ErrConcurrencyConflict
	}
	unit.Version++
	s.orgUnits[unit.OrgUnitID] = unit
	return nil
}

func (s *Store) ListOrgUnits(_ context.Context) ([]entities.OrganizationUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]entities.OrganizationUnit, 0, len(s.orgUnits))
	for _, item := range s.orgUnits {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

func (s *Store) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now
}

// Advance moves the store clock forward for tests.
func (s *Store) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(d)
}

func (s *Store) NewID(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return fmt.Sprintf("identity-ctx-%04d", s.nextID), nil
}

type storeSnapshot struct {
	users    map[string]entities.User
	roles    map[string]entities.Role
	orgUnits map[string]entities.OrganizationUnit
	nextID   int
}

func (s *Store) Snapshot() any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := storeSnapshot{
		users:    make(map[string]entities.User, len(s.users)),
		roles:    make(map[string]entities.Role, len(s.roles)),
		orgUnits: make(map[string]entities.OrganizationUnit, len(s.orgUnits)),
		nextID:   s.nextID,
	}
	for k, v := range s.users {
		snap.users[k] = cloneUser(v)
	}
	for k, v := range s.roles {
		snap.roles[k] = cloneRole(v)
	}
	for k, v := range s.orgUnits {
		snap.orgUnits[k] = v
	}
	return snap
}

func (s *Store) Restore(state any) {
	snap, ok := state.(storeSnapshot)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users = make(map[string]entities.User, len(snap.users))
	s.roles = make(map[string]entities.Role, len(snap.roles))
	s.orgUnits = make(map[string]entities.OrganizationUnit, len(snap.orgUnits))
	for k, v := range snap.users {
		s.users[k] = cloneUser(v)
	}
	for k, v := range snap.roles {
		s.roles[k] = cloneRole(v)
	}
	for k, v := range snap.orgUnits {
		s.orgUnits[k] = v
	}
	s.nextID = snap.nextID
}

func cloneUser(u entities.User) entities.User {
	u.Roles = append([]entities.UserRole(nil), u.Roles...)
	return u
}

func cloneRole(r entities.Role) entities.Role {
	r.PermissionCodes = append([]string(nil), r.PermissionCodes...)
	return r
}
