package postgresadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"steward/contexts/identity/domain/entities"
	domainerrors "steward/contexts/identity/domain/errors"
	platformdb "steward/internal/platform/db"
	"steward/internal/shared/commandbus"
)

type userModel struct {
	UserID    string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:128;not null"`
	Email     string `gorm:"size:256;not null;uniqueIndex:uniq_user_email"`
	Phone     string `gorm:"size:32"`
	OrgUnitID string `gorm:"size:64;index"`
	Roles     []byte `gorm:"type:jsonb"`
	Version   int64  `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (userModel) TableName() string { return "users" }

type roleModel struct {
	RoleID          string `gorm:"primaryKey;size:64"`
	Name            string `gorm:"size:64;not null;uniqueIndex:uniq_role_name"`
	Description     string `gorm:"size:256"`
	PermissionCodes []byte `gorm:"type:jsonb"`
	Version         int64  `gorm:"not null"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (roleModel) TableName() string { return "roles" }

type orgUnitModel struct {
	OrgUnitID string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:128;not null"`
	ParentID  string `gorm:"size:64;index"`
	Version   int64  `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (orgUnitModel) TableName() string { return "organization_units" }

// Models lists the gorm models this context migrates.
func Models() []any {
	return []any{&userModel{}, &roleModel{}, &orgUnitModel{}}
}

// Repository implements the identity ports on postgres. Role snapshots on
// users are stored as a jsonb column; the role-name fan-out keeps them
// consistent.
type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{db: db, logger: logger}
}

func (r *Repository) conn(ctx context.Context) *gorm.DB {
	return platformdb.Conn(ctx, r.db)
}

func (r *Repository) CreateUser(ctx context.Context, user entities.User) error {
	row, err := userModelFromEntity(user)
	if err != nil {
		return err
	}
	if err := r.conn(ctx).WithContext(ctx).Create(&row).Error; err != nil {
		if platformdb.IsUniqueViolation(err) {
			return domainerrors.ErrEmailTaken
		}
		return err
	}
	return nil
}

func (r *Repository) GetUser(ctx context.Context, userID string) (entities.User, error) {
	var row userModel
	err := r.conn(ctx).WithContext(ctx).
		Where("user_id = ?", userID).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.User{}, domainerrors.ErrUserNotFound
		}
		return entities.User{}, err
	}
	return row.toEntity()
}

func (r *Repository) SaveUser(ctx context.Context, user entities.User) error {
	roles, err := json.Marshal(user.Roles)
	if err != nil {
		return err
	}
	result := r.conn(ctx).WithContext(ctx).
		Model(&userModel{}).
		Where("user_id = ? AND version = ?", user.UserID, user.Version).
		Updates(map[string]any{
			"name":        user.Name,
			"phone":       user.Phone,
			"org_unit_id": user.OrgUnitID,
			"roles":       roles,
			"version":     user.Version + 1,
			"updated_at":  user.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return commandbus.ErrConcurrencyConflict
	}
	return nil
}

func (r *Repository) DeleteUser(ctx context.Context, userID string) error {
	result := r.conn(ctx).WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&userModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrUserNotFound
	}
	return nil
}

func (r *Repository) ListUsers(ctx context.Context) ([]entities.User, error) {
	var rows []userModel
	err := r.conn(ctx).WithContext(ctx).
		Order("created_at ASC").
		Find(&rows).
		Error
	if err != nil {
		return nil, err
	}
	return usersFromModels(rows)
}

func (r *Repository) ListUsersWithRole(ctx context.Context, roleID string) ([]entities.User, error) {
	var rows []userModel
	err := r.conn(ctx).WithContext(ctx).
		Where("roles @> ?", `[{"role_id":"`+roleID+`"}]`).
		Order("created_at ASC").
		Find(&rows).
		Error
	if err != nil {
		return nil, err
	}
	return usersFromModels(rows)
}

func (r *Repository) CreateRole(ctx context.Context, role entities.Role) error {
	row, err := roleModelFromEntity(role)
	if err != nil {
		return err
	}
	if err := r.conn(ctx).WithContext(ctx).Create(&row).Error; err != nil {
		if platformdb.IsUniqueViolation(err) {
			return domainerrors.ErrRoleNameTaken
		}
		return err
	}
	return nil
}

func (r *Repository) GetRole(ctx context.Context, roleID string) (entities.Role, error) {
	var row roleModel
	err := r.conn(ctx).WithContext(ctx).
		Where("role_id = ?", roleID).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Role{}, domainerrors.ErrRoleNotFound
		}
		return entities.Role{}, err
	}
	return row.toEntity()
}

func (r *Repository) SaveRole(ctx context.Context, role entities.Role) error {
	codes, err := json.Marshal(role.PermissionCodes)
	if err != nil {
		return err
	}
	result := r.conn(ctx).WithContext(ctx).
		Model(&roleModel{}).
		Where("role_id = ? AND version = ?", role.RoleID, role.Version).
		Updates(map[string]any{
			"name":             role.Name,
			"description":      role.Description,
			"permission_codes": codes,
			"version":          role.Version + 1,
			"updated_at":       role.UpdatedAt,
		})
	if result.Error != nil {
		if platformdb.IsUniqueViolation(result.Error) {
			return domainerrors.ErrRoleNameTaken
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return commandbus.ErrConcurrencyConflict
	}
	return nil
}

func (r *Repository) ListRoles(ctx context.Context) ([]entities.Role, error) {
	var rows []roleModel
	err := r.conn(ctx).WithContext(ctx).
		Order("created_at ASC").
		Find(&rows).
		Error
	if err != nil {
		return nil, err
	}
	roles := make([]entities.Role, 0, len(rows))
	for _, row := range rows {
		role, err := row.toEntity()
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

func (r *Repository) CreateOrgUnit(ctx context.Context, unit entities.OrganizationUnit) error {
	row := orgUnitModelFromEntity(unit)
	if err := r.conn(ctx).WithContext(ctx).Create(&row).Error; err != nil {
		if platformdb.IsUniqueViolation(err) {
			return domainerrors.ErrOrgUnitNotFound
		}
		return err
	}
	return nil
}

func (r *Repository) GetOrgUnit(ctx context.Context, orgUnitID string) (entities.OrganizationUnit, error) {
	var row orgUnitModel
	err := r.conn(ctx).WithContext(ctx).
		Where("org_unit_id = ?", orgUnitID).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.OrganizationUnit{}, domainerrors.ErrOrgUnitNotFound
		}
		return entities.OrganizationUnit{}, err
	}
	return row.toEntity(), nil
}

func (r *Repository) SaveOrgUnit(ctx context.Context, unit entities.OrganizationUnit) error {
	result := r.conn(ctx).WithContext(ctx).
		Model(&orgUnitModel{}).
		Where("org_unit_id = ? AND version = ?", unit.OrgUnitID, unit.Version).
		Updates(map[string]any{
			"name":       unit.Name,
			"parent_id":  unit.ParentID,
			"version":    unit.Version + 1,
			"updated_at": unit.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return commandbus.ErrConcurrencyConflict
	}
	return nil
}

func (r *Repository) ListOrgUnits(ctx context.Context) ([]entities.OrganizationUnit, error) {
	var rows []orgUnitModel
	err := r.conn(ctx).WithContext(ctx).
		Order("created_at ASC").
		Find(&rows).
		Error
	if err != nil {
		return nil, err
	}
	units := make([]entities.OrganizationUnit, 0, len(rows))
	for _, row := range rows {
		units = append(units, row.toEntity())
	}
	return units, nil
}

func userModelFromEntity(user entities.User) (userModel, error) {
	roles, err := json.Marshal(user.Roles)
	if err != nil {
		return userModel{}, err
	}
	return userModel{
		UserID:    user.UserID,
		Name:      user.Name,
		Email:     user.Email,
		Phone:     user.Phone,
		OrgUnitID: user.OrgUnitID,
		Roles:     roles,
		Version:   user.Version,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}, nil
}

func (m userModel) toEntity() (entities.User, error) {
	var roles []entities.UserRole
	if len(m.Roles) > 0 {
		if err := json.Unmarshal(m.Roles, &roles); err != nil {
			return entities.User{}, err
		}
	}
	return entities.User{
		UserID:    m.UserID,
		Name:      m.Name,
		Email:     m.Email,
		Phone:     m.Phone,
		OrgUnitID: m.OrgUnitID,
		Roles:     roles,
		Version:   m.Version,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}, nil
}

func usersFromModels(rows []userModel) ([]entities.User, error) {
	users := make([]entities.User, 0, len(rows))
	for _, row := range rows {
		user, err := row.toEntity()
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}

func roleModelFromEntity(role entities.Role) (roleModel, error) {
	codes, err := json.Marshal(role.PermissionCodes)
	if err != nil {
		return roleModel{}, err
	}
	return roleModel{
		RoleID:          role.RoleID,
		Name:            role.Name,
		Description:     role.Description,
		PermissionCodes: codes,
		Version:         role.Version,
		CreatedAt:       role.CreatedAt,
		UpdatedAt:       role.UpdatedAt,
	}, nil
}

func (m roleModel) toEntity() (entities.Role, error) {
	var codes []string
	if len(m.PermissionCodes) > 0 {
		if err := json.Unmarshal(m.PermissionCodes, &codes); err != nil {
			return entities.Role{}, err
		}
	}
	return entities.Role{
		RoleID:          m.RoleID,
		Name:            m.Name,
		Description:     m.Description,
		PermissionCodes: codes,
		Version:         m.Version,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}, nil
}

func orgUnitModelFromEntity(unit entities.OrganizationUnit) orgUnitModel {
	return orgUnitModel{
		OrgUnitID: unit.OrgUnitID,
		Name:      unit.Name,
		ParentID:  unit.ParentID,
		Version:   unit.Version,
		CreatedAt: unit.CreatedAt,
		UpdatedAt: unit.UpdatedAt,
	}
}

func (m orgUnitModel) toEntity() entities.OrganizationUnit {
	return entities.OrganizationUnit{
		OrgUnitID: m.OrgUnitID,
		Name:      m.Name,
		ParentID:  m.ParentID,
		Version:   m.Version,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
