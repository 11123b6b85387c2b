package commands

import (
	"context"
	"log/slog"
	"strings"

	application "steward/contexts/identity/application"
	"steward/contexts/identity/domain/entities"
	domainerrors "steward/contexts/identity/domain/errors"
	"steward/contexts/identity/ports"
	"steward/internal/shared/commandbus"
)

type CreateOrganizationUnitCommand struct {
	Name     string `validate:"required,max=128"`
	ParentID string `validate:"omitempty"`
}

func (CreateOrganizationUnitCommand) CommandName() string { return "identity.create_org_unit" }

func (CreateOrganizationUnitCommand) ResourceKey() string { return "" }

type CreateOrganizationUnitResult struct {
	OrgUnitID string
}

type CreateOrganizationUnitUseCase struct {
	OrgUnits    ports.OrganizationUnitRepository
	Clock       ports.Clock
	IDGenerator ports.IDGenerator
	Logger      *slog.Logger
}

func (uc CreateOrganizationUnitUseCase) Execute(ctx context.Context, cmd CreateOrganizationUnitCommand) (CreateOrganizationUnitResult, []commandbus.DomainEvent, error) {
	logger := application.ResolveLogger(uc.Logger)
	now := uc.Clock.Now().UTC()

	parentID := strings.TrimSpace(cmd.ParentID)
	if parentID != "" {
		if _, err := uc.OrgUnits.GetOrgUnit(ctx, parentID); err != nil {
			return CreateOrganizationUnitResult{}, nil, err
		}
	}

	orgUnitID, err := uc.IDGenerator.NewID(ctx)
	if err != nil {
		return CreateOrganizationUnitResult{}, nil, err
	}
	unit := entities.OrganizationUnit{
		OrgUnitID: orgUnitID,
		Name:      strings.TrimSpace(cmd.Name),
		ParentID:  parentID,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uc.OrgUnits.CreateOrgUnit(ctx, unit); err != nil {
		return CreateOrganizationUnitResult{}, nil, err
	}

	logger.InfoContext(ctx, "organization unit created",
		"event", "org_unit_created",
		"org_unit_id", orgUnitID,
	)
	return CreateOrganizationUnitResult{OrgUnitID: orgUnitID}, nil, nil
}

type UpdateOrganizationUnitCommand struct {
	OrgUnitID string `validate:"required"`
	Name      string `validate:"required,max=128"`
	ParentID  string `validate:"omitempty"`
}

func (UpdateOrganizationUnitCommand) CommandName() string { return "identity.update_org_unit" }

func (c UpdateOrganizationUnitCommand) ResourceKey() string { return "org_unit:" + c.OrgUnitID }

type UpdateOrganizationUnitUseCase struct {
	OrgUnits ports.OrganizationUnitRepository
	Clock    ports.Clock
	Logger   *slog.Logger
}

func (uc UpdateOrganizationUnitUseCase) Execute(ctx context.Context, cmd UpdateOrganizationUnitCommand) (struct{}, []commandbus.DomainEvent, error) {
	logger := application.ResolveLogger(uc.Logger)

	unit, err := uc.OrgUnits.GetOrgUnit(ctx, cmd.OrgUnitID)
	if err != nil {
		return struct{}{}, nil, err
	}

	parentID := strings.TrimSpace(cmd.ParentID)
	if parentID != "" {
		if parentID == unit.OrgUnitID {
			return struct{}{}, nil, domainerrors.ErrOrgUnitCycle
		}
		if err := uc.ensureNoCycle(ctx, unit.OrgUnitID, parentID); err != nil {
			return struct{}{}, nil, err
		}
	}

	unit.Name = strings.TrimSpace(cmd.Name)
	unit.ParentID = parentID
	unit.UpdatedAt = uc.Clock.Now().UTC()
	if err := uc.OrgUnits.SaveOrgUnit(ctx, unit); err != nil {
		return struct{}{}, nil, err
	}

	logger.InfoContext(ctx, "organization unit updated",
		"event", "org_unit_updated",
		"org_unit_id", unit.OrgUnitID,
	)
	return struct{}{}, nil, nil
}

// ensureNoCycle walks up from the candidate parent and rejects the move when
// it reaches the unit being updated.
func (uc UpdateOrganizationUnitUseCase) ensureNoCycle(ctx context.Context, orgUnitID, parentID string) error {
	current := parentID
	for current != "" {
		if current == orgUnitID {
			return domainerrors.ErrOrgUnitCycle
		}
		parent, err := uc.OrgUnits.GetOrgUnit(ctx, current)
		if err != nil {
			return err
		}
		current = parent.ParentID
	}
	return nil
}
