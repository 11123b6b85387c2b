package entities

import "time"

// OrganizationUnit is a node in the org tree. ParentID is empty for roots.
type OrganizationUnit struct {
	OrgUnitID string
	Name      string
	ParentID  string
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}
