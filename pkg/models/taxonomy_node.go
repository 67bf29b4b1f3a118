package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaxonomyFamily separates the two node catalogs resolved from feed labels.
type TaxonomyFamily string

const (
	// FamilyStage is the construction-stage catalog ("СТРЭТАП ..." labels).
	FamilyStage TaxonomyFamily = "stage"
	// FamilyControlPoint is the control-point catalog ("КОНТРТОЧКА ..." labels).
	FamilyControlPoint TaxonomyFamily = "control_point"
)

// IsValid returns true if the family is one of the known catalogs.
func (f TaxonomyFamily) IsValid() bool {
	return f == FamilyStage || f == FamilyControlPoint
}

// TaxonomyNode is a lazily materialized catalog entry for a feed label.
// Nodes are permanent: historical records must keep resolving to the same
// node, so there is no delete or rename.
//
// Uniqueness is (family, normalized_name, parent_id); the database enforces
// it so that concurrent first-sight resolution of the same label cannot
// create duplicates.
type TaxonomyNode struct {
	ID             uuid.UUID      `json:"id"`
	Family         TaxonomyFamily `json:"family"`
	Name           string         `json:"name"`
	NormalizedName string         `json:"normalized_name"`
	ParentID       *uuid.UUID     `json:"parent_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// NormalizeNodeName produces the lookup key for a node name: trimmed,
// inner whitespace collapsed, case-folded.
func NormalizeNodeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
