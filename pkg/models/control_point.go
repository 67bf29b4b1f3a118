package models

import (
	"time"

	"github.com/google/uuid"
)

// ProjectControlPoint is the per-project state of one control-point node.
// One row per (project, node). Parent rows aggregate their children's dates:
// plan/fact start is the minimum over children, plan/fact finish the maximum,
// recomputed from scratch by the hierarchy synchronizer (never patched
// incrementally).
type ProjectControlPoint struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"project_id"`
	NodeID    uuid.UUID `json:"node_id"`

	PlanStart  *time.Time `json:"plan_start,omitempty"`
	PlanFinish *time.Time `json:"plan_finish,omitempty"`
	FactStart  *time.Time `json:"fact_start,omitempty"`
	FactFinish *time.Time `json:"fact_finish,omitempty"`

	Status    *string `json:"status,omitempty"`
	Performer *string `json:"performer,omitempty"`

	LastEditor   *string    `json:"last_editor,omitempty"`
	LastEditedAt *time.Time `json:"last_edited_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasAnyDate reports whether the point carries at least one plan or fact date.
// Points with no dates anywhere are pruned from the read-model.
func (p *ProjectControlPoint) HasAnyDate() bool {
	return p.PlanStart != nil || p.PlanFinish != nil || p.FactStart != nil || p.FactFinish != nil
}

// IsComplete reports whether the point has a recorded fact-finish date.
func (p *ProjectControlPoint) IsComplete() bool {
	return p.FactFinish != nil
}
