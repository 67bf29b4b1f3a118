package models

import (
	"time"

	"github.com/google/uuid"
)

// ProjectStageRecord is the per-project state of one construction stage.
// One row per (project, node); the upsert engine is the only writer.
//
// The OIV and SMG feeds each report their own plan/fact percentage pair for
// the same stage, so both pairs live on the row and the risk deriver
// compares them independently.
type ProjectStageRecord struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"project_id"`
	NodeID    uuid.UUID `json:"node_id"`

	PlanPercent    *int `json:"plan_percent,omitempty"`
	FactPercent    *int `json:"fact_percent,omitempty"`
	SMGPlanPercent *int `json:"smg_plan_percent,omitempty"`
	SMGFactPercent *int `json:"smg_fact_percent,omitempty"`

	PlanStart  *time.Time `json:"plan_start,omitempty"`
	PlanFinish *time.Time `json:"plan_finish,omitempty"`
	FactStart  *time.Time `json:"fact_start,omitempty"`
	FactFinish *time.Time `json:"fact_finish,omitempty"`

	LastEditor   *string    `json:"last_editor,omitempty"`
	LastEditedAt *time.Time `json:"last_edited_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
