package models

import (
	"time"

	"github.com/google/uuid"
)

// Implementation-stage status values.
const (
	StageStatusComplete   = "complete"
	StageStatusInProgress = "in_progress"
)

// Implementation-stage color classification used by dashboards.
const (
	StageColorGreen  = "green"  // complete and on time
	StageColorRed    = "red"    // complete but late, or overdue and incomplete
	StageColorYellow = "yellow" // incomplete, plan finish inside the approaching-deadline window
	StageColorWhite  = "white"  // nothing notable
)

// ImplementationStage is the derived read-model row published by the
// hierarchy synchronizer. It is rebuilt per project on every sync; dashboards
// only read it.
type ImplementationStage struct {
	ID        uuid.UUID  `json:"id"`
	ProjectID uuid.UUID  `json:"project_id"`
	NodeID    uuid.UUID  `json:"node_id"`
	ParentID  *uuid.UUID `json:"parent_id,omitempty"`
	Name      string     `json:"name"`

	// Readiness is 100 for complete nodes, the percentage of complete
	// children for parents, 0 otherwise.
	Readiness int    `json:"readiness"`
	Status    string `json:"status"`
	Color     string `json:"color"`

	PlanStart  *time.Time `json:"plan_start,omitempty"`
	PlanFinish *time.Time `json:"plan_finish,omitempty"`
	FactStart  *time.Time `json:"fact_start,omitempty"`
	FactFinish *time.Time `json:"fact_finish,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}
