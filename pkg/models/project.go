package models

import (
	"time"

	"github.com/google/uuid"
)

// Project represents a construction object tracked by the engine.
// Projects are created by the feed parser and mutated only through the
// upsert engine; they are never deleted.
type Project struct {
	ID         uuid.UUID `json:"id"`
	UIN        string    `json:"uin"`
	MasterCode *string   `json:"master_code,omitempty"`

	Name      *string `json:"name,omitempty"`
	Address   *string `json:"address,omitempty"`
	District  *string `json:"district,omitempty"`
	Developer *string `json:"developer,omitempty"`
	Status    *string `json:"status,omitempty"`

	// Readiness is the project-level completion percentage (0-100).
	// Either reported directly by a feed or recomputed from the
	// implementation-stage read-model.
	Readiness *int `json:"readiness,omitempty"`

	PlanStart  *time.Time `json:"plan_start,omitempty"`
	PlanFinish *time.Time `json:"plan_finish,omitempty"`
	FactStart  *time.Time `json:"fact_start,omitempty"`
	FactFinish *time.Time `json:"fact_finish,omitempty"`

	BudgetRub    *float64 `json:"budget_rub,omitempty"`
	FinancingRub *float64 `json:"financing_rub,omitempty"`
	TotalAreaM2  *float64 `json:"total_area_m2,omitempty"`
	LivingAreaM2 *float64 `json:"living_area_m2,omitempty"`

	// Derived flags, recomputed by the deadline-status sweep each run.
	// DeadlineHighRisk is tri-state: nil means "not evaluated" (it is only
	// evaluated when DeadlineFailure is false).
	Risk             bool  `json:"risk"`
	DeadlineFailure  bool  `json:"deadline_failure"`
	DeadlineHighRisk *bool `json:"deadline_high_risk,omitempty"`

	LastEditor   *string    `json:"last_editor,omitempty"`
	LastEditedAt *time.Time `json:"last_edited_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
