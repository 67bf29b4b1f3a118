package models

import (
	"time"

	"github.com/google/uuid"
)

// Entity types recorded in the change log.
const (
	EntityTypeProject      = "project"
	EntityTypeStageRecord  = "stage_record"
	EntityTypeControlPoint = "control_point"
)

// Change log actions.
const (
	ChangeActionCreate = "create"
	ChangeActionUpdate = "update"
)

// ChangeLogEntry is one immutable audit record: what changed on which entity,
// when, and who is responsible. Entries are append-only; they are queried by
// reporting but never mutated.
type ChangeLogEntry struct {
	ID         uuid.UUID `json:"id"`
	EntityType string    `json:"entity_type"`
	EntityID   uuid.UUID `json:"entity_id"`
	Action     string    `json:"action"`

	Actor     string    `json:"actor"`
	ActorKind ActorKind `json:"actor_kind"`

	// ChangedFields holds {"field": {"old": ..., "new": ...}} for updates.
	ChangedFields map[string]FieldChange `json:"changed_fields,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// FieldChange represents the old and new values for a changed field.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}
