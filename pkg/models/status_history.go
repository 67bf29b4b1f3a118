package models

import (
	"time"

	"github.com/google/uuid"
)

// StatusHistoryEntry records a project status transition. It is written as a
// side effect of the upsert engine whenever the status field changes, in
// addition to the regular change-log entry.
type StatusHistoryEntry struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"project_id"`
	OldStatus *string   `json:"old_status,omitempty"`
	NewStatus string    `json:"new_status"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}
