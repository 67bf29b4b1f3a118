package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stroymon/stroymon-engine/pkg/database"
	"github.com/stroymon/stroymon-engine/pkg/models"
)

// StatusHistoryRepository provides data access for project status transitions.
type StatusHistoryRepository interface {
	// Create appends a status transition.
	Create(ctx context.Context, entry *models.StatusHistoryEntry) error

	// ListByProject returns a project's transitions, newest first.
	ListByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.StatusHistoryEntry, error)
}

type statusHistoryRepository struct {
	db *database.DB
}

// NewStatusHistoryRepository creates a new StatusHistoryRepository.
func NewStatusHistoryRepository(db *database.DB) StatusHistoryRepository {
	return &statusHistoryRepository{db: db}
}

var _ StatusHistoryRepository = (*statusHistoryRepository)(nil)

func (r *statusHistoryRepository) Create(ctx context.Context, entry *models.StatusHistoryEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = time.Now()

	query := `
		INSERT INTO status_history (id, project_id, old_status, new_status, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.Exec(ctx, query,
		entry.ID, entry.ProjectID, entry.OldStatus, entry.NewStatus, entry.Actor, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create status history entry: %w", err)
	}
	return nil
}

func (r *statusHistoryRepository) ListByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.StatusHistoryEntry, error) {
	query := `
		SELECT id, project_id, old_status, new_status, actor, created_at
		FROM status_history
		WHERE project_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query status history: %w", err)
	}
	defer rows.Close()

	var entries []*models.StatusHistoryEntry
	for rows.Next() {
		var e models.StatusHistoryEntry
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.OldStatus, &e.NewStatus, &e.Actor, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status history entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status history: %w", err)
	}
	return entries, nil
}
