package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stroymon/stroymon-engine/pkg/database"
	"github.com/stroymon/stroymon-engine/pkg/models"
)

// ImplementationStageRepository provides data access for the derived
// implementation-stage read-model.
type ImplementationStageRepository interface {
	// ReplaceForProject atomically replaces the project's read-model rows
	// with the given set. The synchronizer always rebuilds from scratch, so
	// replace-all keeps pruned nodes from lingering.
	ReplaceForProject(ctx context.Context, projectID uuid.UUID, stages []*models.ImplementationStage) error

	// ListByProject returns the project's read-model rows.
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.ImplementationStage, error)
}

type implementationStageRepository struct {
	db *database.DB
}

// NewImplementationStageRepository creates a new ImplementationStageRepository.
func NewImplementationStageRepository(db *database.DB) ImplementationStageRepository {
	return &implementationStageRepository{db: db}
}

var _ ImplementationStageRepository = (*implementationStageRepository)(nil)

func (r *implementationStageRepository) ReplaceForProject(ctx context.Context, projectID uuid.UUID, stages []*models.ImplementationStage) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM implementation_stages WHERE project_id = $1`, projectID); err != nil {
		return fmt.Errorf("failed to clear implementation stages: %w", err)
	}

	now := time.Now()
	for _, st := range stages {
		if st.ID == uuid.Nil {
			st.ID = uuid.New()
		}
		st.UpdatedAt = now

		_, err := tx.Exec(ctx, `
			INSERT INTO implementation_stages (
				id, project_id, node_id, parent_id, name,
				readiness, status, color,
				plan_start, plan_finish, fact_start, fact_finish, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			st.ID, st.ProjectID, st.NodeID, st.ParentID, st.Name,
			st.Readiness, st.Status, st.Color,
			st.PlanStart, st.PlanFinish, st.FactStart, st.FactFinish, st.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert implementation stage %q: %w", st.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit implementation stages: %w", err)
	}
	return nil
}

func (r *implementationStageRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.ImplementationStage, error) {
	query := `
		SELECT id, project_id, node_id, parent_id, name,
		       readiness, status, color,
		       plan_start, plan_finish, fact_start, fact_finish, updated_at
		FROM implementation_stages
		WHERE project_id = $1
		ORDER BY name`

	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query implementation stages: %w", err)
	}
	defer rows.Close()

	var stages []*models.ImplementationStage
	for rows.Next() {
		st, err := scanImplementationStage(rows)
		if err != nil {
			return nil, err
		}
		stages = append(stages, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating implementation stages: %w", err)
	}
	return stages, nil
}

func scanImplementationStage(row pgx.Row) (*models.ImplementationStage, error) {
	var st models.ImplementationStage
	err := row.Scan(
		&st.ID, &st.ProjectID, &st.NodeID, &st.ParentID, &st.Name,
		&st.Readiness, &st.Status, &st.Color,
		&st.PlanStart, &st.PlanFinish, &st.FactStart, &st.FactFinish, &st.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan implementation stage: %w", err)
	}
	return &st, nil
}
