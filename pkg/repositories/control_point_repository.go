package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stroymon/stroymon-engine/pkg/apperrors"
	"github.com/stroymon/stroymon-engine/pkg/database"
	"github.com/stroymon/stroymon-engine/pkg/models"
)

// ControlPointRepository provides data access for per-project control points.
type ControlPointRepository interface {
	// Create inserts a new control point row.
	Create(ctx context.Context, cp *models.ProjectControlPoint) error

	// CreateIfMissing inserts an empty placeholder row for (project, node)
	// unless one already exists. Returns true if a row was inserted.
	// Used by the synchronizer's parent backfill pre-pass; the unique
	// constraint makes repeated runs no-ops.
	CreateIfMissing(ctx context.Context, projectID, nodeID uuid.UUID) (bool, error)

	// GetByProjectAndNode returns the row for (project, node), or
	// apperrors.ErrNotFound.
	GetByProjectAndNode(ctx context.Context, projectID, nodeID uuid.UUID) (*models.ProjectControlPoint, error)

	// Update writes all mutable columns of the row.
	Update(ctx context.Context, cp *models.ProjectControlPoint) error

	// UpdateDates writes only the aggregated plan/fact date columns.
	// Used when republishing parent aggregates.
	UpdateDates(ctx context.Context, id uuid.UUID, planStart, planFinish, factStart, factFinish *time.Time) error

	// ListByProject returns all control points of a project.
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.ProjectControlPoint, error)

	// ListByProjectAndNodes returns the project's rows for the given nodes.
	ListByProjectAndNodes(ctx context.Context, projectID uuid.UUID, nodeIDs []uuid.UUID) ([]*models.ProjectControlPoint, error)
}

type controlPointRepository struct {
	db *database.DB
}

// NewControlPointRepository creates a new ControlPointRepository.
func NewControlPointRepository(db *database.DB) ControlPointRepository {
	return &controlPointRepository{db: db}
}

var _ ControlPointRepository = (*controlPointRepository)(nil)

const controlPointColumns = `
	id, project_id, node_id,
	plan_start, plan_finish, fact_start, fact_finish,
	status, performer,
	last_editor, last_edited_at, created_at, updated_at`

func (r *controlPointRepository) Create(ctx context.Context, cp *models.ProjectControlPoint) error {
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now

	query := `
		INSERT INTO project_control_points (` + controlPointColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.Exec(ctx, query,
		cp.ID, cp.ProjectID, cp.NodeID,
		cp.PlanStart, cp.PlanFinish, cp.FactStart, cp.FactFinish,
		cp.Status, cp.Performer,
		cp.LastEditor, cp.LastEditedAt, cp.CreatedAt, cp.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create control point: %w", err)
	}
	return nil
}

func (r *controlPointRepository) CreateIfMissing(ctx context.Context, projectID, nodeID uuid.UUID) (bool, error) {
	query := `
		INSERT INTO project_control_points (id, project_id, node_id, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (project_id, node_id) DO NOTHING`

	tag, err := r.db.Exec(ctx, query, uuid.New(), projectID, nodeID)
	if err != nil {
		return false, fmt.Errorf("failed to backfill control point: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *controlPointRepository) GetByProjectAndNode(ctx context.Context, projectID, nodeID uuid.UUID) (*models.ProjectControlPoint, error) {
	query := `SELECT ` + controlPointColumns + `
		FROM project_control_points WHERE project_id = $1 AND node_id = $2`

	cp, err := scanControlPoint(r.db.QueryRow(ctx, query, projectID, nodeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return cp, nil
}

func (r *controlPointRepository) Update(ctx context.Context, cp *models.ProjectControlPoint) error {
	cp.UpdatedAt = time.Now()

	query := `
		UPDATE project_control_points SET
			plan_start = $2, plan_finish = $3, fact_start = $4, fact_finish = $5,
			status = $6, performer = $7,
			last_editor = $8, last_edited_at = $9, updated_at = $10
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		cp.ID,
		cp.PlanStart, cp.PlanFinish, cp.FactStart, cp.FactFinish,
		cp.Status, cp.Performer,
		cp.LastEditor, cp.LastEditedAt, cp.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update control point: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *controlPointRepository) UpdateDates(ctx context.Context, id uuid.UUID, planStart, planFinish, factStart, factFinish *time.Time) error {
	query := `
		UPDATE project_control_points SET
			plan_start = $2, plan_finish = $3, fact_start = $4, fact_finish = $5,
			updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, planStart, planFinish, factStart, factFinish)
	if err != nil {
		return fmt.Errorf("failed to update control point dates: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *controlPointRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.ProjectControlPoint, error) {
	query := `SELECT ` + controlPointColumns + `
		FROM project_control_points WHERE project_id = $1 ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query control points: %w", err)
	}
	defer rows.Close()

	return collectControlPoints(rows)
}

func (r *controlPointRepository) ListByProjectAndNodes(ctx context.Context, projectID uuid.UUID, nodeIDs []uuid.UUID) ([]*models.ProjectControlPoint, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}

	query := `SELECT ` + controlPointColumns + `
		FROM project_control_points
		WHERE project_id = $1 AND node_id = ANY($2)
		ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, projectID, nodeIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query control points by nodes: %w", err)
	}
	defer rows.Close()

	return collectControlPoints(rows)
}

func collectControlPoints(rows pgx.Rows) ([]*models.ProjectControlPoint, error) {
	var cps []*models.ProjectControlPoint
	for rows.Next() {
		cp, err := scanControlPoint(rows)
		if err != nil {
			return nil, err
		}
		cps = append(cps, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating control points: %w", err)
	}
	return cps, nil
}

func scanControlPoint(row pgx.Row) (*models.ProjectControlPoint, error) {
	var cp models.ProjectControlPoint
	err := row.Scan(
		&cp.ID, &cp.ProjectID, &cp.NodeID,
		&cp.PlanStart, &cp.PlanFinish, &cp.FactStart, &cp.FactFinish,
		&cp.Status, &cp.Performer,
		&cp.LastEditor, &cp.LastEditedAt, &cp.CreatedAt, &cp.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan control point: %w", err)
	}
	return &cp, nil
}
