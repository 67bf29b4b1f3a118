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

// StageRecordRepository provides data access for per-project stage records.
type StageRecordRepository interface {
	// Create inserts a new stage record row.
	Create(ctx context.Context, rec *models.ProjectStageRecord) error

	// GetByProjectAndNode returns the row for (project, node), or
	// apperrors.ErrNotFound.
	GetByProjectAndNode(ctx context.Context, projectID, nodeID uuid.UUID) (*models.ProjectStageRecord, error)

	// Update writes all mutable columns of the row.
	Update(ctx context.Context, rec *models.ProjectStageRecord) error

	// ListByProject returns all stage records of a project.
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.ProjectStageRecord, error)
}

type stageRecordRepository struct {
	db *database.DB
}

// NewStageRecordRepository creates a new StageRecordRepository.
func NewStageRecordRepository(db *database.DB) StageRecordRepository {
	return &stageRecordRepository{db: db}
}

var _ StageRecordRepository = (*stageRecordRepository)(nil)

const stageRecordColumns = `
	id, project_id, node_id,
	plan_percent, fact_percent, smg_plan_percent, smg_fact_percent,
	plan_start, plan_finish, fact_start, fact_finish,
	last_editor, last_edited_at, created_at, updated_at`

func (r *stageRecordRepository) Create(ctx context.Context, rec *models.ProjectStageRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	query := `
		INSERT INTO project_stage_records (` + stageRecordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.db.Exec(ctx, query,
		rec.ID, rec.ProjectID, rec.NodeID,
		rec.PlanPercent, rec.FactPercent, rec.SMGPlanPercent, rec.SMGFactPercent,
		rec.PlanStart, rec.PlanFinish, rec.FactStart, rec.FactFinish,
		rec.LastEditor, rec.LastEditedAt, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create stage record: %w", err)
	}
	return nil
}

func (r *stageRecordRepository) GetByProjectAndNode(ctx context.Context, projectID, nodeID uuid.UUID) (*models.ProjectStageRecord, error) {
	query := `SELECT ` + stageRecordColumns + `
		FROM project_stage_records WHERE project_id = $1 AND node_id = $2`

	rec, err := scanStageRecord(r.db.QueryRow(ctx, query, projectID, nodeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (r *stageRecordRepository) Update(ctx context.Context, rec *models.ProjectStageRecord) error {
	rec.UpdatedAt = time.Now()

	query := `
		UPDATE project_stage_records SET
			plan_percent = $2, fact_percent = $3,
			smg_plan_percent = $4, smg_fact_percent = $5,
			plan_start = $6, plan_finish = $7, fact_start = $8, fact_finish = $9,
			last_editor = $10, last_edited_at = $11, updated_at = $12
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		rec.ID,
		rec.PlanPercent, rec.FactPercent,
		rec.SMGPlanPercent, rec.SMGFactPercent,
		rec.PlanStart, rec.PlanFinish, rec.FactStart, rec.FactFinish,
		rec.LastEditor, rec.LastEditedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update stage record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *stageRecordRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.ProjectStageRecord, error) {
	query := `SELECT ` + stageRecordColumns + `
		FROM project_stage_records WHERE project_id = $1 ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stage records: %w", err)
	}
	defer rows.Close()

	var recs []*models.ProjectStageRecord
	for rows.Next() {
		rec, err := scanStageRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stage records: %w", err)
	}
	return recs, nil
}

func scanStageRecord(row pgx.Row) (*models.ProjectStageRecord, error) {
	var rec models.ProjectStageRecord
	err := row.Scan(
		&rec.ID, &rec.ProjectID, &rec.NodeID,
		&rec.PlanPercent, &rec.FactPercent, &rec.SMGPlanPercent, &rec.SMGFactPercent,
		&rec.PlanStart, &rec.PlanFinish, &rec.FactStart, &rec.FactFinish,
		&rec.LastEditor, &rec.LastEditedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan stage record: %w", err)
	}
	return &rec, nil
}
