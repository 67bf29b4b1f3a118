// Package repositories provides pgx-backed data access for engine entities.
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

// ProjectRepository provides data access for construction projects.
type ProjectRepository interface {
	// Create inserts a new project row.
	Create(ctx context.Context, p *models.Project) error

	// GetByID returns the project with the given internal id.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error)

	// GetByUIN returns the project with the given UIN, or
	// apperrors.ErrNotFound.
	GetByUIN(ctx context.Context, uin string) (*models.Project, error)

	// GetByMasterCode returns the project with the given master-code, or
	// apperrors.ErrNotFound.
	GetByMasterCode(ctx context.Context, code string) (*models.Project, error)

	// Update writes all mutable columns of the project row.
	Update(ctx context.Context, p *models.Project) error

	// UpdateRiskFlags writes only the derived risk columns.
	UpdateRiskFlags(ctx context.Context, id uuid.UUID, risk, deadlineFailure bool, deadlineHighRisk *bool) error

	// UpdateReadiness writes only the readiness column.
	UpdateReadiness(ctx context.Context, id uuid.UUID, readiness int) error

	// ListIDs returns the ids of all projects, for full-sweep jobs.
	ListIDs(ctx context.Context) ([]uuid.UUID, error)
}

type projectRepository struct {
	db *database.DB
}

// NewProjectRepository creates a new ProjectRepository.
func NewProjectRepository(db *database.DB) ProjectRepository {
	return &projectRepository{db: db}
}

var _ ProjectRepository = (*projectRepository)(nil)

const projectColumns = `
	id, uin, master_code, name, address, district, developer, status,
	readiness, plan_start, plan_finish, fact_start, fact_finish,
	budget_rub, financing_rub, total_area_m2, living_area_m2,
	risk, deadline_failure, deadline_high_risk,
	last_editor, last_edited_at, created_at, updated_at`

func (r *projectRepository) Create(ctx context.Context, p *models.Project) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	query := `
		INSERT INTO projects (` + projectColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		        $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`

	_, err := r.db.Exec(ctx, query,
		p.ID, p.UIN, p.MasterCode, p.Name, p.Address, p.District, p.Developer, p.Status,
		p.Readiness, p.PlanStart, p.PlanFinish, p.FactStart, p.FactFinish,
		p.BudgetRub, p.FinancingRub, p.TotalAreaM2, p.LivingAreaM2,
		p.Risk, p.DeadlineFailure, p.DeadlineHighRisk,
		p.LastEditor, p.LastEditedAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

func (r *projectRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *projectRepository) GetByUIN(ctx context.Context, uin string) (*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE uin = $1`
	return r.getOne(ctx, query, uin)
}

func (r *projectRepository) GetByMasterCode(ctx context.Context, code string) (*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE master_code = $1`
	return r.getOne(ctx, query, code)
}

func (r *projectRepository) getOne(ctx context.Context, query string, arg any) (*models.Project, error) {
	row := r.db.QueryRow(ctx, query, arg)
	p, err := scanProject(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *projectRepository) Update(ctx context.Context, p *models.Project) error {
	p.UpdatedAt = time.Now()

	query := `
		UPDATE projects SET
			master_code = $2, name = $3, address = $4, district = $5,
			developer = $6, status = $7, readiness = $8,
			plan_start = $9, plan_finish = $10, fact_start = $11, fact_finish = $12,
			budget_rub = $13, financing_rub = $14, total_area_m2 = $15, living_area_m2 = $16,
			risk = $17, deadline_failure = $18, deadline_high_risk = $19,
			last_editor = $20, last_edited_at = $21, updated_at = $22
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		p.ID, p.MasterCode, p.Name, p.Address, p.District,
		p.Developer, p.Status, p.Readiness,
		p.PlanStart, p.PlanFinish, p.FactStart, p.FactFinish,
		p.BudgetRub, p.FinancingRub, p.TotalAreaM2, p.LivingAreaM2,
		p.Risk, p.DeadlineFailure, p.DeadlineHighRisk,
		p.LastEditor, p.LastEditedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *projectRepository) UpdateRiskFlags(ctx context.Context, id uuid.UUID, risk, deadlineFailure bool, deadlineHighRisk *bool) error {
	query := `
		UPDATE projects
		SET risk = $2, deadline_failure = $3, deadline_high_risk = $4, updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, risk, deadlineFailure, deadlineHighRisk)
	if err != nil {
		return fmt.Errorf("failed to update risk flags: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *projectRepository) UpdateReadiness(ctx context.Context, id uuid.UUID, readiness int) error {
	query := `UPDATE projects SET readiness = $2, updated_at = now() WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, readiness)
	if err != nil {
		return fmt.Errorf("failed to update readiness: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *projectRepository) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list project ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan project id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating project ids: %w", err)
	}
	return ids, nil
}

func scanProject(row pgx.Row) (*models.Project, error) {
	var p models.Project
	err := row.Scan(
		&p.ID, &p.UIN, &p.MasterCode, &p.Name, &p.Address, &p.District, &p.Developer, &p.Status,
		&p.Readiness, &p.PlanStart, &p.PlanFinish, &p.FactStart, &p.FactFinish,
		&p.BudgetRub, &p.FinancingRub, &p.TotalAreaM2, &p.LivingAreaM2,
		&p.Risk, &p.DeadlineFailure, &p.DeadlineHighRisk,
		&p.LastEditor, &p.LastEditedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	return &p, nil
}
