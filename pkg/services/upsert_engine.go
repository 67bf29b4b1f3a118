package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stroymon/stroymon-engine/pkg/apperrors"
	"github.com/stroymon/stroymon-engine/pkg/models"
	"github.com/stroymon/stroymon-engine/pkg/repositories"
)

// UpsertOutcome describes what one upsert did.
type UpsertOutcome struct {
	// Applied is true when the row was inserted or updated.
	Applied bool
	// Created is true when a new row was inserted.
	Created bool
	// Stale is true when the incoming edit timestamp was not strictly
	// newer than the stored one and the upsert was a no-op.
	Stale bool
	// Changes is the field-level diff of an applied update.
	Changes map[string]models.FieldChange
}

// UpsertEngine merges normalized incoming records into stored per-project
// state under the last-write-wins rule: an update applies only when the
// incoming edit timestamp is strictly newer than the stored one. Ties lose;
// the two near-duplicate legacy paths disagreed on ties, and strictly-newer
// is the rule kept everywhere here. Absent incoming values never erase
// stored ones.
type UpsertEngine interface {
	// UpsertProjectFields merges project-level scalar fields.
	UpsertProjectFields(ctx context.Context, projectID uuid.UUID, incoming *models.Project, editedAt time.Time) (UpsertOutcome, error)

	// UpsertStageRecord merges one construction-stage record.
	UpsertStageRecord(ctx context.Context, projectID, nodeID uuid.UUID, incoming *models.ProjectStageRecord, editedAt time.Time) (UpsertOutcome, error)

	// UpsertControlPoint merges one control-point record.
	UpsertControlPoint(ctx context.Context, projectID, nodeID uuid.UUID, incoming *models.ProjectControlPoint, editedAt time.Time) (UpsertOutcome, error)
}

type upsertEngine struct {
	projects      repositories.ProjectRepository
	stageRecords  repositories.StageRecordRepository
	controlPoints repositories.ControlPointRepository
	statusHistory repositories.StatusHistoryRepository
	changeLog     ChangeLogService
	logger        *zap.Logger
}

// NewUpsertEngine creates a new UpsertEngine.
func NewUpsertEngine(
	projects repositories.ProjectRepository,
	stageRecords repositories.StageRecordRepository,
	controlPoints repositories.ControlPointRepository,
	statusHistory repositories.StatusHistoryRepository,
	changeLog ChangeLogService,
	logger *zap.Logger,
) UpsertEngine {
	return &upsertEngine{
		projects:      projects,
		stageRecords:  stageRecords,
		controlPoints: controlPoints,
		statusHistory: statusHistory,
		changeLog:     changeLog,
		logger:        logger.Named("upsert-engine"),
	}
}

var _ UpsertEngine = (*upsertEngine)(nil)

// isStale reports whether the stored edit timestamp blocks the incoming one.
func isStale(stored *time.Time, incoming time.Time) bool {
	return stored != nil && !incoming.After(*stored)
}

func (e *upsertEngine) UpsertProjectFields(ctx context.Context, projectID uuid.UUID, incoming *models.Project, editedAt time.Time) (UpsertOutcome, error) {
	stored, err := e.projects.GetByID(ctx, projectID)
	if err != nil {
		return UpsertOutcome{}, fmt.Errorf("load project: %w", err)
	}

	if isStale(stored.LastEditedAt, editedAt) {
		e.logStale(models.EntityTypeProject, projectID, stored.LastEditedAt, editedAt)
		return UpsertOutcome{Stale: true}, nil
	}

	oldStatus := stored.Status

	diff := newFieldDiff()
	diff.mergeString("master_code", &stored.MasterCode, incoming.MasterCode)
	diff.mergeString("name", &stored.Name, incoming.Name)
	diff.mergeString("address", &stored.Address, incoming.Address)
	diff.mergeString("district", &stored.District, incoming.District)
	diff.mergeString("developer", &stored.Developer, incoming.Developer)
	diff.mergeString("status", &stored.Status, incoming.Status)
	diff.mergeInt("readiness", &stored.Readiness, incoming.Readiness)
	diff.mergeDate("plan_start", &stored.PlanStart, incoming.PlanStart)
	diff.mergeDate("plan_finish", &stored.PlanFinish, incoming.PlanFinish)
	diff.mergeDate("fact_start", &stored.FactStart, incoming.FactStart)
	diff.mergeDate("fact_finish", &stored.FactFinish, incoming.FactFinish)
	diff.mergeFloat("budget_rub", &stored.BudgetRub, incoming.BudgetRub)
	diff.mergeFloat("financing_rub", &stored.FinancingRub, incoming.FinancingRub)
	diff.mergeFloat("total_area_m2", &stored.TotalAreaM2, incoming.TotalAreaM2)
	diff.mergeFloat("living_area_m2", &stored.LivingAreaM2, incoming.LivingAreaM2)

	if diff.empty() {
		return UpsertOutcome{}, nil
	}

	actor := models.ActorOrSystem(ctx)
	stored.LastEditor = &actor.Username
	stored.LastEditedAt = &editedAt

	if err := e.projects.Update(ctx, stored); err != nil {
		return UpsertOutcome{}, fmt.Errorf("update project: %w", err)
	}

	e.changeLog.RecordUpdate(ctx, models.EntityTypeProject, projectID, diff.changes)

	// Status transitions feed a dedicated history table on top of the
	// regular audit trail.
	if diff.changed("status") && stored.Status != nil {
		entry := &models.StatusHistoryEntry{
			ProjectID: projectID,
			OldStatus: oldStatus,
			NewStatus: *stored.Status,
			Actor:     actor.Username,
		}
		if err := e.statusHistory.Create(ctx, entry); err != nil {
			e.logger.Error("failed to record status transition",
				zap.String("project_id", projectID.String()),
				zap.Error(err))
		}
	}

	return UpsertOutcome{Applied: true, Changes: diff.changes}, nil
}

func (e *upsertEngine) UpsertStageRecord(ctx context.Context, projectID, nodeID uuid.UUID, incoming *models.ProjectStageRecord, editedAt time.Time) (UpsertOutcome, error) {
	stored, err := e.stageRecords.GetByProjectAndNode(ctx, projectID, nodeID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return e.createStageRecord(ctx, projectID, nodeID, incoming, editedAt)
	}
	if err != nil {
		return UpsertOutcome{}, fmt.Errorf("load stage record: %w", err)
	}

	if isStale(stored.LastEditedAt, editedAt) {
		e.logStale(models.EntityTypeStageRecord, stored.ID, stored.LastEditedAt, editedAt)
		return UpsertOutcome{Stale: true}, nil
	}

	diff := newFieldDiff()
	diff.mergeInt("plan_percent", &stored.PlanPercent, incoming.PlanPercent)
	diff.mergeInt("fact_percent", &stored.FactPercent, incoming.FactPercent)
	diff.mergeInt("smg_plan_percent", &stored.SMGPlanPercent, incoming.SMGPlanPercent)
	diff.mergeInt("smg_fact_percent", &stored.SMGFactPercent, incoming.SMGFactPercent)
	diff.mergeDate("plan_start", &stored.PlanStart, incoming.PlanStart)
	diff.mergeDate("plan_finish", &stored.PlanFinish, incoming.PlanFinish)
	diff.mergeDate("fact_start", &stored.FactStart, incoming.FactStart)
	diff.mergeDate("fact_finish", &stored.FactFinish, incoming.FactFinish)

	if diff.empty() {
		return UpsertOutcome{}, nil
	}

	actor := models.ActorOrSystem(ctx)
	stored.LastEditor = &actor.Username
	stored.LastEditedAt = &editedAt

	if err := e.stageRecords.Update(ctx, stored); err != nil {
		return UpsertOutcome{}, fmt.Errorf("update stage record: %w", err)
	}

	e.changeLog.RecordUpdate(ctx, models.EntityTypeStageRecord, stored.ID, diff.changes)
	return UpsertOutcome{Applied: true, Changes: diff.changes}, nil
}

func (e *upsertEngine) createStageRecord(ctx context.Context, projectID, nodeID uuid.UUID, incoming *models.ProjectStageRecord, editedAt time.Time) (UpsertOutcome, error) {
	actor := models.ActorOrSystem(ctx)

	rec := &models.ProjectStageRecord{
		ProjectID:      projectID,
		NodeID:         nodeID,
		PlanPercent:    incoming.PlanPercent,
		FactPercent:    incoming.FactPercent,
		SMGPlanPercent: incoming.SMGPlanPercent,
		SMGFactPercent: incoming.SMGFactPercent,
		PlanStart:      incoming.PlanStart,
		PlanFinish:     incoming.PlanFinish,
		FactStart:      incoming.FactStart,
		FactFinish:     incoming.FactFinish,
		LastEditor:     &actor.Username,
		LastEditedAt:   &editedAt,
	}
	if err := e.stageRecords.Create(ctx, rec); err != nil {
		return UpsertOutcome{}, fmt.Errorf("create stage record: %w", err)
	}

	e.changeLog.RecordCreate(ctx, models.EntityTypeStageRecord, rec.ID)
	return UpsertOutcome{Applied: true, Created: true}, nil
}

func (e *upsertEngine) UpsertControlPoint(ctx context.Context, projectID, nodeID uuid.UUID, incoming *models.ProjectControlPoint, editedAt time.Time) (UpsertOutcome, error) {
	stored, err := e.controlPoints.GetByProjectAndNode(ctx, projectID, nodeID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return e.createControlPoint(ctx, projectID, nodeID, incoming, editedAt)
	}
	if err != nil {
		return UpsertOutcome{}, fmt.Errorf("load control point: %w", err)
	}

	if isStale(stored.LastEditedAt, editedAt) {
		e.logStale(models.EntityTypeControlPoint, stored.ID, stored.LastEditedAt, editedAt)
		return UpsertOutcome{Stale: true}, nil
	}

	diff := newFieldDiff()
	diff.mergeDate("plan_start", &stored.PlanStart, incoming.PlanStart)
	diff.mergeDate("plan_finish", &stored.PlanFinish, incoming.PlanFinish)
	diff.mergeDate("fact_start", &stored.FactStart, incoming.FactStart)
	diff.mergeDate("fact_finish", &stored.FactFinish, incoming.FactFinish)
	diff.mergeString("status", &stored.Status, incoming.Status)
	diff.mergeString("performer", &stored.Performer, incoming.Performer)

	if diff.empty() {
		return UpsertOutcome{}, nil
	}

	actor := models.ActorOrSystem(ctx)
	stored.LastEditor = &actor.Username
	stored.LastEditedAt = &editedAt

	if err := e.controlPoints.Update(ctx, stored); err != nil {
		return UpsertOutcome{}, fmt.Errorf("update control point: %w", err)
	}

	e.changeLog.RecordUpdate(ctx, models.EntityTypeControlPoint, stored.ID, diff.changes)
	return UpsertOutcome{Applied: true, Changes: diff.changes}, nil
}

func (e *upsertEngine) createControlPoint(ctx context.Context, projectID, nodeID uuid.UUID, incoming *models.ProjectControlPoint, editedAt time.Time) (UpsertOutcome, error) {
	actor := models.ActorOrSystem(ctx)

	cp := &models.ProjectControlPoint{
		ProjectID:    projectID,
		NodeID:       nodeID,
		PlanStart:    incoming.PlanStart,
		PlanFinish:   incoming.PlanFinish,
		FactStart:    incoming.FactStart,
		FactFinish:   incoming.FactFinish,
		Status:       incoming.Status,
		Performer:    incoming.Performer,
		LastEditor:   &actor.Username,
		LastEditedAt: &editedAt,
	}
	if err := e.controlPoints.Create(ctx, cp); err != nil {
		return UpsertOutcome{}, fmt.Errorf("create control point: %w", err)
	}

	e.changeLog.RecordCreate(ctx, models.EntityTypeControlPoint, cp.ID)
	return UpsertOutcome{Applied: true, Created: true}, nil
}

func (e *upsertEngine) logStale(entityType string, id uuid.UUID, stored *time.Time, incoming time.Time) {
	e.logger.Warn("ignored stale update",
		zap.String("entity_type", entityType),
		zap.String("entity_id", id.String()),
		zap.Timep("stored_edited_at", stored),
		zap.Time("incoming_edited_at", incoming))
}
