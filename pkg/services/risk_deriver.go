package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stroymon/stroymon-engine/pkg/models"
	"github.com/stroymon/stroymon-engine/pkg/repositories"
)

// RiskFlags are the derived per-project flags.
// DeadlineHighRisk is nil when the project has no control points to judge.
type RiskFlags struct {
	Risk             bool
	DeadlineFailure  bool
	DeadlineHighRisk *bool
}

// DeriveFlags computes the risk flags from a project's current stage and
// control-point records. It is a pure function of its inputs and is run as a
// full recompute each sweep; flags are not sticky.
//
//   - Risk: any stage record reports fact behind plan, on either the OIV or
//     the SMG percentage pair.
//   - DeadlineFailure: any control point's plan-finish is in the past with
//     no fact-finish.
//   - DeadlineHighRisk: evaluated only when there is no failure. Requires
//     both a point due within the approaching window that has not even
//     started, and a point that historically finished more than the late
//     threshold past its plan.
func DeriveFlags(now time.Time, stageRecords []*models.ProjectStageRecord, points []*models.ProjectControlPoint, approachingDeadline, lateThreshold time.Duration) RiskFlags {
	flags := RiskFlags{}

	for _, rec := range stageRecords {
		if percentBehind(rec.PlanPercent, rec.FactPercent) || percentBehind(rec.SMGPlanPercent, rec.SMGFactPercent) {
			flags.Risk = true
			break
		}
	}

	if len(points) == 0 {
		return flags
	}

	today := truncateToDay(now)
	for _, cp := range points {
		if cp.PlanFinish != nil && cp.PlanFinish.Before(today) && cp.FactFinish == nil {
			flags.DeadlineFailure = true
			break
		}
	}

	if flags.DeadlineFailure {
		f := false
		flags.DeadlineHighRisk = &f
		return flags
	}

	dueSoonNotStarted := false
	historicallyLate := false
	for _, cp := range points {
		if !dueSoonNotStarted &&
			cp.FactFinish == nil && cp.FactStart == nil &&
			cp.PlanFinish != nil &&
			cp.PlanFinish.After(today) &&
			cp.PlanFinish.Sub(today) <= approachingDeadline {
			dueSoonNotStarted = true
		}
		if !historicallyLate &&
			cp.FactFinish != nil && cp.PlanFinish != nil &&
			cp.FactFinish.Sub(*cp.PlanFinish) > lateThreshold {
			historicallyLate = true
		}
	}

	high := dueSoonNotStarted && historicallyLate
	flags.DeadlineHighRisk = &high
	return flags
}

func percentBehind(plan, fact *int) bool {
	return plan != nil && fact != nil && *fact < *plan
}

// RiskSweeper recomputes risk flags for every project.
type RiskSweeper struct {
	projects      repositories.ProjectRepository
	stageRecords  repositories.StageRecordRepository
	controlPoints repositories.ControlPointRepository
	changeLog     ChangeLogService

	approachingDeadline time.Duration
	lateThreshold       time.Duration

	now    func() time.Time
	logger *zap.Logger
}

// NewRiskSweeper creates a new RiskSweeper.
func NewRiskSweeper(
	projects repositories.ProjectRepository,
	stageRecords repositories.StageRecordRepository,
	controlPoints repositories.ControlPointRepository,
	changeLog ChangeLogService,
	approachingDeadline, lateThreshold time.Duration,
	logger *zap.Logger,
) *RiskSweeper {
	return &RiskSweeper{
		projects:            projects,
		stageRecords:        stageRecords,
		controlPoints:       controlPoints,
		changeLog:           changeLog,
		approachingDeadline: approachingDeadline,
		lateThreshold:       lateThreshold,
		now:                 time.Now,
		logger:              logger.Named("risk-sweeper"),
	}
}

// Sweep recomputes flags for all projects. Per-project failures are logged
// and do not block the sweep; the sweep is idempotent and safe to re-run.
func (s *RiskSweeper) Sweep(ctx context.Context) error {
	projectIDs, err := s.projects.ListIDs(ctx)
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}

	updated, failed := 0, 0
	for _, projectID := range projectIDs {
		changed, err := s.sweepProject(ctx, projectID)
		if err != nil {
			failed++
			s.logger.Error("risk sweep failed for project",
				zap.String("project_id", projectID.String()),
				zap.Error(err))
			continue
		}
		if changed {
			updated++
		}
	}

	s.logger.Info("risk sweep complete",
		zap.Int("projects", len(projectIDs)),
		zap.Int("updated", updated),
		zap.Int("failed", failed))
	return nil
}

func (s *RiskSweeper) sweepProject(ctx context.Context, projectID uuid.UUID) (bool, error) {
	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return false, fmt.Errorf("load project: %w", err)
	}

	stageRecords, err := s.stageRecords.ListByProject(ctx, projectID)
	if err != nil {
		return false, fmt.Errorf("list stage records: %w", err)
	}
	points, err := s.controlPoints.ListByProject(ctx, projectID)
	if err != nil {
		return false, fmt.Errorf("list control points: %w", err)
	}

	flags := DeriveFlags(s.now(), stageRecords, points, s.approachingDeadline, s.lateThreshold)
	if flags.Risk == project.Risk &&
		flags.DeadlineFailure == project.DeadlineFailure &&
		boolPtrEqual(flags.DeadlineHighRisk, project.DeadlineHighRisk) {
		return false, nil
	}

	if err := s.projects.UpdateRiskFlags(ctx, projectID, flags.Risk, flags.DeadlineFailure, flags.DeadlineHighRisk); err != nil {
		return false, fmt.Errorf("update risk flags: %w", err)
	}

	s.changeLog.RecordUpdate(ctx, models.EntityTypeProject, projectID, map[string]models.FieldChange{
		"risk":               {Old: boolValue(project.Risk), New: boolValue(flags.Risk)},
		"deadline_failure":   {Old: boolValue(project.DeadlineFailure), New: boolValue(flags.DeadlineFailure)},
		"deadline_high_risk": {Old: boolPtrString(project.DeadlineHighRisk), New: boolPtrString(flags.DeadlineHighRisk)},
	})
	return true, nil
}

func boolPtrEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func boolValue(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func boolPtrString(b *bool) string {
	if b == nil {
		return ""
	}
	return boolValue(*b)
}
