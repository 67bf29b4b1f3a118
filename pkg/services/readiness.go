package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stroymon/stroymon-engine/pkg/repositories"
)

// ReadinessRecomputer refreshes each project's readiness percentage from the
// implementation-stage read-model: the mean readiness of its root stages.
// Projects whose feeds report readiness directly keep the reported value —
// the upsert engine owns that field and a fresher edit timestamp wins.
type ReadinessRecomputer struct {
	projects   repositories.ProjectRepository
	implStages repositories.ImplementationStageRepository
	logger     *zap.Logger
}

// NewReadinessRecomputer creates a new ReadinessRecomputer.
func NewReadinessRecomputer(projects repositories.ProjectRepository, implStages repositories.ImplementationStageRepository, logger *zap.Logger) *ReadinessRecomputer {
	return &ReadinessRecomputer{
		projects:   projects,
		implStages: implStages,
		logger:     logger.Named("readiness"),
	}
}

// Recompute refreshes readiness for all projects. Per-project failures are
// logged and do not block the pass.
func (r *ReadinessRecomputer) Recompute(ctx context.Context) error {
	projectIDs, err := r.projects.ListIDs(ctx)
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}

	for _, projectID := range projectIDs {
		if err := r.recomputeProject(ctx, projectID); err != nil {
			r.logger.Error("readiness recompute failed for project",
				zap.String("project_id", projectID.String()),
				zap.Error(err))
		}
	}
	return nil
}

func (r *ReadinessRecomputer) recomputeProject(ctx context.Context, projectID uuid.UUID) error {
	project, err := r.projects.GetByID(ctx, projectID)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}
	if project.Readiness != nil {
		return nil // directly reported, leave it to the upsert engine
	}

	stages, err := r.implStages.ListByProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("list implementation stages: %w", err)
	}

	sum, roots := 0, 0
	for _, st := range stages {
		if st.ParentID != nil {
			continue
		}
		sum += st.Readiness
		roots++
	}
	if roots == 0 {
		return nil
	}

	return r.projects.UpdateReadiness(ctx, projectID, sum/roots)
}
