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

// HierarchySynchronizer propagates control-point leaf changes up the
// taxonomy and republishes the implementation-stage read-model consumed by
// dashboards.
//
// Parent aggregates are always recomputed from all children, never patched
// incrementally, so a re-run after partial failure converges to the same
// state.
type HierarchySynchronizer interface {
	// EnsureMappedParents creates missing placeholder rows for every
	// allow-listed parent node on every project. Runs as a pre-pass before
	// aggregation so the read-model is complete even for projects whose
	// feeds never mentioned a parent directly.
	EnsureMappedParents(ctx context.Context) error

	// SyncFromLeaf recomputes the changed leaf's ancestor aggregates and
	// republishes the project's read-model.
	SyncFromLeaf(ctx context.Context, leaf *models.ProjectControlPoint) error

	// SyncProject recomputes all parent aggregates of one project and
	// republishes its read-model.
	SyncProject(ctx context.Context, projectID uuid.UUID) error

	// SyncAll runs SyncProject over every project. A single project's
	// failure is logged and does not block the others.
	SyncAll(ctx context.Context) error
}

type hierarchySynchronizer struct {
	taxonomy      repositories.TaxonomyRepository
	controlPoints repositories.ControlPointRepository
	implStages    repositories.ImplementationStageRepository
	projects      repositories.ProjectRepository

	// mappedParents holds normalized names of reporting-relevant parents.
	mappedParents map[string]bool

	// approachingDeadline is the look-ahead window for yellow coloring.
	approachingDeadline time.Duration

	now    func() time.Time
	logger *zap.Logger
}

// NewHierarchySynchronizer creates a new HierarchySynchronizer.
func NewHierarchySynchronizer(
	taxonomy repositories.TaxonomyRepository,
	controlPoints repositories.ControlPointRepository,
	implStages repositories.ImplementationStageRepository,
	projects repositories.ProjectRepository,
	mappedParents []string,
	approachingDeadline time.Duration,
	logger *zap.Logger,
) HierarchySynchronizer {
	mapped := make(map[string]bool, len(mappedParents))
	for _, name := range mappedParents {
		mapped[models.NormalizeNodeName(name)] = true
	}
	return &hierarchySynchronizer{
		taxonomy:            taxonomy,
		controlPoints:       controlPoints,
		implStages:          implStages,
		projects:            projects,
		mappedParents:       mapped,
		approachingDeadline: approachingDeadline,
		now:                 time.Now,
		logger:              logger.Named("hierarchy-sync"),
	}
}

var _ HierarchySynchronizer = (*hierarchySynchronizer)(nil)

func (s *hierarchySynchronizer) EnsureMappedParents(ctx context.Context) error {
	nodes, err := s.taxonomy.ListByFamily(ctx, models.FamilyControlPoint)
	if err != nil {
		return fmt.Errorf("list control point nodes: %w", err)
	}

	var parents []*models.TaxonomyNode
	for _, node := range nodes {
		if node.ParentID == nil && s.mappedParents[node.NormalizedName] {
			parents = append(parents, node)
		}
	}
	if len(parents) == 0 {
		return nil
	}

	projectIDs, err := s.projects.ListIDs(ctx)
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}

	backfilled := 0
	for _, projectID := range projectIDs {
		for _, parent := range parents {
			created, err := s.controlPoints.CreateIfMissing(ctx, projectID, parent.ID)
			if err != nil {
				return fmt.Errorf("backfill parent %q for project %s: %w", parent.Name, projectID, err)
			}
			if created {
				backfilled++
			}
		}
	}

	if backfilled > 0 {
		s.logger.Info("backfilled mapped parent control points", zap.Int("count", backfilled))
	}
	return nil
}

func (s *hierarchySynchronizer) SyncFromLeaf(ctx context.Context, leaf *models.ProjectControlPoint) error {
	node, err := s.taxonomy.GetByID(ctx, leaf.NodeID)
	if err != nil {
		return fmt.Errorf("load taxonomy node for leaf: %w", err)
	}

	// Walk the ancestor chain, recomputing each parent from all children.
	for node.ParentID != nil {
		parent, err := s.taxonomy.GetByID(ctx, *node.ParentID)
		if err != nil {
			return fmt.Errorf("load parent node: %w", err)
		}
		if err := s.aggregateParent(ctx, leaf.ProjectID, parent); err != nil {
			return err
		}
		node = parent
	}

	return s.publishProject(ctx, leaf.ProjectID)
}

func (s *hierarchySynchronizer) SyncProject(ctx context.Context, projectID uuid.UUID) error {
	points, err := s.controlPoints.ListByProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("list control points: %w", err)
	}

	// Recompute every parent that has a row for this project.
	for _, cp := range points {
		node, err := s.taxonomy.GetByID(ctx, cp.NodeID)
		if err != nil {
			return fmt.Errorf("load node %s: %w", cp.NodeID, err)
		}
		if node.ParentID != nil {
			continue // leaves carry reported data, not aggregates
		}
		if err := s.aggregateParent(ctx, projectID, node); err != nil {
			return err
		}
	}

	return s.publishProject(ctx, projectID)
}

func (s *hierarchySynchronizer) SyncAll(ctx context.Context) error {
	if err := s.EnsureMappedParents(ctx); err != nil {
		return err
	}

	projectIDs, err := s.projects.ListIDs(ctx)
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}

	failed := 0
	for _, projectID := range projectIDs {
		if err := s.SyncProject(ctx, projectID); err != nil {
			failed++
			s.logger.Error("project hierarchy sync failed",
				zap.String("project_id", projectID.String()),
				zap.Error(err))
		}
	}

	s.logger.Info("hierarchy sync complete",
		zap.Int("projects", len(projectIDs)),
		zap.Int("failed", failed))
	return nil
}

// aggregateParent recomputes one parent's dates as min(start)/max(finish)
// over its existing children's dates, ignoring absent children values.
func (s *hierarchySynchronizer) aggregateParent(ctx context.Context, projectID uuid.UUID, parent *models.TaxonomyNode) error {
	children, err := s.taxonomy.ListChildren(ctx, parent.ID)
	if err != nil {
		return fmt.Errorf("list children of %q: %w", parent.Name, err)
	}
	if len(children) == 0 {
		return nil
	}

	childIDs := make([]uuid.UUID, len(children))
	for i, c := range children {
		childIDs[i] = c.ID
	}

	childPoints, err := s.controlPoints.ListByProjectAndNodes(ctx, projectID, childIDs)
	if err != nil {
		return fmt.Errorf("list child points of %q: %w", parent.Name, err)
	}
	if len(childPoints) == 0 {
		return nil
	}

	var planStart, factStart, planFinish, factFinish *time.Time
	for _, cp := range childPoints {
		planStart = minDate(planStart, cp.PlanStart)
		factStart = minDate(factStart, cp.FactStart)
		planFinish = maxDate(planFinish, cp.PlanFinish)
		factFinish = maxDate(factFinish, cp.FactFinish)
	}

	if _, err := s.controlPoints.CreateIfMissing(ctx, projectID, parent.ID); err != nil {
		return err
	}
	row, err := s.controlPoints.GetByProjectAndNode(ctx, projectID, parent.ID)
	if err != nil {
		return fmt.Errorf("load parent row %q: %w", parent.Name, err)
	}

	if err := s.controlPoints.UpdateDates(ctx, row.ID, planStart, planFinish, factStart, factFinish); err != nil {
		return fmt.Errorf("update parent aggregates %q: %w", parent.Name, err)
	}
	return nil
}

// publishProject rebuilds the project's implementation-stage read-model.
func (s *hierarchySynchronizer) publishProject(ctx context.Context, projectID uuid.UUID) error {
	points, err := s.controlPoints.ListByProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("list control points: %w", err)
	}

	byNode := make(map[uuid.UUID]*models.ProjectControlPoint, len(points))
	for _, cp := range points {
		byNode[cp.NodeID] = cp
	}

	nodes := make(map[uuid.UUID]*models.TaxonomyNode, len(points))
	childrenOf := make(map[uuid.UUID][]*models.ProjectControlPoint)
	for _, cp := range points {
		node, err := s.taxonomy.GetByID(ctx, cp.NodeID)
		if err != nil {
			return fmt.Errorf("load node %s: %w", cp.NodeID, err)
		}
		nodes[cp.NodeID] = node
		if node.ParentID != nil {
			childrenOf[*node.ParentID] = append(childrenOf[*node.ParentID], cp)
		}
	}

	now := s.now()
	var stages []*models.ImplementationStage
	for _, cp := range points {
		// Nodes with no dates in their own or descendant data carry no
		// reportable information. Parent aggregates already fold child
		// dates in, so the row's own dates are the full test.
		if !cp.HasAnyDate() {
			continue
		}

		node := nodes[cp.NodeID]
		stages = append(stages, &models.ImplementationStage{
			ProjectID:  projectID,
			NodeID:     cp.NodeID,
			ParentID:   node.ParentID,
			Name:       node.Name,
			Readiness:  stageReadiness(cp, childrenOf[cp.NodeID]),
			Status:     stageStatus(cp),
			Color:      classifyColor(now, cp.PlanFinish, cp.FactFinish, s.approachingDeadline),
			PlanStart:  cp.PlanStart,
			PlanFinish: cp.PlanFinish,
			FactStart:  cp.FactStart,
			FactFinish: cp.FactFinish,
		})
	}

	if err := s.implStages.ReplaceForProject(ctx, projectID, stages); err != nil {
		return fmt.Errorf("replace implementation stages: %w", err)
	}
	return nil
}

func stageStatus(cp *models.ProjectControlPoint) string {
	if cp.IsComplete() {
		return models.StageStatusComplete
	}
	return models.StageStatusInProgress
}

// stageReadiness is 100 for complete nodes, the percentage of complete
// children for parents, and 0 for incomplete childless nodes.
func stageReadiness(cp *models.ProjectControlPoint, children []*models.ProjectControlPoint) int {
	if cp.IsComplete() {
		return 100
	}
	if len(children) == 0 {
		return 0
	}
	complete := 0
	for _, c := range children {
		if c.IsComplete() {
			complete++
		}
	}
	return complete * 100 / len(children)
}

// classifyColor implements the dashboard traffic-light rules.
func classifyColor(now time.Time, planFinish, factFinish *time.Time, window time.Duration) string {
	if factFinish != nil {
		if planFinish == nil || !factFinish.After(*planFinish) {
			return models.StageColorGreen
		}
		return models.StageColorRed
	}
	if planFinish != nil {
		if now.After(*planFinish) {
			return models.StageColorRed
		}
		if planFinish.Sub(now) <= window {
			return models.StageColorYellow
		}
	}
	return models.StageColorWhite
}

func minDate(a, b *time.Time) *time.Time {
	if b == nil {
		return a
	}
	if a == nil || b.Before(*a) {
		return b
	}
	return a
}

func maxDate(a, b *time.Time) *time.Time {
	if b == nil {
		return a
	}
	if a == nil || b.After(*a) {
		return b
	}
	return a
}
