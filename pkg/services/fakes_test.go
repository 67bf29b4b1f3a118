package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stroymon/stroymon-engine/pkg/apperrors"
	"github.com/stroymon/stroymon-engine/pkg/models"
	"github.com/stroymon/stroymon-engine/pkg/repositories"
)

// In-memory fakes for the repository interfaces. They keep the same
// not-found semantics as the pgx implementations and return copies so tests
// observe stored state, not shared pointers.

type fakeProjectRepo struct {
	mu    sync.Mutex
	rows  map[uuid.UUID]*models.Project
	order []uuid.UUID
}

func newFakeProjectRepo() *fakeProjectRepo {
	return &fakeProjectRepo{rows: make(map[uuid.UUID]*models.Project)}
}

var _ repositories.ProjectRepository = (*fakeProjectRepo)(nil)

func (f *fakeProjectRepo) Create(ctx context.Context, p *models.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.UIN == p.UIN {
			return fmt.Errorf("duplicate uin %s", p.UIN)
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now()
	cp := *p
	f.rows[p.ID] = &cp
	f.order = append(f.order, p.ID)
	return nil
}

func (f *fakeProjectRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (f *fakeProjectRepo) GetByUIN(ctx context.Context, uin string) (*models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.UIN == uin {
			cp := *row
			return &cp, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (f *fakeProjectRepo) GetByMasterCode(ctx context.Context, code string) (*models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.MasterCode != nil && *row.MasterCode == code {
			cp := *row
			return &cp, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (f *fakeProjectRepo) Update(ctx context.Context, p *models.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[p.ID]; !ok {
		return apperrors.ErrNotFound
	}
	cp := *p
	f.rows[p.ID] = &cp
	return nil
}

func (f *fakeProjectRepo) UpdateRiskFlags(ctx context.Context, id uuid.UUID, risk, deadlineFailure bool, deadlineHighRisk *bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	row.Risk = risk
	row.DeadlineFailure = deadlineFailure
	row.DeadlineHighRisk = deadlineHighRisk
	return nil
}

func (f *fakeProjectRepo) UpdateReadiness(ctx context.Context, id uuid.UUID, readiness int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	row.Readiness = &readiness
	return nil
}

func (f *fakeProjectRepo) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]uuid.UUID, len(f.order))
	copy(ids, f.order)
	return ids, nil
}

type taxonomyKey struct {
	family     models.TaxonomyFamily
	normalized string
	parentID   uuid.UUID
}

type fakeTaxonomyRepo struct {
	mu    sync.Mutex
	byKey map[taxonomyKey]*models.TaxonomyNode
	byID  map[uuid.UUID]*models.TaxonomyNode

	getOrCreateCalls int
}

func newFakeTaxonomyRepo() *fakeTaxonomyRepo {
	return &fakeTaxonomyRepo{
		byKey: make(map[taxonomyKey]*models.TaxonomyNode),
		byID:  make(map[uuid.UUID]*models.TaxonomyNode),
	}
}

var _ repositories.TaxonomyRepository = (*fakeTaxonomyRepo)(nil)

func (f *fakeTaxonomyRepo) GetOrCreate(ctx context.Context, family models.TaxonomyFamily, name string, parentID *uuid.UUID) (*models.TaxonomyNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getOrCreateCalls++

	key := taxonomyKey{family: family, normalized: models.NormalizeNodeName(name)}
	if key.normalized == "" {
		return nil, fmt.Errorf("%w: empty taxonomy node name", apperrors.ErrUnknownMapping)
	}
	if parentID != nil {
		key.parentID = *parentID
	}
	if node, ok := f.byKey[key]; ok {
		cp := *node
		return &cp, nil
	}

	node := &models.TaxonomyNode{
		ID:             uuid.New(),
		Family:         family,
		Name:           name,
		NormalizedName: key.normalized,
		ParentID:       parentID,
		CreatedAt:      time.Now(),
	}
	f.byKey[key] = node
	f.byID[node.ID] = node
	cp := *node
	return &cp, nil
}

func (f *fakeTaxonomyRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.TaxonomyNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	node, ok := f.byID[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *node
	return &cp, nil
}

func (f *fakeTaxonomyRepo) ListByFamily(ctx context.Context, family models.TaxonomyFamily) ([]*models.TaxonomyNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var nodes []*models.TaxonomyNode
	for _, node := range f.byID {
		if node.Family == family {
			cp := *node
			nodes = append(nodes, &cp)
		}
	}
	return nodes, nil
}

func (f *fakeTaxonomyRepo) ListChildren(ctx context.Context, parentID uuid.UUID) ([]*models.TaxonomyNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var nodes []*models.TaxonomyNode
	for _, node := range f.byID {
		if node.ParentID != nil && *node.ParentID == parentID {
			cp := *node
			nodes = append(nodes, &cp)
		}
	}
	return nodes, nil
}

type projectNodeKey struct {
	projectID uuid.UUID
	nodeID    uuid.UUID
}

type fakeStageRepo struct {
	mu   sync.Mutex
	rows map[projectNodeKey]*models.ProjectStageRecord
}

func newFakeStageRepo() *fakeStageRepo {
	return &fakeStageRepo{rows: make(map[projectNodeKey]*models.ProjectStageRecord)}
}

var _ repositories.StageRecordRepository = (*fakeStageRepo)(nil)

func (f *fakeStageRepo) Create(ctx context.Context, rec *models.ProjectStageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := projectNodeKey{rec.ProjectID, rec.NodeID}
	if _, ok := f.rows[key]; ok {
		return fmt.Errorf("duplicate stage record for %v", key)
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	cp := *rec
	f.rows[key] = &cp
	return nil
}

func (f *fakeStageRepo) GetByProjectAndNode(ctx context.Context, projectID, nodeID uuid.UUID) (*models.ProjectStageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.rows[projectNodeKey{projectID, nodeID}]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeStageRepo) Update(ctx context.Context, rec *models.ProjectStageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := projectNodeKey{rec.ProjectID, rec.NodeID}
	if _, ok := f.rows[key]; !ok {
		return apperrors.ErrNotFound
	}
	cp := *rec
	f.rows[key] = &cp
	return nil
}

func (f *fakeStageRepo) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.ProjectStageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var recs []*models.ProjectStageRecord
	for key, rec := range f.rows {
		if key.projectID == projectID {
			cp := *rec
			recs = append(recs, &cp)
		}
	}
	return recs, nil
}

type fakeControlPointRepo struct {
	mu   sync.Mutex
	rows map[projectNodeKey]*models.ProjectControlPoint
}

func newFakeControlPointRepo() *fakeControlPointRepo {
	return &fakeControlPointRepo{rows: make(map[projectNodeKey]*models.ProjectControlPoint)}
}

var _ repositories.ControlPointRepository = (*fakeControlPointRepo)(nil)

func (f *fakeControlPointRepo) Create(ctx context.Context, cp *models.ProjectControlPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := projectNodeKey{cp.ProjectID, cp.NodeID}
	if _, ok := f.rows[key]; ok {
		return fmt.Errorf("duplicate control point for %v", key)
	}
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	clone := *cp
	f.rows[key] = &clone
	return nil
}

func (f *fakeControlPointRepo) CreateIfMissing(ctx context.Context, projectID, nodeID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := projectNodeKey{projectID, nodeID}
	if _, ok := f.rows[key]; ok {
		return false, nil
	}
	f.rows[key] = &models.ProjectControlPoint{
		ID:        uuid.New(),
		ProjectID: projectID,
		NodeID:    nodeID,
	}
	return true, nil
}

func (f *fakeControlPointRepo) GetByProjectAndNode(ctx context.Context, projectID, nodeID uuid.UUID) (*models.ProjectControlPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp, ok := f.rows[projectNodeKey{projectID, nodeID}]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	clone := *cp
	return &clone, nil
}

func (f *fakeControlPointRepo) Update(ctx context.Context, cp *models.ProjectControlPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := projectNodeKey{cp.ProjectID, cp.NodeID}
	if _, ok := f.rows[key]; !ok {
		return apperrors.ErrNotFound
	}
	clone := *cp
	f.rows[key] = &clone
	return nil
}

func (f *fakeControlPointRepo) UpdateDates(ctx context.Context, id uuid.UUID, planStart, planFinish, factStart, factFinish *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cp := range f.rows {
		if cp.ID == id {
			cp.PlanStart = planStart
			cp.PlanFinish = planFinish
			cp.FactStart = factStart
			cp.FactFinish = factFinish
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (f *fakeControlPointRepo) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.ProjectControlPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var cps []*models.ProjectControlPoint
	for key, cp := range f.rows {
		if key.projectID == projectID {
			clone := *cp
			cps = append(cps, &clone)
		}
	}
	return cps, nil
}

func (f *fakeControlPointRepo) ListByProjectAndNodes(ctx context.Context, projectID uuid.UUID, nodeIDs []uuid.UUID) ([]*models.ProjectControlPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wanted := make(map[uuid.UUID]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		wanted[id] = true
	}
	var cps []*models.ProjectControlPoint
	for key, cp := range f.rows {
		if key.projectID == projectID && wanted[key.nodeID] {
			clone := *cp
			cps = append(cps, &clone)
		}
	}
	return cps, nil
}

type fakeImplStageRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID][]*models.ImplementationStage
}

func newFakeImplStageRepo() *fakeImplStageRepo {
	return &fakeImplStageRepo{rows: make(map[uuid.UUID][]*models.ImplementationStage)}
}

var _ repositories.ImplementationStageRepository = (*fakeImplStageRepo)(nil)

func (f *fakeImplStageRepo) ReplaceForProject(ctx context.Context, projectID uuid.UUID, stages []*models.ImplementationStage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clones := make([]*models.ImplementationStage, len(stages))
	for i, st := range stages {
		clone := *st
		clones[i] = &clone
	}
	f.rows[projectID] = clones
	return nil
}

func (f *fakeImplStageRepo) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.ImplementationStage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stages := make([]*models.ImplementationStage, len(f.rows[projectID]))
	for i, st := range f.rows[projectID] {
		clone := *st
		stages[i] = &clone
	}
	return stages, nil
}

type fakeChangeLogRepo struct {
	mu      sync.Mutex
	entries []*models.ChangeLogEntry

	failCreate bool
}

func newFakeChangeLogRepo() *fakeChangeLogRepo {
	return &fakeChangeLogRepo{}
}

var _ repositories.ChangeLogRepository = (*fakeChangeLogRepo)(nil)

func (f *fakeChangeLogRepo) Create(ctx context.Context, entry *models.ChangeLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return fmt.Errorf("storage down")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = time.Now()
	clone := *entry
	f.entries = append(f.entries, &clone)
	return nil
}

func (f *fakeChangeLogRepo) GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit int) ([]*models.ChangeLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.ChangeLogEntry
	for i := len(f.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := f.entries[i]
		if e.EntityType == entityType && e.EntityID == entityID {
			clone := *e
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *fakeChangeLogRepo) GetByField(ctx context.Context, entityType, field string, limit int) ([]*models.ChangeLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.ChangeLogEntry
	for i := len(f.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := f.entries[i]
		if e.EntityType != entityType {
			continue
		}
		if _, ok := e.ChangedFields[field]; ok {
			clone := *e
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *fakeChangeLogRepo) GetEffectiveChanges(ctx context.Context, entityType string, entityID uuid.UUID, field string, limit int) ([]*models.ChangeLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.ChangeLogEntry
	for i := len(f.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := f.entries[i]
		if e.EntityType != entityType || e.EntityID != entityID {
			continue
		}
		change, ok := e.ChangedFields[field]
		if !ok {
			continue
		}
		oldVal, _ := change.Old.(string)
		newVal, _ := change.New.(string)
		if oldVal != "" && newVal != "" && oldVal != newVal {
			clone := *e
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *fakeChangeLogRepo) count(entityType string, action string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries {
		if e.EntityType == entityType && e.Action == action {
			n++
		}
	}
	return n
}

type fakeStatusHistoryRepo struct {
	mu      sync.Mutex
	entries []*models.StatusHistoryEntry
}

func newFakeStatusHistoryRepo() *fakeStatusHistoryRepo {
	return &fakeStatusHistoryRepo{}
}

var _ repositories.StatusHistoryRepository = (*fakeStatusHistoryRepo)(nil)

func (f *fakeStatusHistoryRepo) Create(ctx context.Context, entry *models.StatusHistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = time.Now()
	clone := *entry
	f.entries = append(f.entries, &clone)
	return nil
}

func (f *fakeStatusHistoryRepo) ListByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.StatusHistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.StatusHistoryEntry
	for i := len(f.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if f.entries[i].ProjectID == projectID {
			clone := *f.entries[i]
			out = append(out, &clone)
		}
	}
	return out, nil
}
