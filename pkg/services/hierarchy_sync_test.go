package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stroymon/stroymon-engine/pkg/models"
)

type hierarchyFixture struct {
	sync          *hierarchySynchronizer
	taxonomy      *fakeTaxonomyRepo
	controlPoints *fakeControlPointRepo
	implStages    *fakeImplStageRepo
	projects      *fakeProjectRepo

	projectID uuid.UUID
}

func newHierarchyFixture(t *testing.T, mappedParents []string) *hierarchyFixture {
	t.Helper()

	f := &hierarchyFixture{
		taxonomy:      newFakeTaxonomyRepo(),
		controlPoints: newFakeControlPointRepo(),
		implStages:    newFakeImplStageRepo(),
		projects:      newFakeProjectRepo(),
	}
	f.sync = NewHierarchySynchronizer(
		f.taxonomy, f.controlPoints, f.implStages, f.projects,
		mappedParents, 30*24*time.Hour, zap.NewNop(),
	).(*hierarchySynchronizer)
	f.sync.now = func() time.Time {
		return time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	}

	project := &models.Project{UIN: "77-000001"}
	require.NoError(t, f.projects.Create(context.Background(), project))
	f.projectID = project.ID
	return f
}

func (f *hierarchyFixture) node(t *testing.T, name string, parentID *uuid.UUID) *models.TaxonomyNode {
	t.Helper()
	node, err := f.taxonomy.GetOrCreate(context.Background(), models.FamilyControlPoint, name, parentID)
	require.NoError(t, err)
	return node
}

func (f *hierarchyFixture) point(t *testing.T, nodeID uuid.UUID, cp models.ProjectControlPoint) *models.ProjectControlPoint {
	t.Helper()
	cp.ProjectID = f.projectID
	cp.NodeID = nodeID
	require.NoError(t, f.controlPoints.Create(context.Background(), &cp))
	return &cp
}

func TestSyncFromLeaf_AggregatesParentDates(t *testing.T) {
	f := newHierarchyFixture(t, nil)
	ctx := context.Background()

	parent := f.node(t, "Строительно-монтажные работы", nil)
	c1 := f.node(t, "Котлован", &parent.ID)
	c2 := f.node(t, "Монолит", &parent.ID)
	c3 := f.node(t, "Фасад", &parent.ID)

	leaf := f.point(t, c1.ID, models.ProjectControlPoint{
		PlanStart:  datep(2023, time.October, 1),
		FactFinish: datep(2024, time.January, 1),
	})
	f.point(t, c2.ID, models.ProjectControlPoint{
		PlanStart:  datep(2023, time.December, 1),
		FactFinish: datep(2024, time.March, 1),
	})
	f.point(t, c3.ID, models.ProjectControlPoint{}) // no dates, must be ignored

	require.NoError(t, f.sync.SyncFromLeaf(ctx, leaf))

	row, err := f.controlPoints.GetByProjectAndNode(ctx, f.projectID, parent.ID)
	require.NoError(t, err)

	// min over starts, max over finishes, nil children ignored.
	assert.Equal(t, *datep(2023, time.October, 1), *row.PlanStart)
	assert.Equal(t, *datep(2024, time.March, 1), *row.FactFinish)
	assert.Nil(t, row.FactStart)
}

func TestEnsureMappedParents_BackfillsExactlyOnce(t *testing.T) {
	f := newHierarchyFixture(t, []string{"Благоустройство"})
	ctx := context.Background()

	mapped := f.node(t, "Благоустройство", nil)
	f.node(t, "Прочее", nil) // root node outside the allow-list

	require.NoError(t, f.sync.EnsureMappedParents(ctx))

	row, err := f.controlPoints.GetByProjectAndNode(ctx, f.projectID, mapped.ID)
	require.NoError(t, err)
	firstID := row.ID

	// Second run must not create a duplicate or replace the row.
	require.NoError(t, f.sync.EnsureMappedParents(ctx))
	row, err = f.controlPoints.GetByProjectAndNode(ctx, f.projectID, mapped.ID)
	require.NoError(t, err)
	assert.Equal(t, firstID, row.ID)

	points, err := f.controlPoints.ListByProject(ctx, f.projectID)
	require.NoError(t, err)
	assert.Len(t, points, 1, "non-mapped roots must not be backfilled")
}

func TestSyncFromLeaf_PublishesReadModel(t *testing.T) {
	f := newHierarchyFixture(t, nil)
	ctx := context.Background()

	parent := f.node(t, "Ввод в эксплуатацию", nil)
	done := f.node(t, "Итоговая проверка", &parent.ID)
	pending := f.node(t, "Получение ЗОС", &parent.ID)
	empty := f.node(t, "Без данных", nil)

	leaf := f.point(t, done.ID, models.ProjectControlPoint{
		PlanFinish: datep(2024, time.February, 1),
		FactFinish: datep(2024, time.January, 20),
	})
	f.point(t, pending.ID, models.ProjectControlPoint{
		PlanFinish: datep(2024, time.June, 1),
	})
	f.point(t, empty.ID, models.ProjectControlPoint{}) // pruned

	require.NoError(t, f.sync.SyncFromLeaf(ctx, leaf))

	stages, err := f.implStages.ListByProject(ctx, f.projectID)
	require.NoError(t, err)

	byName := make(map[string]*models.ImplementationStage)
	for _, st := range stages {
		byName[st.Name] = st
	}

	require.Len(t, stages, 3, "the dateless node must be pruned")

	completed := byName["Итоговая проверка"]
	require.NotNil(t, completed)
	assert.Equal(t, models.StageStatusComplete, completed.Status)
	assert.Equal(t, 100, completed.Readiness)
	assert.Equal(t, models.StageColorGreen, completed.Color)

	inProgress := byName["Получение ЗОС"]
	require.NotNil(t, inProgress)
	assert.Equal(t, models.StageStatusInProgress, inProgress.Status)
	assert.Equal(t, 0, inProgress.Readiness)
	assert.Equal(t, models.StageColorWhite, inProgress.Color)

	// The parent row was created and aggregated by the leaf sync. Its fact
	// finish is the max over children that have one, which completes it.
	agg := byName["Ввод в эксплуатацию"]
	require.NotNil(t, agg)
	assert.Equal(t, models.StageStatusComplete, agg.Status)
	assert.Equal(t, 100, agg.Readiness)
	assert.Equal(t, *datep(2024, time.June, 1), *agg.PlanFinish)
	assert.Equal(t, *datep(2024, time.January, 20), *agg.FactFinish)
}

func TestClassifyColor(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	window := 30 * 24 * time.Hour

	tests := []struct {
		name       string
		planFinish *time.Time
		factFinish *time.Time
		want       string
	}{
		{"complete on time", datep(2024, time.April, 1), datep(2024, time.March, 1), models.StageColorGreen},
		{"complete without plan", nil, datep(2024, time.March, 1), models.StageColorGreen},
		{"complete late", datep(2024, time.February, 1), datep(2024, time.March, 1), models.StageColorRed},
		{"overdue incomplete", datep(2024, time.March, 1), nil, models.StageColorRed},
		{"approaching deadline", datep(2024, time.April, 1), nil, models.StageColorYellow},
		{"far future plan", datep(2024, time.December, 1), nil, models.StageColorWhite},
		{"no dates at all", nil, nil, models.StageColorWhite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyColor(now, tt.planFinish, tt.factFinish, window)
			if got != tt.want {
				t.Errorf("classifyColor() = %q, want %q", got, tt.want)
			}
		})
	}
}
