package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stroymon/stroymon-engine/pkg/models"
)

func TestClassifyFeed(t *testing.T) {
	tests := []struct {
		filename string
		want     FeedKind
	}{
		{"выгрузка_ОИВ_2024-03.json", FeedOIV},
		{"oiv_march.json", FeedOIV},
		{"данные_СМГ.json", FeedSMG},
		{"smg_feb.json", FeedSMG},
		{"контрточки_2024.json", FeedControlPoints},
		{"control_points.json", FeedControlPoints},
		{"random_export.json", FeedUnknown},
	}

	for _, tt := range tests {
		if got := ClassifyFeed(tt.filename); got != tt.want {
			t.Errorf("ClassifyFeed(%q) = %v, want %v", tt.filename, got, tt.want)
		}
	}
}

type ingestFixture struct {
	ingestor      *Ingestor
	projects      *fakeProjectRepo
	stageRecords  *fakeStageRepo
	controlPoints *fakeControlPointRepo
	implStages    *fakeImplStageRepo
	changeLog     *fakeChangeLogRepo

	dir string
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()

	f := &ingestFixture{
		projects:      newFakeProjectRepo(),
		stageRecords:  newFakeStageRepo(),
		controlPoints: newFakeControlPointRepo(),
		implStages:    newFakeImplStageRepo(),
		changeLog:     newFakeChangeLogRepo(),
		dir:           t.TempDir(),
	}

	logger := zap.NewNop()
	taxonomyRepo := newFakeTaxonomyRepo()
	statusHistory := newFakeStatusHistoryRepo()

	changeLog := NewChangeLogService(f.changeLog, logger)
	entities := NewEntityResolver(f.projects, logger)
	taxonomy := NewTaxonomyResolver(taxonomyRepo, logger)
	upserts := NewUpsertEngine(f.projects, f.stageRecords, f.controlPoints, statusHistory, changeLog, logger)
	hierarchy := NewHierarchySynchronizer(
		taxonomyRepo, f.controlPoints, f.implStages, f.projects,
		nil, 0, logger)

	f.ingestor = NewIngestor(entities, taxonomy, upserts, hierarchy, changeLog, 2, 10, logger)
	return f
}

func (f *ingestFixture) writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestIngestor_ProcessOIVFeed(t *testing.T) {
	f := newIngestFixture(t)
	path := f.writeFile(t, "выгрузка_ОИВ.json", `[
		{
			"УИН": "77-000001",
			"Дата редактирования": "15.03.2024 10:00:00",
			"Пользователь": "ivanov",
			"Наименование объекта": "Школа на 550 мест",
			"Адрес": "ул. Строителей, 5",
			"Готовность (%)": 35,
			"СТРЭТАП Монолитные работы (план)": 60,
			"СТРЭТАП Монолитные работы (факт)": 45
		},
		{
			"УИН": "не уин",
			"Дата редактирования": "15.03.2024 10:00:00"
		}
	]`)

	result, err := f.ingestor.ProcessFile(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Files)
	assert.Equal(t, 2, result.Records)
	assert.Equal(t, 1, result.Skipped, "the malformed UIN skips its record only")
	assert.Equal(t, 0, result.Failed)
	assert.NotEmpty(t, result.ErrorSamples)

	project, err := f.projects.GetByUIN(context.Background(), "77-000001")
	require.NoError(t, err)
	require.NotNil(t, project.Name)
	assert.Equal(t, "Школа на 550 мест", *project.Name)
	require.NotNil(t, project.Readiness)
	assert.Equal(t, 35, *project.Readiness)
	require.NotNil(t, project.LastEditor)
	assert.Equal(t, "ivanov", *project.LastEditor)

	stages, err := f.stageRecords.ListByProject(context.Background(), project.ID)
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, 60, *stages[0].PlanPercent)
	assert.Equal(t, 45, *stages[0].FactPercent)
}

func TestIngestor_SMGFeedRequiresKnownMasterCode(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	code := "MSK-001"
	require.NoError(t, f.projects.Create(ctx, &models.Project{UIN: "77-000001", MasterCode: &code}))

	path := f.writeFile(t, "smg_march.json", `[
		{
			"Мастер-код": "MSK-001",
			"Дата редактирования": "2024-03-15 10:00:00",
			"СТРЭТАП Фасадные работы (план)": "80",
			"СТРЭТАП Фасадные работы (факт)": "55"
		},
		{
			"Мастер-код": "UNKNOWN-42",
			"Дата редактирования": "2024-03-15 10:00:00",
			"СТРЭТАП Фасадные работы (факт)": "10"
		}
	]`)

	result, err := f.ingestor.ProcessFile(ctx, path)
	require.NoError(t, err)

	// The SMG feed never creates projects: the unknown code is skipped.
	assert.Equal(t, 1, result.Skipped)

	project, err := f.projects.GetByMasterCode(ctx, code)
	require.NoError(t, err)
	stages, err := f.stageRecords.ListByProject(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, stages, 1)

	// SMG percents land on the SMG pair, leaving the OIV pair untouched.
	assert.Nil(t, stages[0].PlanPercent)
	assert.Equal(t, 80, *stages[0].SMGPlanPercent)
	assert.Equal(t, 55, *stages[0].SMGFactPercent)
}

func TestIngestor_ControlPointFeedSyncsHierarchy(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	require.NoError(t, f.projects.Create(ctx, &models.Project{UIN: "77-000001"}))

	path := f.writeFile(t, "контрточки.json", `[
		{
			"УИН": "77-000001",
			"Дата редактирования": "2024-03-15",
			"КОНТРТОЧКА Благоустройство:: Озеленение (план)": "2024-06-01",
			"КОНТРТОЧКА Благоустройство:: Озеленение окончание (факт)": "",
			"Непонятное поле": "что-то"
		}
	]`)

	result, err := f.ingestor.ProcessFile(ctx, path)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, 1, result.UnknownLabels)

	project, err := f.projects.GetByUIN(ctx, "77-000001")
	require.NoError(t, err)

	points, err := f.controlPoints.ListByProject(ctx, project.ID)
	require.NoError(t, err)

	// The leaf row plus the parent created by the hierarchy sync.
	require.Len(t, points, 2)

	stages, err := f.implStages.ListByProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Len(t, stages, 2, "leaf and aggregated parent are published")
}

func TestIngestor_RunMergesFilesAndSkipsUnknown(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	f.writeFile(t, "оив_часть1.json", `[
		{"УИН": "77-000001", "Дата редактирования": "2024-03-15", "Наименование объекта": "Объект 1"}
	]`)
	f.writeFile(t, "оив_часть2.json", `[
		{"УИН": "77-000002", "Дата редактирования": "2024-03-15", "Наименование объекта": "Объект 2"}
	]`)
	f.writeFile(t, "readme.txt", "not a feed")
	f.writeFile(t, "прочее.json", `[]`)
	f.writeFile(t, "оив_битый.json", `{broken`)

	result, err := f.ingestor.Run(ctx, f.dir)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Files)
	assert.Equal(t, 2, result.Records)
	assert.Equal(t, 1, result.Failed, "the unparseable file is counted, not fatal")

	ids, err := f.projects.ListIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}
