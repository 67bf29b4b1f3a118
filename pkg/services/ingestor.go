package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stroymon/stroymon-engine/pkg/apperrors"
	"github.com/stroymon/stroymon-engine/pkg/jsonutil"
	"github.com/stroymon/stroymon-engine/pkg/models"
	"github.com/stroymon/stroymon-engine/pkg/services/workqueue"
)

// Record is one raw feed record: a flat map from free-text labels to scalar
// values. There is no fixed schema; the taxonomy resolver is the schema.
type Record map[string]any

// Ingestor drives a batch run: classifies feed files, fans records out over
// a bounded worker pool keyed by project identifier, and funnels every record
// through the resolve-normalize-upsert pipeline. Per-record errors are
// contained and counted; only unreadable input aborts a run.
type Ingestor struct {
	entities  EntityResolver
	taxonomy  TaxonomyResolver
	upserts   UpsertEngine
	hierarchy HierarchySynchronizer
	changeLog ChangeLogService

	workers      int
	errorSamples int

	logger *zap.Logger
	// unknownLog is the dedicated channel for unclassifiable labels, kept
	// separate so taxonomy mappings can be extended from its output alone.
	unknownLog *zap.Logger
}

// NewIngestor creates a new Ingestor.
func NewIngestor(
	entities EntityResolver,
	taxonomy TaxonomyResolver,
	upserts UpsertEngine,
	hierarchy HierarchySynchronizer,
	changeLog ChangeLogService,
	workers, errorSamples int,
	logger *zap.Logger,
) *Ingestor {
	if workers < 1 {
		workers = 1
	}
	return &Ingestor{
		entities:     entities,
		taxonomy:     taxonomy,
		upserts:      upserts,
		hierarchy:    hierarchy,
		changeLog:    changeLog,
		workers:      workers,
		errorSamples: errorSamples,
		logger:       logger.Named("ingestor"),
		unknownLog:   logger.Named("unknown-mapping"),
	}
}

// Run processes every JSON feed file in dir and returns the merged summary.
func (i *Ingestor) Run(ctx context.Context, dir string) (*RunResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read feed directory: %w", err)
	}

	total := NewRunResult(i.errorSamples)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		result, err := i.ProcessFile(ctx, filepath.Join(dir, entry.Name()))
		if err != nil {
			total.Failed++
			total.addSample(fmt.Sprintf("%s: %v", entry.Name(), err))
			i.logger.Error("feed file failed",
				zap.String("file", entry.Name()),
				zap.Error(err))
			continue
		}
		total.Merge(result)
	}

	i.logger.Info("ingest run complete", total.LogFields()...)
	return total, nil
}

// ProcessFile processes one feed file. Unclassifiable files are skipped with
// a warning; an unreadable or unparseable file is an error for that file.
func (i *Ingestor) ProcessFile(ctx context.Context, path string) (*RunResult, error) {
	result := NewRunResult(i.errorSamples)

	name := filepath.Base(path)
	kind := ClassifyFeed(name)
	if kind == FeedUnknown {
		i.logger.Warn("unclassifiable feed file, skipping", zap.String("file", name))
		return result, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feed file: %w", err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse feed file: %w", err)
	}

	result.Files = 1
	result.Records = len(records)

	i.logger.Info("processing feed file",
		zap.String("file", name),
		zap.String("kind", kind.String()),
		zap.Int("records", len(records)))

	var mu sync.Mutex
	queue := workqueue.New(i.logger, workqueue.WithStrategy(workqueue.NewThrottledStrategy(i.workers)))
	for _, rec := range records {
		rec := rec
		task := &recordTask{
			BaseTask: workqueue.NewBaseTask(
				fmt.Sprintf("%s record", kind),
				recordIdentifier(kind, rec),
			),
			run: func(ctx context.Context) error {
				rr := i.processRecord(ctx, name, kind, rec)
				mu.Lock()
				result.Merge(rr)
				mu.Unlock()
				return nil
			},
		}
		queue.Enqueue(task)
	}
	if err := queue.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for record tasks: %w", err)
	}
	return result, nil
}

// recordTask wraps one record's processing for the work queue.
type recordTask struct {
	workqueue.BaseTask
	run func(ctx context.Context) error
}

func (t *recordTask) Execute(ctx context.Context) error {
	return t.run(ctx)
}

// recordIdentifier extracts the raw identifier used as the serialization
// key, before validation. Records for the same project must not race each
// other; an empty key (malformed record) needs no grouping since it will be
// skipped anyway.
func recordIdentifier(kind FeedKind, rec Record) string {
	label := labelUIN
	if kind == FeedSMG {
		label = labelMasterCode
	}
	return strings.TrimSpace(jsonutil.CellString(rec[label]))
}

// processRecord runs one record through the pipeline and returns its
// counters. It never returns an error: failures are bucketed into the result
// so one bad record cannot abort the batch.
func (i *Ingestor) processRecord(ctx context.Context, file string, kind FeedKind, rec Record) *RunResult {
	result := NewRunResult(i.errorSamples)

	editedAt, err := ParseEditTimestamp(rec[labelEditedAt])
	if err != nil {
		return i.skipRecord(result, file, kind, rec, err)
	}
	ctx = models.WithActor(ctx, recordActor(rec))

	project, err := i.resolveProject(ctx, kind, rec, result)
	if err != nil {
		if recordSkippable(err) {
			return i.skipRecord(result, file, kind, rec, err)
		}
		return i.failRecord(result, file, kind, rec, err)
	}

	incoming := i.partitionLabels(ctx, kind, rec, result)

	failed := false
	if kind == FeedOIV {
		outcome, err := i.upserts.UpsertProjectFields(ctx, project.ID, incoming.project, editedAt)
		if err != nil {
			failed = true
			result.addSample(fmt.Sprintf("%s: project %s: %v", file, project.UIN, err))
			i.logger.Error("project upsert failed",
				zap.String("file", file),
				zap.String("uin", project.UIN),
				zap.Error(err))
		} else {
			countOutcome(result, outcome)
		}
	}

	for nodeID, stageRec := range incoming.stages {
		outcome, err := i.upserts.UpsertStageRecord(ctx, project.ID, nodeID, stageRec, editedAt)
		if err != nil {
			failed = true
			result.addSample(fmt.Sprintf("%s: stage of %s: %v", file, project.UIN, err))
			i.logger.Error("stage upsert failed",
				zap.String("file", file),
				zap.String("uin", project.UIN),
				zap.String("node_id", nodeID.String()),
				zap.Error(err))
			continue
		}
		countOutcome(result, outcome)
	}

	for nodeID, cp := range incoming.controlPoints {
		outcome, err := i.upserts.UpsertControlPoint(ctx, project.ID, nodeID, cp, editedAt)
		if err != nil {
			failed = true
			result.addSample(fmt.Sprintf("%s: control point of %s: %v", file, project.UIN, err))
			i.logger.Error("control point upsert failed",
				zap.String("file", file),
				zap.String("uin", project.UIN),
				zap.String("node_id", nodeID.String()),
				zap.Error(err))
			continue
		}
		countOutcome(result, outcome)

		if outcome.Applied {
			leaf := &models.ProjectControlPoint{ProjectID: project.ID, NodeID: nodeID}
			if err := i.hierarchy.SyncFromLeaf(ctx, leaf); err != nil {
				i.logger.Error("hierarchy sync from leaf failed",
					zap.String("uin", project.UIN),
					zap.String("node_id", nodeID.String()),
					zap.Error(err))
			}
		}
	}

	if failed {
		result.Failed++
	}
	return result
}

// resolveProject maps the record's identifier onto a project row. Only the
// OIV feed, the system of record, may create projects on first sight.
func (i *Ingestor) resolveProject(ctx context.Context, kind FeedKind, rec Record, result *RunResult) (*models.Project, error) {
	if kind == FeedSMG {
		code, err := ValidateMasterCode(jsonutil.CellString(rec[labelMasterCode]))
		if err != nil {
			return nil, err
		}
		return i.entities.ResolveByMasterCode(ctx, code)
	}

	uin, err := ValidateUIN(jsonutil.CellString(rec[labelUIN]))
	if err != nil {
		return nil, err
	}

	if kind != FeedOIV {
		return i.entities.ResolveByUIN(ctx, uin)
	}

	project, created, err := i.entities.ResolveOrCreateByUIN(ctx, uin)
	if err != nil {
		return nil, err
	}
	if created {
		result.Created++
		i.changeLog.RecordCreate(ctx, models.EntityTypeProject, project.ID)
	}
	return project, nil
}

// incomingRecord is a record's normalized payload grouped per upsert target.
type incomingRecord struct {
	project       *models.Project
	stages        map[uuid.UUID]*models.ProjectStageRecord
	controlPoints map[uuid.UUID]*models.ProjectControlPoint
}

// partitionLabels walks the record's labels and groups normalized values by
// taxonomy node. Unclassifiable labels go to the unknown-mapping channel and
// never fail the record: the rest of its fields are still processed.
func (i *Ingestor) partitionLabels(ctx context.Context, kind FeedKind, rec Record, result *RunResult) incomingRecord {
	incoming := incomingRecord{
		project:       &models.Project{},
		stages:        make(map[uuid.UUID]*models.ProjectStageRecord),
		controlPoints: make(map[uuid.UUID]*models.ProjectControlPoint),
	}

	for rawLabel, value := range rec {
		label := strings.TrimSpace(rawLabel)
		if metaLabel(label) {
			continue
		}

		if kind == FeedOIV {
			if set, ok := projectFieldLabels[label]; ok {
				set(incoming.project, value)
				continue
			}
		}

		rest, family, ok := stripTaxonomyPrefix(label)
		if !ok {
			i.reportUnknown(result, kind, label, value)
			continue
		}
		nodeName, attrKind, ok := SplitAttribute(family, rest)
		if !ok {
			i.reportUnknown(result, kind, label, value)
			continue
		}

		node, err := i.taxonomy.Resolve(ctx, nodeName, family, nil)
		if err != nil {
			result.addSample(fmt.Sprintf("resolve %q: %v", label, err))
			i.logger.Error("taxonomy resolution failed",
				zap.String("label", label),
				zap.Error(err))
			continue
		}

		switch family {
		case models.FamilyStage:
			applyStageAttribute(stageOf(incoming.stages, node.ID), kind, attrKind, value)
		case models.FamilyControlPoint:
			applyControlPointAttribute(controlPointOf(incoming.controlPoints, node.ID), attrKind, value)
		}
	}

	// The OIV feed links the UIN to its master-code when present.
	if kind == FeedOIV {
		if raw := jsonutil.CellString(rec[labelMasterCode]); raw != "" {
			if code, err := ValidateMasterCode(raw); err == nil {
				incoming.project.MasterCode = &code
			} else {
				i.logger.Warn("ignoring malformed master-code", zap.String("raw", raw))
			}
		}
	}

	return incoming
}

func stageOf(acc map[uuid.UUID]*models.ProjectStageRecord, nodeID uuid.UUID) *models.ProjectStageRecord {
	if rec, ok := acc[nodeID]; ok {
		return rec
	}
	rec := &models.ProjectStageRecord{}
	acc[nodeID] = rec
	return rec
}

func controlPointOf(acc map[uuid.UUID]*models.ProjectControlPoint, nodeID uuid.UUID) *models.ProjectControlPoint {
	if cp, ok := acc[nodeID]; ok {
		return cp
	}
	cp := &models.ProjectControlPoint{}
	acc[nodeID] = cp
	return cp
}

// applyStageAttribute writes one normalized stage value. The SMG feed owns
// the second percent pair; every other feed writes the OIV pair.
func applyStageAttribute(rec *models.ProjectStageRecord, kind FeedKind, attr AttributeKind, value any) {
	switch attr {
	case AttrPlanPercent:
		if kind == FeedSMG {
			rec.SMGPlanPercent = ParsePercent(value)
		} else {
			rec.PlanPercent = ParsePercent(value)
		}
	case AttrFactPercent:
		if kind == FeedSMG {
			rec.SMGFactPercent = ParsePercent(value)
		} else {
			rec.FactPercent = ParsePercent(value)
		}
	case AttrPlanStart:
		rec.PlanStart = ParseDate(value)
	case AttrPlanFinish:
		rec.PlanFinish = ParseDate(value)
	case AttrFactStart:
		rec.FactStart = ParseDate(value)
	case AttrFactFinish:
		rec.FactFinish = ParseDate(value)
	}
}

func applyControlPointAttribute(cp *models.ProjectControlPoint, attr AttributeKind, value any) {
	switch attr {
	case AttrPlanStart:
		cp.PlanStart = ParseDate(value)
	case AttrPlanFinish:
		cp.PlanFinish = ParseDate(value)
	case AttrFactStart:
		cp.FactStart = ParseDate(value)
	case AttrFactFinish:
		cp.FactFinish = ParseDate(value)
	case AttrStatus:
		cp.Status = ParseString(value)
	case AttrPerformer:
		cp.Performer = ParseString(value)
	}
}

func (i *Ingestor) reportUnknown(result *RunResult, kind FeedKind, label string, value any) {
	result.UnknownLabels++
	i.unknownLog.Warn("unknown label mapping",
		zap.String("feed", kind.String()),
		zap.String("label", label),
		zap.Any("value", value))
}

func (i *Ingestor) skipRecord(result *RunResult, file string, kind FeedKind, rec Record, err error) *RunResult {
	result.Skipped++
	result.addSample(fmt.Sprintf("%s: %v", file, err))
	i.logger.Warn("record skipped",
		zap.String("file", file),
		zap.String("feed", kind.String()),
		zap.String("identifier", recordIdentifier(kind, rec)),
		zap.Error(err))
	return result
}

func (i *Ingestor) failRecord(result *RunResult, file string, kind FeedKind, rec Record, err error) *RunResult {
	result.Failed++
	result.addSample(fmt.Sprintf("%s: %v", file, err))
	i.logger.Error("record failed",
		zap.String("file", file),
		zap.String("feed", kind.String()),
		zap.String("identifier", recordIdentifier(kind, rec)),
		zap.Error(err))
	return result
}

// recordActor attributes the record's changes to the named user when the
// feed carries one, or to the parser otherwise.
func recordActor(rec Record) models.Actor {
	if username := ParseString(rec[labelUsername]); username != nil {
		return models.Actor{Username: *username, Kind: models.ActorHuman}
	}
	return models.Actor{Username: "parser", Kind: models.ActorParser}
}

// recordSkippable buckets the error kinds that skip one record without
// counting it as a failure.
func recordSkippable(err error) bool {
	return errors.Is(err, apperrors.ErrInvalidIdentifier) ||
		errors.Is(err, apperrors.ErrProjectNotFound) ||
		errors.Is(err, apperrors.ErrMissingField)
}

// countOutcome folds one upsert outcome into the run counters.
func countOutcome(result *RunResult, outcome UpsertOutcome) {
	switch {
	case outcome.Created:
		result.Created++
	case outcome.Stale:
		result.Stale++
	case outcome.Applied:
		result.Updated++
	default:
		result.NoChange++
	}
}
