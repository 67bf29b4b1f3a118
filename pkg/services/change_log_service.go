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

// ChangeLogService records audit entries for effective changes and answers
// audit queries. Recording never fails its caller: a storage error is logged
// and swallowed so an audit hiccup cannot abort record processing.
type ChangeLogService interface {
	// RecordCreate logs the creation of an entity.
	RecordCreate(ctx context.Context, entityType string, entityID uuid.UUID)

	// RecordUpdate logs an update with its field-level diff.
	RecordUpdate(ctx context.Context, entityType string, entityID uuid.UUID, changes map[string]models.FieldChange)

	// GetByEntity returns audit entries for an entity, newest first.
	GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit int) ([]*models.ChangeLogEntry, error)

	// GetByField returns audit entries touching a field, newest first.
	GetByField(ctx context.Context, entityType, field string, limit int) ([]*models.ChangeLogEntry, error)

	// LastEffectiveEditor returns who last changed the field between two
	// non-empty values, and when. Returns ok=false when nobody has.
	LastEffectiveEditor(ctx context.Context, entityType string, entityID uuid.UUID, field string) (actor string, at time.Time, ok bool, err error)
}

type changeLogService struct {
	repo   repositories.ChangeLogRepository
	logger *zap.Logger
}

// NewChangeLogService creates a new ChangeLogService.
func NewChangeLogService(repo repositories.ChangeLogRepository, logger *zap.Logger) ChangeLogService {
	return &changeLogService{
		repo:   repo,
		logger: logger.Named("change-log"),
	}
}

var _ ChangeLogService = (*changeLogService)(nil)

func (s *changeLogService) RecordCreate(ctx context.Context, entityType string, entityID uuid.UUID) {
	s.record(ctx, &models.ChangeLogEntry{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     models.ChangeActionCreate,
	})
}

func (s *changeLogService) RecordUpdate(ctx context.Context, entityType string, entityID uuid.UUID, changes map[string]models.FieldChange) {
	if len(changes) == 0 {
		return
	}
	s.record(ctx, &models.ChangeLogEntry{
		EntityType:    entityType,
		EntityID:      entityID,
		Action:        models.ChangeActionUpdate,
		ChangedFields: changes,
	})
}

func (s *changeLogService) record(ctx context.Context, entry *models.ChangeLogEntry) {
	actor := models.ActorOrSystem(ctx)
	entry.Actor = actor.Username
	entry.ActorKind = actor.Kind

	if err := s.repo.Create(ctx, entry); err != nil {
		s.logger.Error("failed to record change log entry",
			zap.String("entity_type", entry.EntityType),
			zap.String("entity_id", entry.EntityID.String()),
			zap.String("action", entry.Action),
			zap.Error(err))
	}
}

func (s *changeLogService) GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit int) ([]*models.ChangeLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	entries, err := s.repo.GetByEntity(ctx, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("get change log entries: %w", err)
	}
	return entries, nil
}

func (s *changeLogService) GetByField(ctx context.Context, entityType, field string, limit int) ([]*models.ChangeLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	entries, err := s.repo.GetByField(ctx, entityType, field, limit)
	if err != nil {
		return nil, fmt.Errorf("get change log entries by field: %w", err)
	}
	return entries, nil
}

func (s *changeLogService) LastEffectiveEditor(ctx context.Context, entityType string, entityID uuid.UUID, field string) (string, time.Time, bool, error) {
	entries, err := s.repo.GetEffectiveChanges(ctx, entityType, entityID, field, 1)
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("get effective changes: %w", err)
	}
	if len(entries) == 0 {
		return "", time.Time{}, false, nil
	}
	return entries[0].Actor, entries[0].CreatedAt, true, nil
}
