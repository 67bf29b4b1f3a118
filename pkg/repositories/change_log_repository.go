package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stroymon/stroymon-engine/pkg/database"
	"github.com/stroymon/stroymon-engine/pkg/models"
)

// ChangeLogRepository provides data access for the append-only change log.
type ChangeLogRepository interface {
	// Create appends a new change log entry.
	Create(ctx context.Context, entry *models.ChangeLogEntry) error

	// GetByEntity returns entries for an entity, newest first.
	GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit int) ([]*models.ChangeLogEntry, error)

	// GetByField returns entries that touch the given field, newest first.
	GetByField(ctx context.Context, entityType, field string, limit int) ([]*models.ChangeLogEntry, error)

	// GetEffectiveChanges returns entries where the given field changed
	// between two non-empty values. Answers "who last changed the deadline
	// date" without counting initial fills or erasures.
	GetEffectiveChanges(ctx context.Context, entityType string, entityID uuid.UUID, field string, limit int) ([]*models.ChangeLogEntry, error)
}

type changeLogRepository struct {
	db *database.DB
}

// NewChangeLogRepository creates a new ChangeLogRepository.
func NewChangeLogRepository(db *database.DB) ChangeLogRepository {
	return &changeLogRepository{db: db}
}

var _ ChangeLogRepository = (*changeLogRepository)(nil)

const changeLogColumns = `id, entity_type, entity_id, action, actor, actor_kind, changed_fields, created_at`

func (r *changeLogRepository) Create(ctx context.Context, entry *models.ChangeLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = time.Now()

	var changedFieldsJSON []byte
	var err error
	if len(entry.ChangedFields) > 0 {
		changedFieldsJSON, err = json.Marshal(entry.ChangedFields)
		if err != nil {
			return fmt.Errorf("failed to marshal changed_fields: %w", err)
		}
	}

	query := `
		INSERT INTO change_log (` + changeLogColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = r.db.Exec(ctx, query,
		entry.ID, entry.EntityType, entry.EntityID, entry.Action,
		entry.Actor, entry.ActorKind, changedFieldsJSON, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create change log entry: %w", err)
	}
	return nil
}

func (r *changeLogRepository) GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit int) ([]*models.ChangeLogEntry, error) {
	query := `
		SELECT ` + changeLogColumns + `
		FROM change_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC
		LIMIT $3`

	return r.query(ctx, query, entityType, entityID, limit)
}

func (r *changeLogRepository) GetByField(ctx context.Context, entityType, field string, limit int) ([]*models.ChangeLogEntry, error) {
	query := `
		SELECT ` + changeLogColumns + `
		FROM change_log
		WHERE entity_type = $1 AND changed_fields ? $2
		ORDER BY created_at DESC
		LIMIT $3`

	return r.query(ctx, query, entityType, field, limit)
}

func (r *changeLogRepository) GetEffectiveChanges(ctx context.Context, entityType string, entityID uuid.UUID, field string, limit int) ([]*models.ChangeLogEntry, error) {
	query := `
		SELECT ` + changeLogColumns + `
		FROM change_log
		WHERE entity_type = $1
		  AND entity_id = $2
		  AND changed_fields -> $3 ->> 'old' IS NOT NULL
		  AND changed_fields -> $3 ->> 'old' <> ''
		  AND changed_fields -> $3 ->> 'new' IS NOT NULL
		  AND changed_fields -> $3 ->> 'new' <> ''
		  AND changed_fields -> $3 ->> 'old' IS DISTINCT FROM changed_fields -> $3 ->> 'new'
		ORDER BY created_at DESC
		LIMIT $4`

	return r.query(ctx, query, entityType, entityID, field, limit)
}

func (r *changeLogRepository) query(ctx context.Context, query string, args ...any) ([]*models.ChangeLogEntry, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query change log: %w", err)
	}
	defer rows.Close()

	var entries []*models.ChangeLogEntry
	for rows.Next() {
		entry, err := scanChangeLogEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating change log entries: %w", err)
	}
	return entries, nil
}

func scanChangeLogEntry(row pgx.Row) (*models.ChangeLogEntry, error) {
	var entry models.ChangeLogEntry
	var changedFieldsJSON []byte

	err := row.Scan(
		&entry.ID, &entry.EntityType, &entry.EntityID, &entry.Action,
		&entry.Actor, &entry.ActorKind, &changedFieldsJSON, &entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan change log entry: %w", err)
	}

	if len(changedFieldsJSON) > 0 && string(changedFieldsJSON) != "null" {
		if err := json.Unmarshal(changedFieldsJSON, &entry.ChangedFields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal changed_fields: %w", err)
		}
	}

	return &entry, nil
}
