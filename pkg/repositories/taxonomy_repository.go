package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stroymon/stroymon-engine/pkg/apperrors"
	"github.com/stroymon/stroymon-engine/pkg/database"
	"github.com/stroymon/stroymon-engine/pkg/models"
)

// TaxonomyRepository provides data access for the taxonomy node catalogs.
type TaxonomyRepository interface {
	// GetOrCreate returns the node with the given normalized name within
	// (family, parent) scope, creating it on first sight. Concurrent calls
	// for the same new name are serialized by the database unique index:
	// the insert uses ON CONFLICT DO NOTHING and re-selects, so exactly one
	// node ever exists per key.
	GetOrCreate(ctx context.Context, family models.TaxonomyFamily, name string, parentID *uuid.UUID) (*models.TaxonomyNode, error)

	// GetByID returns a node by id.
	GetByID(ctx context.Context, id uuid.UUID) (*models.TaxonomyNode, error)

	// ListByFamily returns all nodes of a family.
	ListByFamily(ctx context.Context, family models.TaxonomyFamily) ([]*models.TaxonomyNode, error)

	// ListChildren returns the direct children of a node.
	ListChildren(ctx context.Context, parentID uuid.UUID) ([]*models.TaxonomyNode, error)
}

type taxonomyRepository struct {
	db *database.DB
}

// NewTaxonomyRepository creates a new TaxonomyRepository.
func NewTaxonomyRepository(db *database.DB) TaxonomyRepository {
	return &taxonomyRepository{db: db}
}

var _ TaxonomyRepository = (*taxonomyRepository)(nil)

const taxonomyColumns = `id, family, name, normalized_name, parent_id, created_at`

func (r *taxonomyRepository) GetOrCreate(ctx context.Context, family models.TaxonomyFamily, name string, parentID *uuid.UUID) (*models.TaxonomyNode, error) {
	normalized := models.NormalizeNodeName(name)
	if normalized == "" {
		return nil, fmt.Errorf("%w: empty taxonomy node name", apperrors.ErrUnknownMapping)
	}

	if node, err := r.getByKey(ctx, family, normalized, parentID); err == nil {
		return node, nil
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	insert := `
		INSERT INTO taxonomy_nodes (id, family, name, normalized_name, parent_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING`

	_, err := r.db.Exec(ctx, insert, uuid.New(), family, name, normalized, parentID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to create taxonomy node %q: %w", name, err)
	}

	// Re-select regardless of whether our insert or a concurrent one won.
	node, err := r.getByKey(ctx, family, normalized, parentID)
	if err != nil {
		return nil, fmt.Errorf("taxonomy node %q missing after insert: %w", name, err)
	}
	return node, nil
}

func (r *taxonomyRepository) getByKey(ctx context.Context, family models.TaxonomyFamily, normalized string, parentID *uuid.UUID) (*models.TaxonomyNode, error) {
	var row pgx.Row
	if parentID == nil {
		query := `SELECT ` + taxonomyColumns + `
			FROM taxonomy_nodes
			WHERE family = $1 AND normalized_name = $2 AND parent_id IS NULL`
		row = r.db.QueryRow(ctx, query, family, normalized)
	} else {
		query := `SELECT ` + taxonomyColumns + `
			FROM taxonomy_nodes
			WHERE family = $1 AND normalized_name = $2 AND parent_id = $3`
		row = r.db.QueryRow(ctx, query, family, normalized, *parentID)
	}

	node, err := scanTaxonomyNode(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return node, nil
}

func (r *taxonomyRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.TaxonomyNode, error) {
	query := `SELECT ` + taxonomyColumns + ` FROM taxonomy_nodes WHERE id = $1`
	node, err := scanTaxonomyNode(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return node, nil
}

func (r *taxonomyRepository) ListByFamily(ctx context.Context, family models.TaxonomyFamily) ([]*models.TaxonomyNode, error) {
	query := `SELECT ` + taxonomyColumns + `
		FROM taxonomy_nodes WHERE family = $1 ORDER BY created_at`
	return r.list(ctx, query, family)
}

func (r *taxonomyRepository) ListChildren(ctx context.Context, parentID uuid.UUID) ([]*models.TaxonomyNode, error) {
	query := `SELECT ` + taxonomyColumns + `
		FROM taxonomy_nodes WHERE parent_id = $1 ORDER BY created_at`
	return r.list(ctx, query, parentID)
}

func (r *taxonomyRepository) list(ctx context.Context, query string, arg any) ([]*models.TaxonomyNode, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query taxonomy nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*models.TaxonomyNode
	for rows.Next() {
		node, err := scanTaxonomyNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating taxonomy nodes: %w", err)
	}
	return nodes, nil
}

func scanTaxonomyNode(row pgx.Row) (*models.TaxonomyNode, error) {
	var node models.TaxonomyNode
	err := row.Scan(&node.ID, &node.Family, &node.Name, &node.NormalizedName, &node.ParentID, &node.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan taxonomy node: %w", err)
	}
	return &node, nil
}
