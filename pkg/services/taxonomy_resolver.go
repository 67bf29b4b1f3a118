package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stroymon/stroymon-engine/pkg/models"
	"github.com/stroymon/stroymon-engine/pkg/repositories"
)

// compoundDelimiter splits "Parent:: Child" feed labels.
const compoundDelimiter = "::"

// TaxonomyResolver resolves free-text feed labels into stable taxonomy
// nodes, materializing new nodes on first sight. Nodes are permanent, so a
// resolved label keeps mapping to the same node forever.
type TaxonomyResolver interface {
	// Resolve resolves a raw label within a family. Compound labels
	// ("X:: Y") resolve the parent first, then the child under it.
	// parentHint scopes non-compound labels (and the parent half of
	// compound ones) under an already-known node.
	Resolve(ctx context.Context, rawLabel string, family models.TaxonomyFamily, parentHint *uuid.UUID) (*models.TaxonomyNode, error)
}

type taxonomyResolver struct {
	repo   repositories.TaxonomyRepository
	logger *zap.Logger

	// Resolution is hot (every label of every record), so resolved nodes
	// are memoized. The cache only ever holds rows that exist in the
	// database; the unique index is the authority on duplicates.
	mu    sync.RWMutex
	cache map[taxonomyCacheKey]*models.TaxonomyNode
}

type taxonomyCacheKey struct {
	family     models.TaxonomyFamily
	normalized string
	parentID   uuid.UUID // uuid.Nil for root nodes
}

// NewTaxonomyResolver creates a new TaxonomyResolver.
func NewTaxonomyResolver(repo repositories.TaxonomyRepository, logger *zap.Logger) TaxonomyResolver {
	return &taxonomyResolver{
		repo:   repo,
		logger: logger.Named("taxonomy-resolver"),
		cache:  make(map[taxonomyCacheKey]*models.TaxonomyNode),
	}
}

var _ TaxonomyResolver = (*taxonomyResolver)(nil)

func (r *taxonomyResolver) Resolve(ctx context.Context, rawLabel string, family models.TaxonomyFamily, parentHint *uuid.UUID) (*models.TaxonomyNode, error) {
	if !family.IsValid() {
		return nil, fmt.Errorf("invalid taxonomy family %q", family)
	}

	parentName, childName, compound := splitCompoundLabel(rawLabel)
	if !compound {
		return r.resolveOne(ctx, rawLabel, family, parentHint)
	}

	parent, err := r.resolveOne(ctx, parentName, family, parentHint)
	if err != nil {
		return nil, fmt.Errorf("resolve parent %q: %w", parentName, err)
	}
	node, err := r.resolveOne(ctx, childName, family, &parent.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve child %q under %q: %w", childName, parentName, err)
	}
	return node, nil
}

func (r *taxonomyResolver) resolveOne(ctx context.Context, name string, family models.TaxonomyFamily, parentID *uuid.UUID) (*models.TaxonomyNode, error) {
	key := taxonomyCacheKey{
		family:     family,
		normalized: models.NormalizeNodeName(name),
	}
	if parentID != nil {
		key.parentID = *parentID
	}

	r.mu.RLock()
	node, hit := r.cache[key]
	r.mu.RUnlock()
	if hit {
		return node, nil
	}

	node, err := r.repo.GetOrCreate(ctx, family, strings.TrimSpace(name), parentID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if cached, ok := r.cache[key]; ok {
		node = cached
	} else {
		r.cache[key] = node
	}
	r.mu.Unlock()

	r.logger.Debug("resolved taxonomy node",
		zap.String("family", string(family)),
		zap.String("name", node.Name),
		zap.String("node_id", node.ID.String()))
	return node, nil
}

// splitCompoundLabel splits "X:: Y" into parent and child names. Labels
// without the delimiter, or with an empty half, are not compound.
func splitCompoundLabel(label string) (parent, child string, ok bool) {
	idx := strings.Index(label, compoundDelimiter)
	if idx < 0 {
		return "", "", false
	}
	parent = strings.TrimSpace(label[:idx])
	child = strings.TrimSpace(label[idx+len(compoundDelimiter):])
	if parent == "" || child == "" {
		return "", "", false
	}
	return parent, child, true
}
