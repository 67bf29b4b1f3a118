package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/stroymon/stroymon-engine/pkg/apperrors"
	"github.com/stroymon/stroymon-engine/pkg/models"
	"github.com/stroymon/stroymon-engine/pkg/repositories"
)

// EntityResolver maps external identifiers (UIN, master-code) onto internal
// project rows. Resolution is strict by default: an unknown identifier is
// apperrors.ErrProjectNotFound, fatal for the one record carrying it. Only
// the OIV feed, the system of record for project existence, may create
// projects on first sight.
type EntityResolver interface {
	// ResolveByUIN returns the project for a validated UIN.
	ResolveByUIN(ctx context.Context, uin string) (*models.Project, error)

	// ResolveByMasterCode returns the project for a validated master-code.
	ResolveByMasterCode(ctx context.Context, code string) (*models.Project, error)

	// ResolveOrCreateByUIN returns the project for a UIN, creating an empty
	// row on first sight. Returns created=true when a row was inserted.
	ResolveOrCreateByUIN(ctx context.Context, uin string) (p *models.Project, created bool, err error)
}

type entityResolver struct {
	projects repositories.ProjectRepository
	logger   *zap.Logger
}

// NewEntityResolver creates a new EntityResolver.
func NewEntityResolver(projects repositories.ProjectRepository, logger *zap.Logger) EntityResolver {
	return &entityResolver{
		projects: projects,
		logger:   logger.Named("entity-resolver"),
	}
}

var _ EntityResolver = (*entityResolver)(nil)

func (r *entityResolver) ResolveByUIN(ctx context.Context, uin string) (*models.Project, error) {
	p, err := r.projects.GetByUIN(ctx, uin)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: uin %s", apperrors.ErrProjectNotFound, uin)
		}
		return nil, err
	}
	return p, nil
}

func (r *entityResolver) ResolveByMasterCode(ctx context.Context, code string) (*models.Project, error) {
	p, err := r.projects.GetByMasterCode(ctx, code)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: master-code %s", apperrors.ErrProjectNotFound, code)
		}
		return nil, err
	}
	return p, nil
}

func (r *entityResolver) ResolveOrCreateByUIN(ctx context.Context, uin string) (*models.Project, bool, error) {
	p, err := r.projects.GetByUIN(ctx, uin)
	if err == nil {
		return p, false, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, false, err
	}

	p = &models.Project{UIN: uin}
	if err := r.projects.Create(ctx, p); err != nil {
		// Lost a race against a concurrent worker; the row exists now.
		if existing, getErr := r.projects.GetByUIN(ctx, uin); getErr == nil {
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("create project %s: %w", uin, err)
	}

	r.logger.Info("created project on first sight", zap.String("uin", uin))
	return p, true, nil
}
