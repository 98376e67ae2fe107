package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/notifykit/notifykit/internal/domain"
	"github.com/notifykit/notifykit/internal/repository"
	"github.com/notifykit/notifykit/internal/template"
	"go.uber.org/zap"
)

// TemplateService owns stored-template writes. The consumer never writes
// templates; this is the admin surface that keeps the resolver cache
// coherent with point invalidation on update and remove.
type TemplateService struct {
	templates repository.TemplateRepository
	cache     template.Cache
	logger    *zap.Logger
}

func NewTemplateService(templates repository.TemplateRepository, cache template.Cache, logger *zap.Logger) (*TemplateService, error) {
	if templates == nil {
		return nil, fmt.Errorf("template repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemplateService{templates: templates, cache: cache, logger: logger}, nil
}

func (s *TemplateService) Create(ctx context.Context, tpl *domain.Template) (*domain.Template, error) {
	if err := tpl.Validate(); err != nil {
		return nil, err
	}
	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	if err := s.templates.Create(ctx, tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}

func (s *TemplateService) Update(ctx context.Context, tpl *domain.Template) error {
	if err := tpl.Validate(); err != nil {
		return err
	}
	if tpl.ID == "" {
		return fmt.Errorf("%w: template id is required", domain.ErrValidation)
	}

	if err := s.templates.Update(ctx, tpl); err != nil {
		return err
	}

	s.invalidate(ctx, tpl)
	return nil
}

func (s *TemplateService) Remove(ctx context.Context, id string) error {
	tpl, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.templates.Remove(ctx, id); err != nil {
		return err
	}

	s.invalidate(ctx, tpl)
	return nil
}

// invalidate drops exactly the cache entry the resolver would hit for this
// template. Global templates (nil method) serve email lookups, so they
// invalidate under the email key.
func (s *TemplateService) invalidate(ctx context.Context, tpl *domain.Template) {
	if s.cache == nil || tpl == nil {
		return
	}

	method := domain.MethodEmail
	if tpl.Method != nil {
		method = *tpl.Method
	}

	if err := s.cache.Delete(ctx, template.CacheKey(&method, tpl.Name)); err != nil {
		s.logger.Warn("template cache invalidation failed",
			zap.String("template", tpl.Name),
			zap.Error(err),
		)
	}
}
