package repository

import (
	"context"
	"errors"

	"github.com/notifykit/notifykit/internal/domain"
	"gorm.io/gorm"
)

type TemplateRepository interface {
	FindOne(ctx context.Context, method domain.DeliveryMethod, name string) (*domain.Template, error)
	GetByID(ctx context.Context, id string) (*domain.Template, error)
	Create(ctx context.Context, t *domain.Template) error
	Update(ctx context.Context, t *domain.Template) error
	Remove(ctx context.Context, id string) error
}

type GormTemplateRepo struct {
	db *gorm.DB
}

func NewGormTemplateRepo(db *gorm.DB) *GormTemplateRepo {
	return &GormTemplateRepo{db: db}
}

// FindOne prefers an exact method match and, for email only, falls back to
// a global template (method IS NULL) with the same name.
func (r *GormTemplateRepo) FindOne(ctx context.Context, method domain.DeliveryMethod, name string) (*domain.Template, error) {
	var model TemplateModel
	err := r.db.WithContext(ctx).
		Where("name = ? AND method = ?", name, method.String()).
		First(&model).Error
	if err == nil {
		return templateModelToDomain(&model), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if !globalFallbackAllowed(method) {
		return nil, domain.ErrNotFound
	}

	err = r.db.WithContext(ctx).
		Where("name = ? AND method IS NULL", name).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return templateModelToDomain(&model), nil
}

// globalFallbackAllowed reports whether a lookup may fall back to a global
// (method IS NULL) template row. Global templates serve email only, which
// keeps them coherent with point cache invalidation under the email key.
func globalFallbackAllowed(method domain.DeliveryMethod) bool {
	return method == domain.MethodEmail
}

func (r *GormTemplateRepo) GetByID(ctx context.Context, id string) (*domain.Template, error) {
	var model TemplateModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return templateModelToDomain(&model), nil
}

func (r *GormTemplateRepo) Create(ctx context.Context, t *domain.Template) error {
	model := templateModelFromDomain(t)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if t != nil {
		*t = *templateModelToDomain(model)
	}
	return nil
}

func (r *GormTemplateRepo) Update(ctx context.Context, t *domain.Template) error {
	model := templateModelFromDomain(t)
	if model == nil {
		return domain.ErrValidation
	}

	result := r.db.WithContext(ctx).
		Model(&TemplateModel{}).
		Where("id = ?", model.ID).
		Updates(map[string]any{
			"subject": model.Subject,
			"body":    model.Body,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormTemplateRepo) Remove(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&TemplateModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
