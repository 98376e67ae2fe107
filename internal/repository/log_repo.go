package repository

import (
	"context"
	"errors"
	"time"

	"github.com/notifykit/notifykit/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LogPatch carries the mutable fields of a notification log update.
type LogPatch struct {
	State        domain.JobState
	AttemptsMade int
	JobData      map[string]any
	FinishedAt   *time.Time
}

// LogRepository persists notification logs and their append-only attempt
// history. Create and Update both accept an optional attempt row that must
// commit atomically with the log write, so the log's attemptsMade counter
// and the attempt history can never diverge.
type LogRepository interface {
	Create(ctx context.Context, log *domain.NotificationLog, attempt *domain.NotificationAttempt) error
	Update(ctx context.Context, id string, patch LogPatch, attempt *domain.NotificationAttempt) error
	GetByID(ctx context.Context, id string) (*domain.NotificationLog, error)
	ListAttempts(ctx context.Context, logID string) ([]domain.NotificationAttempt, error)
}

type GormLogRepo struct {
	db *gorm.DB
}

func NewGormLogRepo(db *gorm.DB) *GormLogRepo {
	return &GormLogRepo{db: db}
}

func (r *GormLogRepo) Create(ctx context.Context, log *domain.NotificationLog, attempt *domain.NotificationAttempt) error {
	model, err := logModelFromDomain(log)
	if err != nil {
		return err
	}
	if model == nil {
		return domain.ErrValidation
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		if log != nil {
			*log = *logModelToDomain(model)
		}

		if attempt == nil {
			return nil
		}
		attempt.LogID = model.ID
		attemptModel := attemptModelFromDomain(attempt)
		if err := tx.Create(attemptModel).Error; err != nil {
			return err
		}
		*attempt = *attemptModelToDomain(attemptModel)
		return nil
	})
}

// Update rewrites the log's mutable fields and, when attempt is non-nil,
// appends the attempt row in the same transaction. An update carrying a
// lower attempt count than the stored row is out of order and is rejected
// with ErrConflict without touching either table.
func (r *GormLogRepo) Update(ctx context.Context, id string, patch LogPatch, attempt *domain.NotificationAttempt) error {
	jobData, err := marshalJobData(patch.JobData)
	if err != nil {
		return err
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current NotificationLogModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&current, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		if patch.AttemptsMade < current.AttemptsMade {
			return domain.ErrConflict
		}

		updates := map[string]any{
			"state":         patch.State.String(),
			"attempts_made": patch.AttemptsMade,
			"job_data":      jobData,
			"finished_at":   patch.FinishedAt,
		}
		if err := tx.Model(&current).Updates(updates).Error; err != nil {
			return err
		}

		if attempt == nil {
			return nil
		}
		attempt.LogID = id
		attemptModel := attemptModelFromDomain(attempt)
		if err := tx.Create(attemptModel).Error; err != nil {
			return err
		}
		*attempt = *attemptModelToDomain(attemptModel)
		return nil
	})
}

func (r *GormLogRepo) GetByID(ctx context.Context, id string) (*domain.NotificationLog, error) {
	var model NotificationLogModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return logModelToDomain(&model), nil
}

func (r *GormLogRepo) ListAttempts(ctx context.Context, logID string) ([]domain.NotificationAttempt, error) {
	var models []NotificationAttemptModel
	err := r.db.WithContext(ctx).
		Where("log_id = ?", logID).
		Order("attempt_number ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	attempts := make([]domain.NotificationAttempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *attemptModelToDomain(&models[i]))
	}
	return attempts, nil
}
