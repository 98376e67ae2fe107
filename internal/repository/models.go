package repository

import (
	"encoding/json"
	"time"

	"github.com/notifykit/notifykit/internal/domain"
	"gorm.io/datatypes"
)

// TemplateModel is the persistence model for the templates table.
type TemplateModel struct {
	ID        string  `gorm:"type:uuid;primaryKey"`
	Name      string  `gorm:"type:varchar(255);not null"`
	Method    *string `gorm:"type:varchar(10)"`
	Subject   *string `gorm:"type:text"`
	Body      string  `gorm:"type:text;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (TemplateModel) TableName() string {
	return "templates"
}

// NotificationLogModel is the persistence model for notification_logs.
type NotificationLogModel struct {
	ID           string         `gorm:"type:uuid;primaryKey"`
	JobName      string         `gorm:"type:varchar(32);not null"`
	State        string         `gorm:"type:varchar(20);not null"`
	AttemptsMade int            `gorm:"not null;default:0"`
	JobData      datatypes.JSON `gorm:"type:jsonb"`
	AddedAt      time.Time      `gorm:"not null"`
	FinishedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (NotificationLogModel) TableName() string {
	return "notification_logs"
}

// NotificationAttemptModel is the persistence model for
// notification_attempts.
type NotificationAttemptModel struct {
	ID            string `gorm:"type:uuid;primaryKey"`
	LogID         string `gorm:"type:uuid;not null"`
	AttemptNumber int    `gorm:"not null"`
	ProcessedAt   *time.Time
	Result        *string `gorm:"type:text"`
	Error         *string `gorm:"type:text"`
	CreatedAt     time.Time
}

func (NotificationAttemptModel) TableName() string {
	return "notification_attempts"
}

func templateModelFromDomain(t *domain.Template) *TemplateModel {
	if t == nil {
		return nil
	}

	var method *string
	if t.Method != nil {
		value := t.Method.String()
		method = &value
	}

	return &TemplateModel{
		ID:        t.ID,
		Name:      t.Name,
		Method:    method,
		Subject:   t.Subject,
		Body:      t.Body,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func templateModelToDomain(m *TemplateModel) *domain.Template {
	if m == nil {
		return nil
	}

	var method *domain.DeliveryMethod
	if m.Method != nil {
		value := domain.DeliveryMethod(*m.Method)
		method = &value
	}

	return &domain.Template{
		ID:        m.ID,
		Name:      m.Name,
		Method:    method,
		Subject:   m.Subject,
		Body:      m.Body,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func logModelFromDomain(l *domain.NotificationLog) (*NotificationLogModel, error) {
	if l == nil {
		return nil, nil
	}

	jobData, err := marshalJobData(l.JobData)
	if err != nil {
		return nil, err
	}

	return &NotificationLogModel{
		ID:           l.ID,
		JobName:      l.JobName,
		State:        l.State.String(),
		AttemptsMade: l.AttemptsMade,
		JobData:      jobData,
		AddedAt:      l.AddedAt,
		FinishedAt:   l.FinishedAt,
		CreatedAt:    l.CreatedAt,
		UpdatedAt:    l.UpdatedAt,
	}, nil
}

func logModelToDomain(m *NotificationLogModel) *domain.NotificationLog {
	if m == nil {
		return nil
	}

	var jobData map[string]any
	if len(m.JobData) > 0 {
		// Corrupt snapshots degrade to a nil map instead of failing reads.
		_ = json.Unmarshal(m.JobData, &jobData)
	}

	return &domain.NotificationLog{
		ID:           m.ID,
		JobName:      m.JobName,
		State:        domain.JobState(m.State),
		AttemptsMade: m.AttemptsMade,
		JobData:      jobData,
		AddedAt:      m.AddedAt,
		FinishedAt:   m.FinishedAt,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.NotificationAttempt) *NotificationAttemptModel {
	if a == nil {
		return nil
	}

	return &NotificationAttemptModel{
		ID:            a.ID,
		LogID:         a.LogID,
		AttemptNumber: a.AttemptNumber,
		ProcessedAt:   a.ProcessedAt,
		Result:        a.Result,
		Error:         a.Error,
		CreatedAt:     a.CreatedAt,
	}
}

func attemptModelToDomain(m *NotificationAttemptModel) *domain.NotificationAttempt {
	if m == nil {
		return nil
	}

	return &domain.NotificationAttempt{
		ID:            m.ID,
		LogID:         m.LogID,
		AttemptNumber: m.AttemptNumber,
		ProcessedAt:   m.ProcessedAt,
		Result:        m.Result,
		Error:         m.Error,
		CreatedAt:     m.CreatedAt,
	}
}

func marshalJobData(data map[string]any) (datatypes.JSON, error) {
	if data == nil {
		return datatypes.JSON("{}"), nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
