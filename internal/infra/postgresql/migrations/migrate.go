package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/notifykit/notifykit/internal/repository"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		createTemplatesTable(),
		createNotificationLogsTable(),
		createNotificationAttemptsTable(),
	})

	return m.Migrate()
}

func createTemplatesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_templates",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.TemplateModel{}); err != nil {
				return err
			}
			// Name is unique per method; NULL method is the global slot.
			return tx.Exec(
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_templates_method_name ON templates (name, COALESCE(method, ''))`,
			).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.TemplateModel{})
		},
	}
}

func createNotificationLogsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_notification_logs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.NotificationLogModel{}); err != nil {
				return err
			}
			return tx.Exec(
				`CREATE INDEX IF NOT EXISTS idx_notification_logs_state_added ON notification_logs (state, added_at)`,
			).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.NotificationLogModel{})
		},
	}
}

func createNotificationAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_notification_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.NotificationAttemptModel{}); err != nil {
				return err
			}
			return tx.Exec(
				`CREATE INDEX IF NOT EXISTS idx_attempts_log_id ON notification_attempts (log_id)`,
			).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.NotificationAttemptModel{})
		},
	}
}
