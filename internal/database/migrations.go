package database

import (
	"errors"
	"time"

	"github.com/aris-ansari/x-clone/internal/notifications"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillNotificationMeta = "2024-06-01_backfill_notification_meta"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

var migrations = []migrationDefinition{
	{name: migrationBackfillNotificationMeta, apply: backfillNotificationMeta},
}

func migrateSchema(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(&notifications.Notification{}, &migrationRecord{}); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}

// applyMigrations runs every named migration exactly once, recording each in db_migrations.
func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Rows written before meta was populated render as an empty object.
func backfillNotificationMeta(db *gorm.DB) error {
	return db.Exec(
		"UPDATE notifications SET meta = ? WHERE meta IS NULL OR meta = ? OR meta = ?",
		"{}", "", "null",
	).Error
}
