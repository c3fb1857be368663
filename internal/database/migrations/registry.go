// Package migrations provides database migration management for livarr.
package migrations

import (
	"github.com/livarr/livarr/internal/models"
	"gorm.io/gorm"
)

// AllMigrations returns all registered migrations in order.
// - 001: Schema creation using GORM AutoMigrate
// - 002: Composite index for the grouping window query
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
		migration002UploadTimeIndex(),
	}
}

// migration001Schema creates all database tables using GORM AutoMigrate.
func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create all database tables",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&models.StreamSession{},
				&models.UploadedVideo{},
			)
		},
		Down: func(tx *gorm.DB) error {
			tables := []string{
				"uploaded_videos",
				"stream_sessions",
			}
			for _, table := range tables {
				if tx.Migrator().HasTable(table) {
					if err := tx.Migrator().DropTable(table); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}

// migration002UploadTimeIndex adds a composite index covering the interval
// scans the uploader runs per session window (bvid presence + upload_time).
func migration002UploadTimeIndex() Migration {
	return Migration{
		Version:     "002",
		Description: "Add composite index on uploaded_videos (upload_time, bvid)",
		Up: func(tx *gorm.DB) error {
			if tx.Migrator().HasIndex(&models.UploadedVideo{}, "idx_uploaded_videos_window") {
				return nil
			}
			return tx.Exec(
				"CREATE INDEX idx_uploaded_videos_window ON uploaded_videos (upload_time, bvid)",
			).Error
		},
		Down: func(tx *gorm.DB) error {
			if !tx.Migrator().HasIndex(&models.UploadedVideo{}, "idx_uploaded_videos_window") {
				return nil
			}
			return tx.Migrator().DropIndex(&models.UploadedVideo{}, "idx_uploaded_videos_window")
		},
	}
}
