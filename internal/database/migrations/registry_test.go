package migrations

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/livarr/livarr/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	return db
}

func TestAllMigrations_ReturnsExpectedCount(t *testing.T) {
	migrations := AllMigrations()

	// 001: Create all database tables (schema)
	// 002: Composite index for the grouping window query
	assert.Len(t, migrations, 2)
}

func TestAllMigrations_VersionsAreUnique(t *testing.T) {
	migrations := AllMigrations()
	versions := make(map[string]bool)

	for _, m := range migrations {
		assert.False(t, versions[m.Version], "duplicate version: %s", m.Version)
		versions[m.Version] = true
	}
}

func TestAllMigrations_VersionsAreOrdered(t *testing.T) {
	migrations := AllMigrations()

	for i := 1; i < len(migrations); i++ {
		assert.Less(t, migrations[i-1].Version, migrations[i].Version,
			"migrations should be in ascending version order")
	}
}

func TestMigrator_Up_AllMigrations(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())

	err := migrator.Up(ctx)
	require.NoError(t, err)

	assert.True(t, db.Migrator().HasTable("stream_sessions"))
	assert.True(t, db.Migrator().HasTable("uploaded_videos"))
	assert.True(t, db.Migrator().HasIndex(&models.UploadedVideo{}, "idx_uploaded_videos_window"))
}

func TestMigrator_Up_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())

	// Run migrations twice - should not error
	err := migrator.Up(ctx)
	require.NoError(t, err)

	err = migrator.Up(ctx)
	require.NoError(t, err)
}

func TestMigrator_Status(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())

	// Before running migrations
	statuses, err := migrator.Status(ctx)
	require.NoError(t, err)
	assert.Len(t, statuses, 2)

	for _, s := range statuses {
		assert.False(t, s.Applied)
		assert.Nil(t, s.AppliedAt)
	}

	// After running migrations
	err = migrator.Up(ctx)
	require.NoError(t, err)

	statuses, err = migrator.Status(ctx)
	require.NoError(t, err)

	for _, s := range statuses {
		assert.True(t, s.Applied)
		assert.NotNil(t, s.AppliedAt)
	}
}

func TestMigrator_Down_RollsBackLastMigration(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())

	err := migrator.Up(ctx)
	require.NoError(t, err)

	assert.True(t, db.Migrator().HasTable("stream_sessions"))
	assert.True(t, db.Migrator().HasTable("uploaded_videos"))

	// Roll back migration 002 (composite index)
	err = migrator.Down(ctx)
	require.NoError(t, err)

	assert.True(t, db.Migrator().HasTable("uploaded_videos"))
	assert.False(t, db.Migrator().HasIndex(&models.UploadedVideo{}, "idx_uploaded_videos_window"))

	// Roll back migration 001 (schema)
	err = migrator.Down(ctx)
	require.NoError(t, err)

	assert.False(t, db.Migrator().HasTable("stream_sessions"))
	assert.False(t, db.Migrator().HasTable("uploaded_videos"))
}

func TestMigrator_Pending(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())

	// All should be pending initially
	pending, err := migrator.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	// Run migrations
	err = migrator.Up(ctx)
	require.NoError(t, err)

	// None should be pending
	pending, err = migrator.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 0)
}

func TestMigrations_CanInsertData(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())

	err := migrator.Up(ctx)
	require.NoError(t, err)

	// StreamSession insert
	start := time.Now().Add(-time.Hour)
	session := &models.StreamSession{
		StreamerName: "银剑君",
		StartTime:    &start,
	}
	err = db.Create(session).Error
	require.NoError(t, err)
	assert.False(t, session.ID.IsZero())

	// UploadedVideo insert
	video := &models.UploadedVideo{
		Title:             "洞主直播回放2026年02月24日【弹幕版】",
		FirstPartFilename: "洞主录播2026-02-24T09_30_00.mp4",
		UploadTime:        time.Now(),
	}
	err = db.Create(video).Error
	require.NoError(t, err)
	assert.False(t, video.ID.IsZero())
}

func TestMigrations_UniqueConstraints(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())

	err := migrator.Up(ctx)
	require.NoError(t, err)

	bvid := "BV1xx411c7mD"
	first := &models.UploadedVideo{
		Title:             "洞主直播回放2026年02月24日【弹幕版】",
		Bvid:              &bvid,
		FirstPartFilename: "洞主录播2026-02-24T09_30_00.mp4",
		UploadTime:        time.Now(),
	}
	require.NoError(t, db.Create(first).Error)

	t.Run("duplicate filename rejected", func(t *testing.T) {
		dup := &models.UploadedVideo{
			Title:             "another title",
			FirstPartFilename: "洞主录播2026-02-24T09_30_00.mp4",
			UploadTime:        time.Now(),
		}
		assert.Error(t, db.Create(dup).Error)
	})

	t.Run("duplicate bvid rejected", func(t *testing.T) {
		dup := &models.UploadedVideo{
			Title:             "another title",
			Bvid:              &bvid,
			FirstPartFilename: "洞主录播2026-02-24T10_30_00.mp4",
			UploadTime:        time.Now(),
		}
		assert.Error(t, db.Create(dup).Error)
	})

	t.Run("multiple null bvids allowed", func(t *testing.T) {
		a := &models.UploadedVideo{
			Title:             "P2 01:00:00 (分P)",
			FirstPartFilename: "洞主录播2026-02-24T11_30_00.mp4",
			UploadTime:        time.Now(),
		}
		b := &models.UploadedVideo{
			Title:             "P3 02:00:00 (分P)",
			FirstPartFilename: "洞主录播2026-02-24T12_30_00.mp4",
			UploadTime:        time.Now(),
		}
		assert.NoError(t, db.Create(a).Error)
		assert.NoError(t, db.Create(b).Error)
	})
}
