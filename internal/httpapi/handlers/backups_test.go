package handlers

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livarr/livarr/internal/backup"
	"github.com/livarr/livarr/internal/config"
	"github.com/livarr/livarr/internal/database"
	"github.com/livarr/livarr/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newBackupsHandler(t *testing.T) *BackupsHandler {
	t.Helper()
	base := t.TempDir()

	db, err := database.New(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(base, "livarr.db"),
	}, testLogger(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.AutoMigrate(&models.StreamSession{}, &models.UploadedVideo{}))

	cfg := &config.Config{}
	cfg.Storage.BaseDir = base
	cfg.Backup.Schedule.Enabled = true
	cfg.Backup.Schedule.Cron = "0 2 * * *"
	cfg.Backup.Schedule.Retention = 7

	return NewBackupsHandler(backup.NewService(cfg, db, testLogger()))
}

func TestBackupsHandler_ListBackups(t *testing.T) {
	handler := newBackupsHandler(t)
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		resp, err := handler.ListBackups(ctx, &ListBackupsInput{})
		require.NoError(t, err)
		assert.Zero(t, resp.Body.Count)
		assert.Empty(t, resp.Body.Backups)
		assert.NotEmpty(t, resp.Body.BackupDirectory)
		assert.True(t, resp.Body.Schedule.Enabled)
		assert.Equal(t, "0 2 * * *", resp.Body.Schedule.Cron)
		assert.Equal(t, 7, resp.Body.Schedule.Retention)
	})

	t.Run("after a snapshot", func(t *testing.T) {
		meta, err := handler.backups.Snapshot(ctx)
		require.NoError(t, err)
		require.NotNil(t, meta)

		resp, err := handler.ListBackups(ctx, &ListBackupsInput{})
		require.NoError(t, err)
		require.Equal(t, 1, resp.Body.Count)
		assert.Equal(t, meta.Filename, resp.Body.Backups[0].Filename)
		assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, resp.Body.Backups[0].Checksum)
		assert.Equal(t, handler.backups.Dir(), resp.Body.BackupDirectory)
	})
}
