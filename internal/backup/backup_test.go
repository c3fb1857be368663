package backup

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"github.com/livarr/livarr/internal/config"
	"github.com/livarr/livarr/internal/database"
	"github.com/livarr/livarr/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newBackupEnv(t *testing.T, retention int) (*Service, string) {
	t.Helper()
	base := t.TempDir()

	db, err := database.New(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(base, "livarr.db"),
	}, testLogger(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// Give the database content so the snapshot is non-trivial.
	require.NoError(t, db.AutoMigrate(&models.StreamSession{}, &models.UploadedVideo{}))
	start := models.Time(time.Now().Add(-2 * time.Hour))
	require.NoError(t, db.Create(&models.StreamSession{StreamerName: "洞主", StartTime: &start}).Error)

	cfg := &config.Config{}
	cfg.Storage.BaseDir = base
	cfg.Backup.Schedule.Enabled = true
	cfg.Backup.Schedule.Cron = "0 2 * * *"
	cfg.Backup.Schedule.Retention = retention

	svc := NewService(cfg, db, testLogger())
	return svc, svc.Dir()
}

func writeArchive(t *testing.T, dir, name string) {
	t.Helper()
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	_, err = xw.Write([]byte("backup payload"))
	require.NoError(t, err)
	require.NoError(t, xw.Close())
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0o644))
}

func TestService_Snapshot(t *testing.T) {
	svc, dir := newBackupEnv(t, 7)

	meta, err := svc.Snapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, dir, filepath.Dir(meta.FilePath))
	assert.Regexp(t, `^livarr-backup-\d{8}-\d{6}\.db\.xz$`, meta.Filename)
	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, meta.Checksum)
	assert.Positive(t, meta.DatabaseSize)
	assert.Equal(t, meta.FileSize, meta.CompressedSize)
	assert.Less(t, meta.CompressedSize, meta.DatabaseSize, "xz should shrink a sparse sqlite file")
	assert.Equal(t, 1, meta.TableCounts.StreamSessions)
	assert.Equal(t, 0, meta.TableCounts.UploadedVideos)

	// Exactly the archive and its companion; neither the plain
	// snapshot nor a .part file may linger.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.FileExists(t, metaPath(meta.FilePath))

	// Round-trip: the archive decompresses back to a SQLite file.
	f, err := os.Open(meta.FilePath)
	require.NoError(t, err)
	defer f.Close()
	xr, err := xz.NewReader(f)
	require.NoError(t, err)
	head := make([]byte, 16)
	_, err = io.ReadFull(xr, head)
	require.NoError(t, err)
	assert.Equal(t, "SQLite format 3\x00", string(head))
}

func TestService_List(t *testing.T) {
	svc, dir := newBackupEnv(t, 7)

	backups, err := svc.List()
	require.NoError(t, err)
	assert.Empty(t, backups, "a missing backup directory lists empty")

	require.NoError(t, os.MkdirAll(dir, 0o755))
	writeArchive(t, dir, "livarr-backup-20260101-020000.db.xz")
	writeArchive(t, dir, "livarr-backup-20260301-020000.db.xz")
	writeArchive(t, dir, "livarr-backup-20260201-020000.db.xz")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep"), 0o644))

	backups, err = svc.List()
	require.NoError(t, err)
	require.Len(t, backups, 3, "non-archive files are ignored")
	assert.Equal(t, "livarr-backup-20260301-020000.db.xz", backups[0].Filename)
	assert.Equal(t, "livarr-backup-20260101-020000.db.xz", backups[2].Filename)
	assert.Positive(t, backups[0].FileSize)

	// Without a companion file the creation time comes from the name.
	want := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, want, backups[0].CreatedAt)
	assert.Empty(t, backups[0].Checksum)
}

func TestService_ListReadsCompanionMetadata(t *testing.T) {
	svc, _ := newBackupEnv(t, 7)

	created, err := svc.Snapshot(context.Background())
	require.NoError(t, err)

	backups, err := svc.List()
	require.NoError(t, err)
	require.Len(t, backups, 1)
	got := backups[0]
	assert.Equal(t, created.Checksum, got.Checksum)
	assert.Equal(t, created.DatabaseSize, got.DatabaseSize)
	assert.Equal(t, created.LivarrVersion, got.LivarrVersion)
	assert.Equal(t, 1, got.TableCounts.StreamSessions)
	assert.WithinDuration(t, created.CreatedAt, got.CreatedAt, time.Second)
}

func TestService_SnapshotPrunes(t *testing.T) {
	svc, dir := newBackupEnv(t, 2)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	writeArchive(t, dir, "livarr-backup-20250101-020000.db.xz")
	writeArchive(t, dir, "livarr-backup-20250102-020000.db.xz")
	writeArchive(t, dir, "livarr-backup-20250103-020000.db.xz")
	stale := []byte(`{"livarr_version":"0.1.0"}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "livarr-backup-20250101-020000.meta.json"), stale, 0o644))

	meta, err := svc.Snapshot(context.Background())
	require.NoError(t, err)

	backups, err := svc.List()
	require.NoError(t, err)
	require.Len(t, backups, 2, "retention keeps only the newest archives")
	assert.Equal(t, meta.Filename, backups[0].Filename)
	assert.Equal(t, "livarr-backup-20250103-020000.db.xz", backups[1].Filename)
	assert.NoFileExists(t, filepath.Join(dir, "livarr-backup-20250101-020000.db.xz"))
	assert.NoFileExists(t, filepath.Join(dir, "livarr-backup-20250101-020000.meta.json"))
	assert.NoFileExists(t, filepath.Join(dir, "livarr-backup-20250102-020000.db.xz"))
}

func TestService_ScheduleInfo(t *testing.T) {
	svc, _ := newBackupEnv(t, 5)

	info := svc.ScheduleInfo()
	assert.True(t, info.Enabled)
	assert.Equal(t, "0 2 * * *", info.Cron)
	assert.Equal(t, 5, info.Retention)
}

func TestVerifyArchive(t *testing.T) {
	dir := t.TempDir()

	garbage := filepath.Join(dir, "livarr-backup-20260101-020000.db.xz")
	require.NoError(t, os.WriteFile(garbage, []byte("not an xz stream at all"), 0o644))
	require.ErrorContains(t, verifyArchive(garbage), "not an xz stream")

	writeArchive(t, dir, "livarr-backup-20260102-020000.db.xz")
	assert.NoError(t, verifyArchive(filepath.Join(dir, "livarr-backup-20260102-020000.db.xz")))
}
