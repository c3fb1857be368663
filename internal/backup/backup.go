// Package backup snapshots the SQLite database into xz-compressed
// archives and manages their retention.
package backup

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ulikunitz/xz"

	"github.com/livarr/livarr/internal/config"
	"github.com/livarr/livarr/internal/database"
	"github.com/livarr/livarr/internal/models"
	"github.com/livarr/livarr/internal/observability"
	"github.com/livarr/livarr/internal/version"
)

const (
	archivePrefix = "livarr-backup-"
	archiveSuffix = ".db.xz"
	metaSuffix    = ".meta.json"
	stampLayout   = "20060102-150405"
)

// xzMagic is the fixed stream header every xz archive starts with.
var xzMagic = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}

// Service writes database snapshots into the backup directory. Only
// the sqlite driver can be snapshotted; other drivers turn Snapshot
// into a logged no-op.
type Service struct {
	db       *database.DB
	dir      string
	schedule config.BackupScheduleConfig
	logger   *slog.Logger
}

// NewService creates the backup service.
func NewService(cfg *config.Config, db *database.DB, logger *slog.Logger) *Service {
	return &Service{
		db:       db,
		dir:      cfg.Backup.BackupPath(cfg.Storage.BaseDir),
		schedule: cfg.Backup.Schedule,
		logger:   observability.WithComponent(logger, "backup"),
	}
}

// Dir returns the backup directory.
func (s *Service) Dir() string {
	return s.dir
}

// ScheduleInfo reports the configured backup schedule.
func (s *Service) ScheduleInfo() models.BackupScheduleInfo {
	return models.BackupScheduleInfo{
		Enabled:   s.schedule.Enabled,
		Cron:      s.schedule.Cron,
		Retention: s.schedule.Retention,
	}
}

// Snapshot writes one archive plus its companion metadata file and
// prunes old ones to the retention count. It returns nil metadata when
// the configured driver cannot be snapshotted.
func (s *Service) Snapshot(ctx context.Context) (*models.BackupMetadata, error) {
	if s.db.Driver() != "sqlite" {
		s.logger.Warn("database backups support only the sqlite driver, skipping",
			slog.String("driver", s.db.Driver()))
		return nil, nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}

	now := time.Now().UTC()
	base := archivePrefix + now.Format(stampLayout)
	snapshotPath := filepath.Join(s.dir, base+".db")
	archivePath := filepath.Join(s.dir, base+archiveSuffix)

	// VACUUM INTO produces a consistent single-file copy even in WAL
	// mode, where copying the raw file would miss the journal.
	if err := s.vacuumInto(ctx, snapshotPath); err != nil {
		return nil, err
	}
	defer os.Remove(snapshotPath)

	snapshotInfo, err := os.Stat(snapshotPath)
	if err != nil {
		return nil, fmt.Errorf("inspecting snapshot: %w", err)
	}

	if err := compressFile(snapshotPath, archivePath); err != nil {
		return nil, err
	}
	if err := verifyArchive(archivePath); err != nil {
		return nil, err
	}

	archiveInfo, err := os.Stat(archivePath)
	if err != nil {
		return nil, fmt.Errorf("inspecting archive: %w", err)
	}
	checksum, err := checksumFile(archivePath)
	if err != nil {
		return nil, err
	}

	metaFile := models.BackupMetadataFile{
		LivarrVersion:  version.Version,
		DatabaseSize:   snapshotInfo.Size(),
		CompressedSize: archiveInfo.Size(),
		Checksum:       checksum,
		CreatedAt:      now,
		TableCounts:    s.tableCounts(ctx),
	}
	if err := writeMetadataFile(metaPath(archivePath), &metaFile); err != nil {
		return nil, err
	}

	meta := &models.BackupMetadata{
		Filename:       filepath.Base(archivePath),
		FilePath:       archivePath,
		CreatedAt:      now,
		FileSize:       archiveInfo.Size(),
		Checksum:       checksum,
		LivarrVersion:  version.Version,
		DatabaseSize:   snapshotInfo.Size(),
		CompressedSize: archiveInfo.Size(),
		TableCounts:    metaFile.ToTableCounts(),
	}

	s.logger.Info("database backup written",
		slog.String("filename", meta.Filename),
		slog.Int64("size", meta.FileSize),
		slog.String("checksum", checksum))
	s.prune()
	return meta, nil
}

// List returns the archives in the backup directory, newest first. A
// missing directory yields an empty list.
func (s *Service) List() ([]*models.BackupMetadata, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	var backups []*models.BackupMetadata
	for _, entry := range entries {
		if entry.IsDir() || !isArchiveName(entry.Name()) {
			continue
		}
		meta, err := s.loadMetadata(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			s.logger.Warn("reading backup metadata failed",
				slog.String("name", entry.Name()),
				slog.String("error", err.Error()))
			continue
		}
		backups = append(backups, meta)
	}
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

// vacuumInto snapshots the live database into path.
func (s *Service) vacuumInto(ctx context.Context, path string) error {
	// VACUUM INTO refuses to overwrite, so clear leftovers first.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clearing stale snapshot: %w", err)
	}
	stmt := fmt.Sprintf("VACUUM INTO '%s'", strings.ReplaceAll(path, "'", "''"))
	if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
		return fmt.Errorf("snapshotting database: %w", err)
	}
	return nil
}

// tableCounts is best-effort; a missing table must not fail a backup.
func (s *Service) tableCounts(ctx context.Context) map[string]int {
	counts := make(map[string]int)
	tables := []string{
		models.StreamSession{}.TableName(),
		models.UploadedVideo{}.TableName(),
	}
	for _, table := range tables {
		var n int64
		if err := s.db.WithContext(ctx).Table(table).Count(&n).Error; err != nil {
			s.logger.Warn("counting table rows failed",
				slog.String("table", table),
				slog.String("error", err.Error()))
			continue
		}
		counts[table] = int(n)
	}
	return counts
}

// loadMetadata assembles an archive's metadata from its companion
// file, falling back to what the filesystem alone can tell.
func (s *Service) loadMetadata(archivePath string) (*models.BackupMetadata, error) {
	info, err := os.Stat(archivePath)
	if err != nil {
		return nil, err
	}

	var metaFile models.BackupMetadataFile
	if raw, err := os.ReadFile(metaPath(archivePath)); err == nil {
		if err := json.Unmarshal(raw, &metaFile); err != nil {
			s.logger.Warn("parsing backup metadata failed",
				slog.String("path", metaPath(archivePath)),
				slog.String("error", err.Error()))
		}
	}

	createdAt := metaFile.CreatedAt
	if createdAt.IsZero() {
		createdAt = stampFromName(filepath.Base(archivePath))
	}
	if createdAt.IsZero() {
		createdAt = info.ModTime()
	}

	return &models.BackupMetadata{
		Filename:       filepath.Base(archivePath),
		FilePath:       archivePath,
		CreatedAt:      createdAt,
		FileSize:       info.Size(),
		Checksum:       metaFile.Checksum,
		LivarrVersion:  metaFile.LivarrVersion,
		DatabaseSize:   metaFile.DatabaseSize,
		CompressedSize: metaFile.CompressedSize,
		TableCounts:    metaFile.ToTableCounts(),
	}, nil
}

// prune removes the oldest archives beyond the retention count,
// companion metadata included.
func (s *Service) prune() {
	if s.schedule.Retention < 1 {
		return
	}
	backups, err := s.List()
	if err != nil {
		s.logger.Warn("listing backups for pruning failed", slog.String("error", err.Error()))
		return
	}
	for _, backup := range backups[min(s.schedule.Retention, len(backups)):] {
		if err := os.Remove(backup.FilePath); err != nil {
			s.logger.Warn("removing expired backup failed",
				slog.String("name", backup.Filename),
				slog.String("error", err.Error()))
			continue
		}
		if err := os.Remove(metaPath(backup.FilePath)); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("removing backup metadata failed",
				slog.String("name", backup.Filename),
				slog.String("error", err.Error()))
		}
		s.logger.Info("removed expired backup", slog.String("name", backup.Filename))
	}
}

// compressFile writes src into an xz archive at dst, staging through a
// .part file so a crash never leaves a truncated archive in place.
func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer in.Close()

	part := dst + ".part"
	out, err := os.Create(part)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}

	xw, err := xz.NewWriter(out)
	if err != nil {
		out.Close()
		os.Remove(part)
		return fmt.Errorf("creating xz writer: %w", err)
	}
	if _, err := io.Copy(xw, in); err != nil {
		xw.Close()
		out.Close()
		os.Remove(part)
		return fmt.Errorf("compressing snapshot: %w", err)
	}
	if err := xw.Close(); err != nil {
		out.Close()
		os.Remove(part)
		return fmt.Errorf("finishing xz stream: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(part)
		return fmt.Errorf("writing archive: %w", err)
	}
	if err := os.Rename(part, dst); err != nil {
		os.Remove(part)
		return fmt.Errorf("finalizing archive: %w", err)
	}
	return nil
}

// verifyArchive reads the archive header back to prove the file on
// disk really is an xz stream.
func verifyArchive(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("verifying archive: %w", err)
	}
	defer f.Close()

	header := make([]byte, len(xzMagic))
	if _, err := io.ReadFull(f, header); err != nil {
		return fmt.Errorf("verifying archive: %w", err)
	}
	if !bytes.Equal(header, xzMagic) {
		return fmt.Errorf("verifying archive: %s is not an xz stream", filepath.Base(path))
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("verifying archive: %w", err)
	}
	if _, err := xz.NewReader(f); err != nil {
		return fmt.Errorf("verifying archive: %w", err)
	}
	return nil
}

// checksumFile hashes the finished archive for later integrity checks.
func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hashing archive: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing archive: %w", err)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

func writeMetadataFile(path string, meta *models.BackupMetadataFile) error {
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding backup metadata: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("writing backup metadata: %w", err)
	}
	return nil
}

// metaPath returns the companion metadata path for an archive.
func metaPath(archivePath string) string {
	return strings.TrimSuffix(archivePath, archiveSuffix) + metaSuffix
}

// stampFromName recovers the creation time embedded in an archive name.
func stampFromName(name string) time.Time {
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, archivePrefix), archiveSuffix)
	t, err := time.Parse(stampLayout, stamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isArchiveName(name string) bool {
	return strings.HasPrefix(name, archivePrefix) && strings.HasSuffix(name, archiveSuffix)
}
