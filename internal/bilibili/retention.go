package bilibili

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/livarr/livarr/internal/config"
	"github.com/livarr/livarr/internal/observability"
	"github.com/livarr/livarr/internal/repository"
)

// Retention removes uploaded artifacts once their ledger rows are older
// than the configured deletion delay. Immediate deletion happens in the
// upload pass; this sweeper only serves the deferred policy.
type Retention struct {
	cfg    *config.Config
	videos repository.UploadedVideoRepository
	logger *slog.Logger
}

// NewRetention creates a Retention sweeper.
func NewRetention(cfg *config.Config, videos repository.UploadedVideoRepository, logger *slog.Logger) *Retention {
	return &Retention{
		cfg:    cfg,
		videos: videos,
		logger: observability.WithComponent(logger, "bilibili.retention"),
	}
}

// Sweep deletes staged artifacts whose rows predate the deletion delay.
func (r *Retention) Sweep(ctx context.Context) error {
	delay := r.cfg.Processing.DeleteUploadedFilesDelay
	if !r.cfg.Processing.DeleteUploadedFiles || delay <= 0 {
		return nil
	}

	cutoff := time.Now().Add(-delay)
	rows, err := r.videos.GetDeletionCandidates(ctx, cutoff)
	if err != nil {
		return err
	}

	var removed int
	for _, row := range rows {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		path := filepath.Join(r.cfg.Storage.UploadPath(), row.FirstPartFilename)
		if err := os.Remove(path); err != nil {
			// Already gone, immediate deletion or a manual cleanup.
			if !os.IsNotExist(err) {
				r.logger.Warn("removing uploaded artifact failed",
					slog.String("file", row.FirstPartFilename),
					slog.String("error", err.Error()))
			}
			continue
		}
		r.logger.Info("removed uploaded artifact",
			slog.String("file", row.FirstPartFilename))
		removed++
	}

	if removed > 0 {
		r.logger.Info("retention sweep finished",
			slog.Int("candidates", len(rows)),
			slog.Int("removed", removed))
	}
	return nil
}
