// Package processing turns finished capture segments into upload-ready
// videos: undersized segments are discarded, chat transcripts are
// rendered into ASS overlays sized to the video, and the overlay is
// burned in by a hardware encoder. In passthrough mode segments are
// staged for upload untouched.
package processing

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/livarr/livarr/internal/config"
	"github.com/livarr/livarr/internal/ffmpeg"
	"github.com/livarr/livarr/internal/observability"
)

// Stage runs the ordered post-processing steps over the processing
// directory.
type Stage struct {
	cfg    *config.Config
	prober *ffmpeg.Prober
	runner *ffmpeg.Runner
	logger *slog.Logger
}

// NewStage creates the processing stage.
func NewStage(cfg *config.Config, logger *slog.Logger) *Stage {
	return &Stage{
		cfg:    cfg,
		prober: ffmpeg.NewProber(cfg.FFmpeg.ProbePath),
		runner: ffmpeg.NewRunner(logger),
		logger: observability.WithComponent(logger, "processing"),
	}
}

// Run executes cleanup, conversion and encoding in order, or cleanup
// and passthrough when encoding is disabled. Every step is idempotent
// and per-file failures are logged and skipped, so a bad segment never
// wedges the stage.
func (s *Stage) Run(ctx context.Context) error {
	procDir := s.cfg.Storage.ProcessingPath()
	uploadDir := s.cfg.Storage.UploadPath()
	if err := os.MkdirAll(procDir, 0o755); err != nil {
		return fmt.Errorf("creating processing directory: %w", err)
	}
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return fmt.Errorf("creating upload directory: %w", err)
	}

	if err := s.cleanup(ctx, procDir); err != nil {
		return err
	}
	if s.cfg.Processing.SkipEncoding {
		return s.passthrough(ctx, procDir, uploadDir)
	}
	if err := s.convert(ctx, procDir); err != nil {
		return err
	}
	return s.encode(ctx, procDir, uploadDir)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// removeQuietly deletes files that may already be gone.
func removeQuietly(logger *slog.Logger, paths ...string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			logger.Warn("removing file failed",
				slog.String("file", filepath.Base(p)),
				slog.String("error", err.Error()))
		}
	}
}
