package processing

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/livarr/livarr/internal/ffmpeg"
)

// missingAssFilter is what ffmpeg prints when the build lacks libass.
const missingAssFilter = "No such filter: 'ass'"

// hwaccelFailureMarkers identify stderr output from a hardware device
// that could not be created or opened, as opposed to an ordinary
// encode failure.
var hwaccelFailureMarkers = []string{
	"Device creation failed",
	"Failed to set value",
	"Failed to create a QSV device",
	"Error initializing an internal MFX session",
}

func isHWAccelFailure(stderr string) bool {
	for _, marker := range hwaccelFailureMarkers {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}

// encode burns each rendered overlay into its segment and stages the
// result for upload.
func (s *Stage) encode(ctx context.Context, procDir, uploadDir string) error {
	overlays, err := filepath.Glob(filepath.Join(procDir, "*.ass"))
	if err != nil {
		return fmt.Errorf("scanning %s: %w", procDir, err)
	}

	for _, ass := range overlays {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.encodeOne(ctx, ass, uploadDir)
	}
	return nil
}

func (s *Stage) encodeOne(ctx context.Context, ass, uploadDir string) {
	base := strings.TrimSuffix(ass, ".ass")
	flv := base + ".flv"
	name := filepath.Base(base)
	logger := s.logger.With(slog.String("segment", name))

	if !fileExists(flv) {
		logger.Warn("overlay has no video, skipping")
		return
	}

	target := filepath.Join(uploadDir, name+".mp4")
	if fileExists(target) {
		// A previous run already staged this segment; the sources in
		// processing are leftovers.
		logger.Info("upload target already exists, removing leftover sources")
		removeQuietly(logger, ass, flv)
		return
	}

	temp := base + ".mp4"
	if fileExists(temp) {
		if err := os.Remove(temp); err != nil {
			logger.Warn("removing stale temp output failed",
				slog.String("error", err.Error()))
			return
		}
	}

	res := s.burnIn(ctx, flv, ass, temp, ffmpeg.HWAccelQSV, logger)
	if res != nil && !res.Success() {
		switch {
		case strings.Contains(res.Stderr, missingAssFilter):
			logger.Error("ffmpeg has no ass filter, install a build with libass")
			return
		case isHWAccelFailure(res.Stderr):
			alt := ffmpeg.AlternateHWAccel(runtime.GOOS)
			logger.Warn("hardware device unavailable, retrying with alternate encoder",
				slog.String("accel", string(alt)))
			res = s.burnIn(ctx, flv, ass, temp, alt, logger)
		}
	}
	if res == nil || !res.Success() {
		if res != nil {
			logger.Error("encode failed",
				slog.Int("exit_code", res.ExitCode),
				slog.String("stderr", res.Stderr))
		}
		_ = os.Remove(temp)
		return
	}

	if err := os.Rename(temp, target); err != nil {
		logger.Error("moving encoded video to upload failed",
			slog.String("error", err.Error()))
		_ = os.Remove(temp)
		return
	}
	logger.Info("encoded segment staged for upload")

	if s.cfg.Processing.DeleteUploadedFiles {
		removeQuietly(logger, ass, flv)
	}
}

// burnIn runs one encode attempt. The encode has no wall budget; only
// shutdown cancels it.
func (s *Stage) burnIn(ctx context.Context, flv, ass, temp string, accel ffmpeg.HWAccel, logger *slog.Logger) *ffmpeg.Result {
	cmd := ffmpeg.BuildBurnIn(s.cfg.FFmpeg.BinaryPath, ffmpeg.BurnInSpec{
		Input:     flv,
		Subtitles: ass,
		Output:    temp,
		Preset:    s.cfg.FFmpeg.Preset,
		Quality:   s.cfg.FFmpeg.GlobalQuality,
		Accel:     accel,
	})

	res, err := s.runner.Run(ctx, cmd, 0)
	if err != nil {
		logger.Error("starting encoder failed", slog.String("error", err.Error()))
		return nil
	}
	return res
}

// passthrough stages finished segments for upload without re-encoding.
func (s *Stage) passthrough(ctx context.Context, procDir, uploadDir string) error {
	segments, err := filepath.Glob(filepath.Join(procDir, "*.flv"))
	if err != nil {
		return fmt.Errorf("scanning %s: %w", procDir, err)
	}

	for _, flv := range segments {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if fileExists(flv + ".part") {
			continue
		}
		target := filepath.Join(uploadDir, filepath.Base(flv))
		if fileExists(target) {
			s.logger.Info("upload target already exists, skipping",
				slog.String("file", filepath.Base(flv)))
			continue
		}
		if err := os.Rename(flv, target); err != nil {
			s.logger.Error("staging segment failed",
				slog.String("file", filepath.Base(flv)),
				slog.String("error", err.Error()))
			continue
		}
		s.logger.Info("segment staged for upload",
			slog.String("file", filepath.Base(flv)))
	}
	return nil
}
