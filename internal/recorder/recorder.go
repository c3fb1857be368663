// Package recorder captures Douyu live streams segment by segment,
// pairing each video segment with a chat transcript sidecar.
package recorder

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/livarr/livarr/internal/ffmpeg"
	"github.com/livarr/livarr/internal/observability"
)

// Recorder drives one ffmpeg capture per segment.
type Recorder struct {
	ffmpegPath string
	runner     *ffmpeg.Runner
	logger     *slog.Logger
}

// NewRecorder creates a Recorder using the given ffmpeg binary.
func NewRecorder(ffmpegPath string, logger *slog.Logger) *Recorder {
	return &Recorder{
		ffmpegPath: ffmpegPath,
		runner:     ffmpeg.NewRunner(logger),
		logger:     observability.WithComponent(logger, "recorder"),
	}
}

// Record stream-copies url into outputPath for duration, presenting the
// given request headers. The returned code is ffmpeg's own exit code,
// or ffmpeg.ExitCodeTimeout when the process outlived its wait budget
// and had to be terminated. Errors mean ffmpeg could not be started.
func (r *Recorder) Record(ctx context.Context, url string, headers map[string]string, outputPath string, duration time.Duration) (int, error) {
	cmd := ffmpeg.NewCommandBuilder(r.ffmpegPath).
		HideBanner().
		Overwrite().
		Headers(headers).
		Input(url).
		StreamCopy().
		Duration(duration).
		Format("flv").
		Output(outputPath).
		Build()

	r.logger.Info("starting capture",
		slog.String("output", filepath.Base(outputPath)),
		slog.Duration("duration", duration))

	res, err := r.runner.Run(ctx, cmd, waitBudget(duration))
	if err != nil {
		return 0, err
	}
	if res.Terminated {
		r.logger.Warn("capture terminated after exceeding its wait budget",
			slog.String("output", filepath.Base(outputPath)))
	}
	return res.ExitCode, nil
}

// waitBudget allows ffmpeg to trail the segment duration while it
// flushes and closes the container before being terminated.
func waitBudget(duration time.Duration) time.Duration {
	return max(10*time.Second, duration+30*time.Second)
}
