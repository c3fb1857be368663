package processing

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/livarr/livarr/internal/danmaku"
)

// convert renders each chat transcript whose segment is complete into
// an ASS overlay sized to the probed video dimensions.
func (s *Stage) convert(ctx context.Context, procDir string) error {
	transcripts, err := filepath.Glob(filepath.Join(procDir, "*.xml"))
	if err != nil {
		return fmt.Errorf("scanning %s: %w", procDir, err)
	}

	for _, xml := range transcripts {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		base := strings.TrimSuffix(xml, ".xml")
		flv := base + ".flv"
		ass := base + ".ass"
		switch {
		case fileExists(flv + ".part"):
			continue
		case !fileExists(flv):
			s.logger.Warn("transcript has no video, skipping",
				slog.String("file", filepath.Base(xml)))
			continue
		case fileExists(ass):
			continue
		}

		res, err := s.prober.VideoResolution(ctx, flv)
		if err != nil {
			s.logger.Error("probing video failed",
				slog.String("file", filepath.Base(flv)),
				slog.String("error", err.Error()))
			continue
		}

		count, err := danmaku.ConvertToASS(xml, ass, danmaku.RenderOptions{
			Width:      res.Width,
			Height:     res.Height,
			FontSize:   s.cfg.Danmaku.FontSize,
			SCFontSize: s.cfg.Danmaku.SCFontSize,
		})
		if err != nil {
			s.logger.Error("subtitle conversion failed",
				slog.String("file", filepath.Base(xml)),
				slog.String("error", err.Error()))
			continue
		}

		s.logger.Info("rendered chat overlay",
			slog.String("file", filepath.Base(ass)),
			slog.Int("messages", count),
			slog.String("resolution", res.String()))

		if s.cfg.Processing.DeleteUploadedFiles {
			if err := os.Remove(xml); err != nil {
				s.logger.Warn("removing transcript failed",
					slog.String("file", filepath.Base(xml)),
					slog.String("error", err.Error()))
			}
		}
	}
	return nil
}
