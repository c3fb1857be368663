package processing

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/livarr/livarr/pkg/format"
)

// cleanup deletes segments smaller than the configured minimum along
// with their chat transcripts. Segments still being written (a .part
// sibling exists) are left alone, as are files exactly at the limit.
func (s *Stage) cleanup(ctx context.Context, procDir string) error {
	segments, err := filepath.Glob(filepath.Join(procDir, "*.flv"))
	if err != nil {
		return fmt.Errorf("scanning %s: %w", procDir, err)
	}

	minSize := int64(s.cfg.Processing.MinFileSize)
	for _, flv := range segments {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if fileExists(flv + ".part") {
			continue
		}
		info, err := os.Stat(flv)
		if err != nil {
			// Vanished mid-scan; another step already handled it.
			continue
		}
		if info.Size() >= minSize {
			continue
		}

		s.logger.Info("discarding undersized segment",
			slog.String("file", filepath.Base(flv)),
			slog.String("size", format.Bytes(info.Size())),
			slog.String("minimum", format.Bytes(minSize)))

		if err := os.Remove(flv); err != nil {
			s.logger.Warn("removing undersized segment failed",
				slog.String("file", filepath.Base(flv)),
				slog.String("error", err.Error()))
			continue
		}
		removeQuietly(s.logger, strings.TrimSuffix(flv, ".flv")+".xml")
	}
	return nil
}
