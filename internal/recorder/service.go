package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/livarr/livarr/internal/config"
	"github.com/livarr/livarr/internal/douyu"
	"github.com/livarr/livarr/internal/observability"
)

// Service runs one capture loop per configured streamer.
type Service struct {
	cfg      *config.Config
	client   *douyu.Client
	resolver *douyu.Resolver
	pipeline *Pipeline
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewService creates the capture service.
func NewService(cfg *config.Config, client *douyu.Client, resolver *douyu.Resolver, pipeline *Pipeline, logger *slog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		client:   client,
		resolver: resolver,
		pipeline: pipeline,
		logger:   observability.WithComponent(logger, "recorder.service"),
	}
}

// Start launches a capture goroutine per streamer and returns. The
// loops run until ctx is canceled; Wait blocks until they finish.
func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Recording.Enabled {
		s.logger.Info("recording disabled, capture loops not started")
		return nil
	}
	if err := os.MkdirAll(s.cfg.Storage.ProcessingPath(), 0o755); err != nil {
		return fmt.Errorf("creating processing directory: %w", err)
	}

	for _, streamer := range s.cfg.Douyu.ActiveStreamers() {
		monitor := douyu.NewMonitor(s.client, streamer.Name, streamer.RoomID)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.watch(ctx, monitor)
		}()
	}
	return nil
}

// Wait blocks until every capture loop has exited.
func (s *Service) Wait() {
	s.wg.Wait()
}

// watch is one streamer's lifetime loop: idle-poll until the room goes
// live, capture segments until it is confirmed offline, repeat.
func (s *Service) watch(ctx context.Context, monitor *douyu.Monitor) {
	logger := s.logger.With(
		slog.String("streamer", monitor.Streamer()),
		slog.String("room_id", monitor.RoomID()),
	)
	monitor.Initialize(ctx)

	for {
		if ctx.Err() != nil {
			return
		}
		if monitor.CheckIsStreaming(ctx) == douyu.StatusLive {
			logger.Info("room is live, starting capture")
			s.record(ctx, monitor, logger)
			logger.Info("capture ended")
		}
		if !sleepCtx(ctx, s.cfg.Scheduler.StatusCheckInterval) {
			return
		}
	}
}

// record captures segments back to back while the room stays live.
// Only a definite offline probe ends the loop; an unknown status keeps
// recording so a flaky status endpoint cannot cut a session short.
func (s *Service) record(ctx context.Context, monitor *douyu.Monitor, logger *slog.Logger) {
	retryDelay := s.cfg.Recording.RetryDelay

	for {
		if ctx.Err() != nil {
			return
		}

		src, err := s.resolve(ctx, monitor.RoomID())
		if err != nil {
			logger.Warn("stream url resolution failed", slog.String("error", err.Error()))
			if !sleepCtx(ctx, retryDelay) {
				return
			}
			if monitor.CheckIsStreaming(ctx) == douyu.StatusOffline {
				return
			}
			continue
		}

		base := filepath.Join(s.cfg.Storage.ProcessingPath(), segmentBaseName(monitor.Streamer(), time.Now()))
		result, err := s.pipeline.Capture(ctx, src, base, s.cfg.Recording.SegmentDuration)
		switch {
		case err != nil:
			logger.Warn("segment capture failed",
				slog.String("segment", filepath.Base(base)),
				slog.String("error", err.Error()))
		case result.ExitCode != 0:
			logger.Warn("recorder exited nonzero",
				slog.String("segment", filepath.Base(base)),
				slog.Int("exit_code", result.ExitCode))
		default:
			logger.Info("segment captured",
				slog.String("segment", filepath.Base(base)),
				slog.Int("chat_messages", result.ChatMessages))
		}

		if ctx.Err() != nil {
			return
		}
		if monitor.CheckIsStreaming(ctx) == douyu.StatusOffline {
			return
		}
		if !sleepCtx(ctx, retryDelay) {
			return
		}
	}
}

func (s *Service) resolve(ctx context.Context, roomID string) (CaptureSource, error) {
	source, err := s.resolver.Resolve(ctx, roomID)
	if err != nil {
		return CaptureSource{}, err
	}
	return CaptureSource{
		StreamURL: source.URL,
		Headers:   source.Headers,
		RoomID:    roomID,
	}, nil
}

// segmentBaseName names a segment after its streamer and local capture
// time, e.g. "主播录播2026-01-02T15_04_05". The extension-free base is
// shared by the video and chat artifacts.
func segmentBaseName(streamer string, now time.Time) string {
	return streamer + "录播" + now.Format("2006-01-02T15_04_05")
}

// sleepCtx sleeps for d unless ctx ends first, reporting whether the
// full sleep elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
