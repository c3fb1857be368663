package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/livarr/livarr/internal/config"
	"github.com/livarr/livarr/internal/douyu"
	"github.com/livarr/livarr/internal/models"
	"github.com/livarr/livarr/internal/observability"
	"github.com/livarr/livarr/internal/repository"
)

// Job ids. Scheduling under an existing id replaces the pending
// instance, which is what dedupes manual triggers and keeps a repeated
// offline edge from stacking post-stream passes.
const (
	jobPipelineTick  = "pipeline_tick"
	jobStaleSweeper  = "stale_sweeper"
	jobBackup        = "database_backup"
	jobManualProcess = "manual_processing"
	jobManualUpload  = "manual_upload"
	jobManualBackup  = "manual_backup"
)

// ErrStreamLive is returned when pipeline work is refused because a
// monitored room is live and processing is deferred to stream end.
var ErrStreamLive = errors.New("a monitored stream is live")

// ErrBackupNotConfigured is returned by TriggerBackup when no backup
// runner is attached.
var ErrBackupNotConfigured = errors.New("database backup is not configured")

// PipelineStage runs the processing steps over the staging directories.
type PipelineStage interface {
	Run(ctx context.Context) error
}

// Publisher pushes staged recordings to the destination platform.
type Publisher interface {
	Backfill(ctx context.Context) error
	Run(ctx context.Context) error
}

// RetentionSweeper removes uploaded artifacts past their retention
// delay.
type RetentionSweeper interface {
	Sweep(ctx context.Context) error
}

// BackupRunner snapshots the database, returning the archive metadata.
type BackupRunner interface {
	Snapshot(ctx context.Context) (*models.BackupMetadata, error)
}

// Service wires the registry to livarr's jobs. It owns one live-state
// monitor per active streamer; the monitors are mutated only by their
// own live-check job, and everything else reads the cached state.
type Service struct {
	cfg       *config.Config
	registry  *Registry
	monitors  []*douyu.Monitor
	sessions  repository.StreamSessionRepository
	stage     PipelineStage
	publisher Publisher
	retention RetentionSweeper
	backup    BackupRunner
	logger    *slog.Logger

	// passMu serializes pipeline and upload passes across their
	// different job ids (tick, post-stream one-shots, manual triggers).
	passMu sync.Mutex
}

// NewService builds the scheduler service.
func NewService(
	cfg *config.Config,
	client *douyu.Client,
	sessions repository.StreamSessionRepository,
	stage PipelineStage,
	publisher Publisher,
	retention RetentionSweeper,
	logger *slog.Logger,
) *Service {
	s := &Service{
		cfg:       cfg,
		registry:  NewRegistry(logger),
		sessions:  sessions,
		stage:     stage,
		publisher: publisher,
		retention: retention,
		logger:    observability.WithComponent(logger, "scheduler"),
	}
	for _, streamer := range cfg.Douyu.ActiveStreamers() {
		s.monitors = append(s.monitors, douyu.NewMonitor(client, streamer.Name, streamer.RoomID))
	}
	return s
}

// WithBackup attaches the database backup runner and enables the
// backup jobs.
func (s *Service) WithBackup(b BackupRunner) *Service {
	s.backup = b
	return s
}

// Start primes the live-status caches, then registers every configured
// job. The pipeline tick and the stale sweeper run immediately; live
// checks and the backup cron wait for their first trigger.
func (s *Service) Start(ctx context.Context) error {
	if err := s.registry.Start(ctx); err != nil {
		return err
	}

	// Primed caches let the first tick gate on real state instead of
	// the zero value.
	for _, monitor := range s.monitors {
		monitor.Initialize(ctx)
	}

	if err := s.registry.Every(jobPipelineTick, s.cfg.Scheduler.PipelineInterval, true, s.pipelineTick); err != nil {
		return err
	}
	for _, monitor := range s.monitors {
		err := s.registry.Every(liveCheckJob(monitor.Streamer()), s.cfg.Scheduler.StatusCheckInterval, false, func(ctx context.Context) {
			s.liveCheck(ctx, monitor)
		})
		if err != nil {
			return err
		}
	}
	if err := s.registry.Every(jobStaleSweeper, s.cfg.Scheduler.StaleSweepInterval, true, s.sweepStale); err != nil {
		return err
	}
	if s.backup != nil && s.cfg.Backup.Schedule.Enabled {
		if err := s.registry.Cron(jobBackup, s.cfg.Backup.Schedule.Cron, s.runBackup); err != nil {
			return err
		}
	}

	s.logger.Info("background jobs scheduled",
		slog.Int("streamers", len(s.monitors)),
		slog.Duration("pipeline_interval", s.cfg.Scheduler.PipelineInterval),
		slog.Duration("status_check_interval", s.cfg.Scheduler.StatusCheckInterval))
	return nil
}

// Stop cancels every job and waits for in-flight runs to return.
func (s *Service) Stop() {
	s.registry.Stop()
}

// Jobs lists the currently scheduled job ids.
func (s *Service) Jobs() []string {
	return s.registry.Jobs()
}

// LiveStreamers lists the streamers whose rooms are live per the
// cached monitor state.
func (s *Service) LiveStreamers() []string {
	var live []string
	for _, monitor := range s.monitors {
		if monitor.IsLive() {
			live = append(live, monitor.Streamer())
		}
	}
	return live
}

// TriggerProcessing starts a processing-only pass in the background,
// honoring the same live gating as the scheduled tick. A pending
// manual pass is replaced rather than queued behind.
func (s *Service) TriggerProcessing() error {
	if err := s.gate(); err != nil {
		return err
	}
	return s.registry.Once(jobManualProcess, 0, func(ctx context.Context) {
		s.passMu.Lock()
		defer s.passMu.Unlock()
		if err := s.stage.Run(ctx); err != nil {
			s.logger.Error("processing pass failed", slog.String("error", err.Error()))
		}
	})
}

// TriggerUpload starts a backfill-plus-upload pass in the background.
// It works even when scheduled uploads are disabled; only the live
// gating applies.
func (s *Service) TriggerUpload() error {
	if err := s.gate(); err != nil {
		return err
	}
	return s.registry.Once(jobManualUpload, 0, func(ctx context.Context) {
		s.passMu.Lock()
		defer s.passMu.Unlock()
		s.uploadPass(ctx)
	})
}

// TriggerBackup starts a database snapshot in the background.
func (s *Service) TriggerBackup() error {
	if s.backup == nil {
		return ErrBackupNotConfigured
	}
	return s.registry.Once(jobManualBackup, 0, s.runBackup)
}

// pipelineTick is one scheduled pass: processing, then upload work
// when enabled, then the retention sweep.
func (s *Service) pipelineTick(ctx context.Context) {
	if err := s.gate(); err != nil {
		s.logger.Info("pipeline deferred until the stream ends", slog.String("reason", err.Error()))
		return
	}
	s.passMu.Lock()
	defer s.passMu.Unlock()

	s.logger.Info("pipeline pass starting")
	started := time.Now()
	if err := s.stage.Run(ctx); err != nil {
		s.logger.Error("processing pass failed", slog.String("error", err.Error()))
	}
	if s.cfg.Upload.Enabled {
		s.uploadPass(ctx)
	}
	if err := s.retention.Sweep(ctx); err != nil {
		s.logger.Error("retention sweep failed", slog.String("error", err.Error()))
	}
	s.logger.Info("pipeline pass finished", slog.Duration("elapsed", time.Since(started)))
}

// uploadPass backfills missing bvids, then runs the upload pass.
// Backfill goes first so freshly published submissions stop blocking
// their session buckets.
func (s *Service) uploadPass(ctx context.Context) {
	if err := s.publisher.Backfill(ctx); err != nil {
		s.logger.Error("bvid backfill failed", slog.String("error", err.Error()))
	}
	if err := s.publisher.Run(ctx); err != nil {
		s.logger.Error("upload pass failed", slog.String("error", err.Error()))
	}
}

// gate refuses pipeline work while any monitored room is live, when
// processing is deferred to after the stream ends.
func (s *Service) gate() error {
	if !s.cfg.Scheduler.ProcessAfterStreamEnd {
		return nil
	}
	for _, monitor := range s.monitors {
		if monitor.IsLive() {
			return fmt.Errorf("%w: %s", ErrStreamLive, monitor.Streamer())
		}
	}
	return nil
}

// liveCheck drives one streamer's session edges from a status probe.
func (s *Service) liveCheck(ctx context.Context, monitor *douyu.Monitor) {
	change := monitor.DetectChange(ctx)
	if change == nil {
		return
	}
	if change.IsLive {
		s.openSession(ctx, monitor.Streamer())
		return
	}
	s.closeSession(ctx, monitor.Streamer())
	if s.cfg.Scheduler.ProcessAfterStreamEnd {
		delay := s.cfg.Scheduler.PostStreamDelay
		s.logger.Info("scheduling post-stream pipeline",
			slog.String("streamer", monitor.Streamer()),
			slog.Duration("delay", delay))
		if err := s.registry.Once(postStreamJob(monitor.Streamer()), delay, s.pipelineTick); err != nil {
			s.logger.Error("scheduling post-stream pipeline failed", slog.String("error", err.Error()))
		}
	}
}

// openSession records an offline→live edge. The start time is biased
// back by the configured adjustment since the edge is only as fresh as
// the previous probe.
func (s *Service) openSession(ctx context.Context, streamer string) {
	now := time.Now()
	open, err := s.sessions.GetLatestOpen(ctx, streamer)
	if err != nil {
		s.logger.Error("looking up open session failed",
			slog.String("streamer", streamer),
			slog.String("error", err.Error()))
		return
	}
	if open != nil {
		s.logger.Warn("live edge with a session still open, closing the older one",
			slog.String("streamer", streamer),
			slog.String("session_id", open.ID.String()))
		if err := s.sessions.SetEndTime(ctx, open.ID, now); err != nil {
			s.logger.Error("closing lingering session failed",
				slog.String("session_id", open.ID.String()),
				slog.String("error", err.Error()))
			return
		}
	}

	start := now.Add(-s.cfg.Scheduler.StartTimeAdjustment)
	session := &models.StreamSession{StreamerName: streamer, StartTime: &start}
	if err := s.sessions.Create(ctx, session); err != nil {
		s.logger.Error("recording stream start failed",
			slog.String("streamer", streamer),
			slog.String("error", err.Error()))
		return
	}
	s.logger.Info("stream started",
		slog.String("streamer", streamer),
		slog.String("session_id", session.ID.String()),
		slog.Time("start_time", start))
}

// closeSession records a live→offline edge against the most recent
// open session, or as a bare end marker when none exists.
func (s *Service) closeSession(ctx context.Context, streamer string) {
	now := time.Now()
	open, err := s.sessions.GetLatestOpen(ctx, streamer)
	if err != nil {
		s.logger.Error("looking up open session failed",
			slog.String("streamer", streamer),
			slog.String("error", err.Error()))
		return
	}
	if open == nil {
		s.logger.Warn("offline edge without an open session",
			slog.String("streamer", streamer))
		session := &models.StreamSession{StreamerName: streamer, EndTime: &now}
		if err := s.sessions.Create(ctx, session); err != nil {
			s.logger.Error("recording stream end failed",
				slog.String("streamer", streamer),
				slog.String("error", err.Error()))
		}
		return
	}
	if err := s.sessions.SetEndTime(ctx, open.ID, now); err != nil {
		s.logger.Error("recording stream end failed",
			slog.String("session_id", open.ID.String()),
			slog.String("error", err.Error()))
		return
	}
	s.logger.Info("stream ended",
		slog.String("streamer", streamer),
		slog.String("session_id", open.ID.String()),
		slog.Time("end_time", now))
}

// sweepStale closes open sessions whose start passed the stale
// horizon, capping the end at the configured maximum length.
func (s *Service) sweepStale(ctx context.Context) {
	now := time.Now()
	stale, err := s.sessions.GetStaleOpen(ctx, now.Add(-s.cfg.Scheduler.StaleHorizon))
	if err != nil {
		s.logger.Error("listing stale sessions failed", slog.String("error", err.Error()))
		return
	}
	for _, session := range stale {
		if ctx.Err() != nil {
			return
		}
		end := session.StartTime.Add(s.cfg.Scheduler.StaleCap)
		if end.After(now) {
			end = now
		}
		if err := s.sessions.SetEndTime(ctx, session.ID, end); err != nil {
			s.logger.Error("closing stale session failed",
				slog.String("session_id", session.ID.String()),
				slog.String("error", err.Error()))
			continue
		}
		s.logger.Warn("closed stale session",
			slog.String("streamer", session.StreamerName),
			slog.String("session_id", session.ID.String()),
			slog.Time("end_time", end))
	}
}

// runBackup takes one database snapshot. Nil metadata means the
// runner skipped (and logged) an unsupported driver.
func (s *Service) runBackup(ctx context.Context) {
	meta, err := s.backup.Snapshot(ctx)
	if err != nil {
		s.logger.Error("database backup failed", slog.String("error", err.Error()))
		return
	}
	if meta != nil {
		s.logger.Info("database backup finished",
			slog.String("filename", meta.Filename),
			slog.Int64("size", meta.FileSize))
	}
}

func liveCheckJob(streamer string) string {
	return "live_check_" + streamer
}

func postStreamJob(streamer string) string {
	return "post_stream_pipeline_" + streamer
}
