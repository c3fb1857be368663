package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/livarr/livarr/internal/backup"
	"github.com/livarr/livarr/internal/bilibili"
	"github.com/livarr/livarr/internal/config"
	"github.com/livarr/livarr/internal/danmaku"
	"github.com/livarr/livarr/internal/database"
	"github.com/livarr/livarr/internal/database/migrations"
	"github.com/livarr/livarr/internal/douyu"
	"github.com/livarr/livarr/internal/ffmpeg"
	"github.com/livarr/livarr/internal/httpapi"
	"github.com/livarr/livarr/internal/httpapi/handlers"
	"github.com/livarr/livarr/internal/processing"
	"github.com/livarr/livarr/internal/recorder"
	"github.com/livarr/livarr/internal/repository"
	"github.com/livarr/livarr/internal/scheduler"
	"github.com/livarr/livarr/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the livarr daemon",
	Long: `Start the livarr daemon: stream capture, the processing and upload
scheduler, and the HTTP API.

The server provides:
- REST API for sessions, uploaded videos, backups, and manual task triggers
- Health check endpoints at /livez, /readyz, and /health
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server flags
	// Like the root logging flags these are not bound to viper; they
	// override the loaded config only when explicitly set.
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 50009, "Port to listen on")
	serveCmd.Flags().String("database", "livarr.db", "Database DSN (file path for sqlite)")
	serveCmd.Flags().String("data-dir", "./data", "Base directory for recordings and processed files")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyServeFlags(cmd.Flags(), cfg)

	// Resolve ffmpeg/ffprobe up front so the recorder and the encoder
	// run with absolute paths. Without recording the API can still
	// serve, so a missing binary only warns in that mode.
	detector := ffmpeg.NewBinaryDetector(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath)
	binaries, err := detector.Detect(context.Background())
	if err != nil {
		if cfg.Recording.Enabled {
			return fmt.Errorf("detecting ffmpeg: %w", err)
		}
		logger.Warn("ffmpeg not found, recording and processing unavailable",
			slog.String("error", err.Error()),
		)
	} else {
		cfg.FFmpeg.BinaryPath = binaries.FFmpegPath
		cfg.FFmpeg.ProbePath = binaries.FFprobePath
		logger.Info("ffmpeg detected",
			slog.String("path", binaries.FFmpegPath),
			slog.String("version", binaries.Version),
		)
	}

	// Initialize database
	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("closing database", slog.String("error", err.Error()))
		}
	}()

	// Run migrations
	if err := runMigrations(db, logger); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	// Initialize repositories
	sessionRepo := repository.NewStreamSessionRepository(db.DB)
	videoRepo := repository.NewUploadedVideoRepository(db.DB)

	// Capture side: room status client, stream URL resolver, danmaku
	// collector, and the per-streamer recording loops.
	client := douyu.NewClient(cfg.Douyu, logger, nil)
	resolver := douyu.NewResolver(client, cfg.Douyu.CDN, cfg.Douyu.Rate)
	collector := danmaku.NewCollector(cfg.Danmaku, logger)
	rec := recorder.NewRecorder(cfg.FFmpeg.BinaryPath, logger)
	capturePipeline := recorder.NewPipeline(rec, collector, logger)
	capture := recorder.NewService(cfg, client, resolver, capturePipeline, logger)

	// Publish side: post-stream processing stage, broadcast grouping,
	// and the Bilibili uploader with its retention sweeper.
	stage := processing.NewStage(cfg, logger)
	backend := bilibili.SelectBackend(cfg.Upload, logger)
	grouper := bilibili.NewGrouper(sessionRepo, videoRepo, cfg.Scheduler.StartTimeAdjustment, logger)
	uploader := bilibili.NewUploader(cfg, backend, grouper, videoRepo, logger)
	retention := bilibili.NewRetention(cfg, videoRepo, logger)

	// Snapshot self-guards on non-sqlite drivers; the cron job is gated
	// by backup.schedule.enabled.
	backupService := backup.NewService(cfg, db, logger)

	sched := scheduler.NewService(cfg, client, sessionRepo, stage, uploader, retention, logger).
		WithBackup(backupService)

	// Initialize HTTP server
	server := httpapi.NewServer(cfg.Server, logger)

	// Register handlers
	healthHandler := handlers.NewHealthHandler(version.Version).WithDB(db).WithScheduler(sched)
	healthHandler.Register(server.API())

	statsHandler := handlers.NewStatsHandler(cfg.Storage.BaseDir)
	statsHandler.Register(server.API())

	sessionsHandler := handlers.NewSessionsHandler(sessionRepo)
	sessionsHandler.Register(server.API())

	videosHandler := handlers.NewVideosHandler(videoRepo, sessionRepo)
	videosHandler.Register(server.API())

	tasksHandler := handlers.NewTasksHandler(sched)
	tasksHandler.Register(server.API())

	backupsHandler := handlers.NewBackupsHandler(backupService)
	backupsHandler.Register(server.API())

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	// Start background services
	if err := capture.Start(ctx); err != nil {
		return fmt.Errorf("starting capture service: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	logger.Info("starting livarr server",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.String("version", version.Version),
	)

	err = server.ListenAndServe(ctx)

	// Unwind: cancel so the recording loops exit, stop the scheduler,
	// then wait for in-flight recordings to finalize their segments.
	cancel()
	sched.Stop()
	capture.Wait()

	return err
}

// applyServeFlags overrides loaded config values with serve flags that
// were explicitly set on the command line.
func applyServeFlags(flags *pflag.FlagSet, cfg *config.Config) {
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("database") {
		cfg.Database.DSN, _ = flags.GetString("database")
	}
	if flags.Changed("data-dir") {
		cfg.Storage.BaseDir, _ = flags.GetString("data-dir")
	}
}

func runMigrations(db *database.DB, logger *slog.Logger) error {
	migrator := migrations.NewMigrator(db.DB, logger)
	migrator.RegisterAll(migrations.AllMigrations())
	return migrator.Up(context.Background())
}
