// Package config provides configuration management for livarr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort          = 50009
	defaultServerTimeout       = 30 * time.Second
	defaultShutdownTimeout     = 10 * time.Second
	defaultMaxOpenConns        = 25
	defaultMaxIdleConns        = 10
	defaultConnMaxIdleTime     = 30 * time.Minute
	defaultRequestTimeout      = 10 * time.Second
	defaultHeartbeatInterval   = 30 * time.Second
	defaultFontSize            = 40
	defaultSCFontSize          = 38
	defaultSegmentDuration     = 60 * time.Minute
	defaultRetryDelay          = 10 * time.Second
	defaultPipelineInterval    = 60 * time.Minute
	defaultStatusCheckInterval = 10 * time.Minute
	defaultStartTimeAdjustment = 10 * time.Minute
	defaultPostStreamDelay     = 3 * time.Minute
	defaultStaleSweepInterval  = 12 * time.Hour
	defaultStaleHorizon        = 24 * time.Hour
	defaultStaleCap            = 12 * time.Hour
	defaultRateLimitCooldown   = 5 * time.Minute
	defaultRateLimitRetries    = 1
	defaultGlobalQuality       = 25
	defaultBackupRetention     = 7
	defaultMinFileSizeBytes    = 10 * 1024 * 1024 // 10MB
)

// Default Douyu client parameters. The device ID and CDN follow the values
// the web player sends for anonymous sessions.
const (
	DefaultDouyuAPIBase   = "https://www.douyu.com"
	DefaultDouyuDID       = "10000000000000000000000000001501"
	DefaultDouyuCDN       = "hw-h5"
	DefaultDanmakuWSURL   = "wss://danmuproxy.douyu.com:8506/"
	DefaultStreamerName   = "银剑君"
	DefaultStreamerRoomID = "251783"
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Douyu      DouyuConfig      `mapstructure:"douyu"`
	Danmaku    DanmakuConfig    `mapstructure:"danmaku"`
	Recording  RecordingConfig  `mapstructure:"recording"`
	Processing ProcessingConfig `mapstructure:"processing"`
	FFmpeg     FFmpegConfig     `mapstructure:"ffmpeg"`
	Upload     UploadConfig     `mapstructure:"upload"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Backup     BackupConfig     `mapstructure:"backup"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn" masq:"secret"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	BaseDir       string `mapstructure:"base_dir"`
	ProcessingDir string `mapstructure:"processing_dir"`
	UploadDir     string `mapstructure:"upload_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// StreamerConfig identifies one Douyu room to capture.
type StreamerConfig struct {
	Name   string `mapstructure:"name"`
	RoomID string `mapstructure:"room_id"`
}

// DouyuConfig holds Douyu API client configuration.
type DouyuConfig struct {
	APIBase        string           `mapstructure:"api_base"`
	DID            string           `mapstructure:"did"`
	CDN            string           `mapstructure:"cdn"`
	Rate           int              `mapstructure:"rate"` // 0 = highest quality
	RequestTimeout time.Duration    `mapstructure:"request_timeout"`
	Streamers      []StreamerConfig `mapstructure:"streamers"`
	// DefaultStreamer owns recordings whose filenames match no session window
	// and is used when the streamers list is empty.
	DefaultStreamer string `mapstructure:"default_streamer"`
	DefaultRoomID   string `mapstructure:"default_room_id"`
}

// DanmakuConfig holds chat collection and rendering configuration.
type DanmakuConfig struct {
	WSURL             string        `mapstructure:"ws_url"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	FontSize          int           `mapstructure:"font_size"`
	SCFontSize        int           `mapstructure:"sc_font_size"`
}

// RecordingConfig holds capture loop configuration.
type RecordingConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	SegmentDuration time.Duration `mapstructure:"segment_duration"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
}

// ProcessingConfig holds post-processing configuration.
type ProcessingConfig struct {
	// MinFileSize is the size below which recordings are discarded.
	// Supports human-readable values like "10MB" or raw byte counts.
	MinFileSize              ByteSize      `mapstructure:"min_file_size"`
	SkipEncoding             bool          `mapstructure:"skip_encoding"`
	DeleteUploadedFiles      bool          `mapstructure:"delete_uploaded_files"`
	DeleteUploadedFilesDelay time.Duration `mapstructure:"delete_uploaded_files_delay"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath    string `mapstructure:"binary_path"` // Path to ffmpeg binary
	ProbePath     string `mapstructure:"probe_path"`  // Path to ffprobe binary
	Preset        string `mapstructure:"preset"`
	GlobalQuality int    `mapstructure:"global_quality"`
}

// UploadConfig holds Bilibili upload configuration.
type UploadConfig struct {
	// Enabled controls whether the scheduled pipeline performs uploads.
	// Manual triggers upload regardless.
	Enabled      bool   `mapstructure:"enabled"`
	Backend      string `mapstructure:"backend"` // auto, biliup, bilitool
	BiliupPath   string `mapstructure:"biliup_path"`
	BilitoolPath string `mapstructure:"bilitool_path"`
	CookiesPath  string `mapstructure:"cookies_path"`
	TemplatePath string `mapstructure:"template_path"`
	SubmitMode   string `mapstructure:"submit_mode"` // app, b-cut-android
	Line         string `mapstructure:"line"`

	RateLimitCooldown   time.Duration `mapstructure:"rate_limit_cooldown"`
	RateLimitMaxRetries int           `mapstructure:"rate_limit_max_retries"`

	DanmakuTitleSuffix   string `mapstructure:"danmaku_title_suffix"`
	NoDanmakuTitleSuffix string `mapstructure:"no_danmaku_title_suffix"`
}

// SchedulerConfig holds background job configuration.
type SchedulerConfig struct {
	PipelineInterval    time.Duration `mapstructure:"pipeline_interval"`
	StatusCheckInterval time.Duration `mapstructure:"status_check_interval"`
	// StartTimeAdjustment is subtracted from the live-edge detection time
	// when opening a session, and also pads both ends of the session window
	// during upload grouping. One knob controls both on purpose: the same
	// clock slack that blurs a session start blurs its file timestamps.
	StartTimeAdjustment   time.Duration `mapstructure:"start_time_adjustment"`
	ProcessAfterStreamEnd bool          `mapstructure:"process_after_stream_end"`
	PostStreamDelay       time.Duration `mapstructure:"post_stream_delay"`
	StaleSweepInterval    time.Duration `mapstructure:"stale_sweep_interval"`
	StaleHorizon          time.Duration `mapstructure:"stale_horizon"`
	StaleCap              time.Duration `mapstructure:"stale_cap"`
}

// BackupConfig holds backup configuration.
type BackupConfig struct {
	Directory string               `mapstructure:"directory"` // Backup storage location (empty = {storage.base_dir}/backups)
	Schedule  BackupScheduleConfig `mapstructure:"schedule"`
}

// BackupScheduleConfig holds scheduled backup configuration.
type BackupScheduleConfig struct {
	Enabled   bool   `mapstructure:"enabled"`   // Enable scheduled backups
	Cron      string `mapstructure:"cron"`      // 5-field cron expression (default: "0 2 * * *" daily at 2 AM)
	Retention int    `mapstructure:"retention"` // Number of backups to keep
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with LIVARR_ and use underscores for nesting.
// Example: LIVARR_SERVER_PORT=50009.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("livarr")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/livarr")
		v.AddConfigPath("$HOME/.livarr")
	}

	// Environment variable settings
	v.SetEnvPrefix("LIVARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	// Viper's stock decode hooks do not consult encoding.TextUnmarshaler,
	// which ByteSize values like "10MB" rely on.
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "livarr.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.processing_dir", "processing")
	v.SetDefault("storage.upload_dir", "upload")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Douyu defaults
	v.SetDefault("douyu.api_base", DefaultDouyuAPIBase)
	v.SetDefault("douyu.did", DefaultDouyuDID)
	v.SetDefault("douyu.cdn", DefaultDouyuCDN)
	v.SetDefault("douyu.rate", 0)
	v.SetDefault("douyu.request_timeout", defaultRequestTimeout)
	v.SetDefault("douyu.default_streamer", DefaultStreamerName)
	v.SetDefault("douyu.default_room_id", DefaultStreamerRoomID)

	// Danmaku defaults
	v.SetDefault("danmaku.ws_url", DefaultDanmakuWSURL)
	v.SetDefault("danmaku.heartbeat_interval", defaultHeartbeatInterval)
	v.SetDefault("danmaku.font_size", defaultFontSize)
	v.SetDefault("danmaku.sc_font_size", defaultSCFontSize)

	// Recording defaults
	v.SetDefault("recording.enabled", true)
	v.SetDefault("recording.segment_duration", defaultSegmentDuration)
	v.SetDefault("recording.retry_delay", defaultRetryDelay)

	// Processing defaults
	v.SetDefault("processing.min_file_size", defaultMinFileSizeBytes)
	v.SetDefault("processing.skip_encoding", false)
	v.SetDefault("processing.delete_uploaded_files", false)
	v.SetDefault("processing.delete_uploaded_files_delay", 24*time.Hour)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "ffmpeg")
	v.SetDefault("ffmpeg.probe_path", "ffprobe")
	v.SetDefault("ffmpeg.preset", "veryfast")
	v.SetDefault("ffmpeg.global_quality", defaultGlobalQuality)

	// Upload defaults
	v.SetDefault("upload.enabled", true)
	v.SetDefault("upload.backend", "auto")
	v.SetDefault("upload.biliup_path", "biliup")
	v.SetDefault("upload.bilitool_path", "bilitool")
	v.SetDefault("upload.cookies_path", "cookies.json")
	v.SetDefault("upload.template_path", "config.yaml")
	v.SetDefault("upload.submit_mode", "app")
	v.SetDefault("upload.line", "")
	v.SetDefault("upload.rate_limit_cooldown", defaultRateLimitCooldown)
	v.SetDefault("upload.rate_limit_max_retries", defaultRateLimitRetries)
	v.SetDefault("upload.danmaku_title_suffix", "【弹幕版】")
	v.SetDefault("upload.no_danmaku_title_suffix", "【无弹幕版】")

	// Scheduler defaults
	v.SetDefault("scheduler.pipeline_interval", defaultPipelineInterval)
	v.SetDefault("scheduler.status_check_interval", defaultStatusCheckInterval)
	v.SetDefault("scheduler.start_time_adjustment", defaultStartTimeAdjustment)
	v.SetDefault("scheduler.process_after_stream_end", false)
	v.SetDefault("scheduler.post_stream_delay", defaultPostStreamDelay)
	v.SetDefault("scheduler.stale_sweep_interval", defaultStaleSweepInterval)
	v.SetDefault("scheduler.stale_horizon", defaultStaleHorizon)
	v.SetDefault("scheduler.stale_cap", defaultStaleCap)

	// Backup defaults
	v.SetDefault("backup.directory", "") // Empty = {storage.base_dir}/backups
	v.SetDefault("backup.schedule.enabled", true)
	v.SetDefault("backup.schedule.cron", "0 2 * * *") // Daily at 2 AM
	v.SetDefault("backup.schedule.retention", defaultBackupRetention)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Server validation
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	// Database validation
	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	validDBLogLevels := map[string]bool{"silent": true, "error": true, "warn": true, "info": true}
	if !validDBLogLevels[c.Database.LogLevel] {
		return fmt.Errorf("database.log_level must be one of: silent, error, warn, info")
	}
	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("database.max_open_conns must be at least 1")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns must not be negative")
	}

	// Storage validation
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	// Logging validation
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Douyu validation
	if c.Douyu.APIBase == "" {
		return fmt.Errorf("douyu.api_base is required")
	}
	if len(c.Douyu.Streamers) == 0 && (c.Douyu.DefaultStreamer == "" || c.Douyu.DefaultRoomID == "") {
		return fmt.Errorf("douyu.streamers or douyu.default_streamer/default_room_id is required")
	}
	for i, s := range c.Douyu.Streamers {
		if s.Name == "" || s.RoomID == "" {
			return fmt.Errorf("douyu.streamers[%d] requires both name and room_id", i)
		}
	}

	// Recording validation
	if c.Recording.SegmentDuration <= 0 {
		return fmt.Errorf("recording.segment_duration must be positive")
	}

	// Danmaku validation
	if c.Danmaku.WSURL == "" {
		return fmt.Errorf("danmaku.ws_url is required")
	}
	if c.Danmaku.HeartbeatInterval <= 0 {
		return fmt.Errorf("danmaku.heartbeat_interval must be positive")
	}
	if c.Danmaku.FontSize < 1 || c.Danmaku.SCFontSize < 1 {
		return fmt.Errorf("danmaku.font_size and danmaku.sc_font_size must be positive")
	}

	// Upload validation
	validBackends := map[string]bool{"auto": true, "biliup": true, "bilitool": true}
	if !validBackends[c.Upload.Backend] {
		return fmt.Errorf("upload.backend must be one of: auto, biliup, bilitool")
	}

	// Scheduler validation
	if c.Scheduler.PipelineInterval <= 0 {
		return fmt.Errorf("scheduler.pipeline_interval must be positive")
	}
	if c.Scheduler.StatusCheckInterval <= 0 {
		return fmt.Errorf("scheduler.status_check_interval must be positive")
	}

	// Processing validation
	if c.Processing.MinFileSize < 0 {
		return fmt.Errorf("processing.min_file_size must not be negative")
	}

	// Backup validation
	const maxRetention = 365
	if c.Backup.Schedule.Retention < 1 || c.Backup.Schedule.Retention > maxRetention {
		return fmt.Errorf("backup.schedule.retention must be between 1 and %d", maxRetention)
	}

	return nil
}

// ActiveStreamers returns the configured streamer list, falling back to the
// default streamer when the list is empty.
func (c *DouyuConfig) ActiveStreamers() []StreamerConfig {
	if len(c.Streamers) > 0 {
		return c.Streamers
	}
	return []StreamerConfig{{Name: c.DefaultStreamer, RoomID: c.DefaultRoomID}}
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ProcessingPath returns the full path to the processing directory.
func (c *StorageConfig) ProcessingPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.ProcessingDir)
}

// UploadPath returns the full path to the upload staging directory.
func (c *StorageConfig) UploadPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.UploadDir)
}

// BackupPath returns the backup directory path.
// If Directory is set, returns it directly; otherwise returns {BaseDir}/backups.
func (c *BackupConfig) BackupPath(storageBaseDir string) string {
	if c.Directory != "" {
		return c.Directory
	}
	return fmt.Sprintf("%s/backups", storageBaseDir)
}
