// Package repository defines data access interfaces for livarr entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"
	"time"

	"github.com/livarr/livarr/internal/models"
)

// StreamSessionRepository defines operations for stream session persistence.
type StreamSessionRepository interface {
	// Create creates a new stream session.
	Create(ctx context.Context, session *models.StreamSession) error
	// GetByID retrieves a session by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.StreamSession, error)
	// Update updates an existing session.
	Update(ctx context.Context, session *models.StreamSession) error
	// GetLatestOpen retrieves the most recent open session for a streamer,
	// ordered by start time. Returns nil when no session is open.
	GetLatestOpen(ctx context.Context, streamerName string) (*models.StreamSession, error)
	// CountOpen returns the number of open sessions for a streamer.
	CountOpen(ctx context.Context, streamerName string) (int64, error)
	// SetEndTime closes a session by setting its end time.
	SetEndTime(ctx context.Context, id models.ULID, end time.Time) error
	// GetStaleOpen retrieves open sessions whose start time is older than
	// the given horizon. Used by the stale-session sweeper.
	GetStaleOpen(ctx context.Context, olderThan time.Time) ([]*models.StreamSession, error)
	// GetGroupingCandidates retrieves the sessions eligible to claim
	// artifacts: complete sessions ending at or after endedSince, ordered by
	// end time, with the most recent open session (if any) appended last.
	GetGroupingCandidates(ctx context.Context, streamerName string, endedSince time.Time) ([]*models.StreamSession, error)
	// GetRecentByStreamer retrieves the latest sessions for a streamer,
	// newest first, limited to limit rows.
	GetRecentByStreamer(ctx context.Context, streamerName string, limit int) ([]*models.StreamSession, error)
}

// UploadedVideoRepository defines operations for uploaded video persistence.
type UploadedVideoRepository interface {
	// Create creates a new uploaded video record.
	Create(ctx context.Context, video *models.UploadedVideo) error
	// GetByID retrieves a record by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.UploadedVideo, error)
	// GetByFilename retrieves a record by its first part filename.
	// Returns nil when the filename has never been uploaded.
	GetByFilename(ctx context.Context, filename string) (*models.UploadedVideo, error)
	// GetByBvid retrieves a record by bvid. Returns nil when unknown.
	GetByBvid(ctx context.Context, bvid string) (*models.UploadedVideo, error)
	// GetBvidInRange retrieves the most recent record with a non-null bvid
	// whose upload time falls inside [start, end]. Returns nil when none.
	GetBvidInRange(ctx context.Context, start, end time.Time) (*models.UploadedVideo, error)
	// HasPendingInRange reports whether a record with a null bvid exists
	// whose upload time falls inside [start, end].
	HasPendingInRange(ctx context.Context, start, end time.Time) (bool, error)
	// CountInRange returns the number of records (any bvid state) whose
	// upload time falls inside [start, end]. Drives part numbering.
	CountInRange(ctx context.Context, start, end time.Time) (int64, error)
	// GetMissingBvid retrieves records with a null bvid, oldest first.
	GetMissingBvid(ctx context.Context) ([]*models.UploadedVideo, error)
	// SetBvid records the bvid on a row. Fails with models.ErrDuplicateBvid
	// when another row already carries it, models.ErrInvalidBvid when
	// malformed, and models.ErrVideoNotFound when the row does not exist.
	SetBvid(ctx context.Context, id models.ULID, bvid string) error
	// GetRecent retrieves the latest records, newest upload first.
	GetRecent(ctx context.Context, limit int) ([]*models.UploadedVideo, error)
	// GetDeletionCandidates retrieves records persisted before the given
	// cutoff. The retention sweeper matches these against local artifacts.
	GetDeletionCandidates(ctx context.Context, olderThan time.Time) ([]*models.UploadedVideo, error)
}
