package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/livarr/livarr/internal/models"
	"gorm.io/gorm"
)

// streamSessionRepo implements StreamSessionRepository using GORM.
type streamSessionRepo struct {
	db *gorm.DB
}

// NewStreamSessionRepository creates a new StreamSessionRepository.
func NewStreamSessionRepository(db *gorm.DB) *streamSessionRepo {
	return &streamSessionRepo{db: db}
}

// Create creates a new stream session.
func (r *streamSessionRepo) Create(ctx context.Context, session *models.StreamSession) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("creating stream session: %w", err)
	}
	return nil
}

// GetByID retrieves a session by ID.
func (r *streamSessionRepo) GetByID(ctx context.Context, id models.ULID) (*models.StreamSession, error) {
	var session models.StreamSession
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting stream session by ID: %w", err)
	}
	return &session, nil
}

// Update updates an existing session.
func (r *streamSessionRepo) Update(ctx context.Context, session *models.StreamSession) error {
	if err := r.db.WithContext(ctx).Save(session).Error; err != nil {
		return fmt.Errorf("updating stream session: %w", err)
	}
	return nil
}

// GetLatestOpen retrieves the most recent open session for a streamer.
// Open means the session has a start time and no end time yet.
func (r *streamSessionRepo) GetLatestOpen(ctx context.Context, streamerName string) (*models.StreamSession, error) {
	var session models.StreamSession
	err := r.db.WithContext(ctx).
		Where("streamer_name = ? AND start_time IS NOT NULL AND end_time IS NULL", streamerName).
		Order("start_time DESC").
		First(&session).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting latest open session: %w", err)
	}
	return &session, nil
}

// CountOpen returns the number of open sessions for a streamer.
func (r *streamSessionRepo) CountOpen(ctx context.Context, streamerName string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.StreamSession{}).
		Where("streamer_name = ? AND start_time IS NOT NULL AND end_time IS NULL", streamerName).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("counting open sessions: %w", err)
	}
	return count, nil
}

// SetEndTime closes a session by setting its end time.
func (r *streamSessionRepo) SetEndTime(ctx context.Context, id models.ULID, end time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.StreamSession{}).
		Where("id = ?", id).
		Update("end_time", end)
	if result.Error != nil {
		return fmt.Errorf("setting session end time: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

// GetStaleOpen retrieves open sessions whose start time is older than the horizon.
func (r *streamSessionRepo) GetStaleOpen(ctx context.Context, olderThan time.Time) ([]*models.StreamSession, error) {
	var sessions []*models.StreamSession
	err := r.db.WithContext(ctx).
		Where("start_time IS NOT NULL AND end_time IS NULL AND start_time < ?", olderThan).
		Order("start_time ASC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("getting stale open sessions: %w", err)
	}
	return sessions, nil
}

// GetGroupingCandidates retrieves complete sessions ending at or after
// endedSince, ordered by start time, with the most recent open session
// (if any) appended last. Artifact assignment walks this list in order
// and stops at the first containing window.
func (r *streamSessionRepo) GetGroupingCandidates(ctx context.Context, streamerName string, endedSince time.Time) ([]*models.StreamSession, error) {
	var sessions []*models.StreamSession
	err := r.db.WithContext(ctx).
		Where("streamer_name = ? AND start_time IS NOT NULL AND end_time IS NOT NULL AND end_time >= ?", streamerName, endedSince).
		Order("start_time ASC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("getting grouping candidates: %w", err)
	}

	open, err := r.GetLatestOpen(ctx, streamerName)
	if err != nil {
		return nil, err
	}
	if open != nil {
		sessions = append(sessions, open)
	}
	return sessions, nil
}

// GetRecentByStreamer retrieves the latest sessions for a streamer, newest first.
func (r *streamSessionRepo) GetRecentByStreamer(ctx context.Context, streamerName string, limit int) ([]*models.StreamSession, error) {
	var sessions []*models.StreamSession
	err := r.db.WithContext(ctx).
		Where("streamer_name = ?", streamerName).
		Order("created_at DESC").
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("getting recent sessions: %w", err)
	}
	return sessions, nil
}

// Ensure streamSessionRepo implements StreamSessionRepository at compile time.
var _ StreamSessionRepository = (*streamSessionRepo)(nil)
