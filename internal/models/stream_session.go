package models

import (
	"time"

	"gorm.io/gorm"
)

// StreamSession records one observed live broadcast for a streamer.
//
// A session is opened on an offline-to-live edge with EndTime nil and
// closed on the matching live-to-offline edge. An offline edge with no
// open session produces a row with StartTime nil, so downstream grouping
// still sees the close. The stale sweeper caps sessions whose close edge
// was never observed.
type StreamSession struct {
	BaseModel

	// StreamerName identifies whose broadcast this session belongs to.
	StreamerName string `gorm:"not null;size:255;index" json:"streamer_name"`

	// StartTime is the going-live instant, already adjusted backward by
	// the configured start time adjustment. Nil when only the offline
	// edge was observed.
	StartTime *Time `gorm:"index" json:"start_time,omitempty"`

	// EndTime is the going-offline instant, or the cap applied by the
	// stale sweeper. Nil while the session is open.
	EndTime *Time `gorm:"index" json:"end_time,omitempty"`
}

// TableName returns the table name for StreamSession.
func (StreamSession) TableName() string {
	return "stream_sessions"
}

// IsOpen returns true if the session has started but not yet ended.
func (s *StreamSession) IsOpen() bool {
	return s.StartTime != nil && s.EndTime == nil
}

// Duration returns the elapsed broadcast time, or zero when either
// boundary is missing.
func (s *StreamSession) Duration() time.Duration {
	if s.StartTime == nil || s.EndTime == nil {
		return 0
	}
	return s.EndTime.Sub(*s.StartTime)
}

// Window returns the grouping interval for this session, widened by
// buffer on both sides. Open sessions use now as the provisional end.
// ok is false when the session has no start time and therefore cannot
// claim any artifact.
func (s *StreamSession) Window(buffer time.Duration, now time.Time) (start, end time.Time, ok bool) {
	if s.StartTime == nil {
		return time.Time{}, time.Time{}, false
	}
	start = s.StartTime.Add(-buffer)
	if s.EndTime != nil {
		end = s.EndTime.Add(buffer)
	} else {
		end = now.Add(buffer)
	}
	return start, end, true
}

// Contains reports whether ts falls inside the session's widened window.
func (s *StreamSession) Contains(ts time.Time, buffer time.Duration, now time.Time) bool {
	start, end, ok := s.Window(buffer, now)
	if !ok {
		return false
	}
	return !ts.Before(start) && !ts.After(end)
}

// Validate performs basic validation on the session.
func (s *StreamSession) Validate() error {
	if s.StreamerName == "" {
		return ErrStreamerNameRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the session and generates a ULID.
func (s *StreamSession) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return s.Validate()
}

// BeforeUpdate is a GORM hook that validates the session before update.
func (s *StreamSession) BeforeUpdate(tx *gorm.DB) error {
	return s.Validate()
}
