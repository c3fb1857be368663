package models

import (
	"strings"

	"gorm.io/gorm"
)

// IsValidBvid reports whether s looks like a bilibili video identifier.
// Only the prefix is checked; the platform has changed identifier lengths
// before and rows must keep accepting what it hands back.
func IsValidBvid(s string) bool {
	return s != "" && strings.HasPrefix(s, "BV")
}

// UploadedVideo records one upload attempt for a local artifact.
//
// A row is inserted as soon as the upload command has been issued, before
// any local file deletion, so the artifact is never deleted without a
// durable record. Created uploads may carry the bvid immediately; appended
// parts leave it nil until the backfill pass discovers it.
type UploadedVideo struct {
	BaseModel

	// Title is the submission title the upload was issued with.
	Title string `gorm:"not null;size:500" json:"title"`

	// Bvid is the bilibili identifier once known. Nil until discovered.
	// Unique when non-null.
	Bvid *string `gorm:"size:20;uniqueIndex" json:"bvid,omitempty"`

	// FirstPartFilename is the basename of the artifact this row covers.
	// It is the idempotency key: a filename is never uploaded twice.
	FirstPartFilename string `gorm:"not null;size:500;uniqueIndex" json:"first_part_filename"`

	// UploadTime is derived from the artifact's filename timestamp when
	// parseable, otherwise the wall clock at upload.
	UploadTime Time `gorm:"not null;index" json:"upload_time"`
}

// TableName returns the table name for UploadedVideo.
func (UploadedVideo) TableName() string {
	return "uploaded_videos"
}

// HasBvid returns true once the bilibili identifier is recorded.
func (v *UploadedVideo) HasBvid() bool {
	return v.Bvid != nil && *v.Bvid != ""
}

// Validate performs basic validation on the video record.
func (v *UploadedVideo) Validate() error {
	if v.Title == "" {
		return ErrTitleRequired
	}
	if v.FirstPartFilename == "" {
		return ErrFilenameRequired
	}
	if v.Bvid != nil && *v.Bvid != "" && !IsValidBvid(*v.Bvid) {
		return ErrInvalidBvid
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the record and generates a ULID.
func (v *UploadedVideo) BeforeCreate(tx *gorm.DB) error {
	if err := v.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return v.Validate()
}

// BeforeUpdate is a GORM hook that validates the record before update.
func (v *UploadedVideo) BeforeUpdate(tx *gorm.DB) error {
	return v.Validate()
}
