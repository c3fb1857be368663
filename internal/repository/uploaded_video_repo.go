package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/livarr/livarr/internal/models"
	"gorm.io/gorm"
)

// uploadedVideoRepo implements UploadedVideoRepository using GORM.
type uploadedVideoRepo struct {
	db *gorm.DB
}

// NewUploadedVideoRepository creates a new UploadedVideoRepository.
func NewUploadedVideoRepository(db *gorm.DB) *uploadedVideoRepo {
	return &uploadedVideoRepo{db: db}
}

// Create creates a new uploaded video record.
func (r *uploadedVideoRepo) Create(ctx context.Context, video *models.UploadedVideo) error {
	if err := r.db.WithContext(ctx).Create(video).Error; err != nil {
		return fmt.Errorf("creating uploaded video: %w", err)
	}
	return nil
}

// GetByID retrieves a record by ID.
func (r *uploadedVideoRepo) GetByID(ctx context.Context, id models.ULID) (*models.UploadedVideo, error) {
	var video models.UploadedVideo
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&video).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting uploaded video by ID: %w", err)
	}
	return &video, nil
}

// GetByFilename retrieves a record by its first part filename.
func (r *uploadedVideoRepo) GetByFilename(ctx context.Context, filename string) (*models.UploadedVideo, error) {
	var video models.UploadedVideo
	if err := r.db.WithContext(ctx).Where("first_part_filename = ?", filename).First(&video).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting uploaded video by filename: %w", err)
	}
	return &video, nil
}

// GetByBvid retrieves a record by bvid.
func (r *uploadedVideoRepo) GetByBvid(ctx context.Context, bvid string) (*models.UploadedVideo, error) {
	var video models.UploadedVideo
	if err := r.db.WithContext(ctx).Where("bvid = ?", bvid).First(&video).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting uploaded video by bvid: %w", err)
	}
	return &video, nil
}

// GetBvidInRange retrieves the most recent record with a non-null bvid
// whose upload time falls inside [start, end].
func (r *uploadedVideoRepo) GetBvidInRange(ctx context.Context, start, end time.Time) (*models.UploadedVideo, error) {
	var video models.UploadedVideo
	err := r.db.WithContext(ctx).
		Where("bvid IS NOT NULL AND upload_time >= ? AND upload_time <= ?", start, end).
		Order("upload_time DESC").
		First(&video).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting bvid in range: %w", err)
	}
	return &video, nil
}

// HasPendingInRange reports whether a record with a null bvid exists in [start, end].
func (r *uploadedVideoRepo) HasPendingInRange(ctx context.Context, start, end time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.UploadedVideo{}).
		Where("bvid IS NULL AND upload_time >= ? AND upload_time <= ?", start, end).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("checking pending uploads in range: %w", err)
	}
	return count > 0, nil
}

// CountInRange returns the number of records whose upload time falls inside [start, end].
func (r *uploadedVideoRepo) CountInRange(ctx context.Context, start, end time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.UploadedVideo{}).
		Where("upload_time >= ? AND upload_time <= ?", start, end).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("counting uploads in range: %w", err)
	}
	return count, nil
}

// GetMissingBvid retrieves records with a null bvid, oldest first.
func (r *uploadedVideoRepo) GetMissingBvid(ctx context.Context) ([]*models.UploadedVideo, error) {
	var videos []*models.UploadedVideo
	err := r.db.WithContext(ctx).
		Where("bvid IS NULL").
		Order("upload_time ASC").
		Find(&videos).Error
	if err != nil {
		return nil, fmt.Errorf("getting videos missing bvid: %w", err)
	}
	return videos, nil
}

// SetBvid records the bvid on a row after checking no other row carries it.
// The check and update run in one transaction so two concurrent backfill
// passes cannot both claim the same bvid.
func (r *uploadedVideoRepo) SetBvid(ctx context.Context, id models.ULID, bvid string) error {
	if !models.IsValidBvid(bvid) {
		return models.ErrInvalidBvid
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.UploadedVideo{}).
			Where("bvid = ? AND id <> ?", bvid, id).
			Count(&count).Error; err != nil {
			return fmt.Errorf("checking bvid uniqueness: %w", err)
		}
		if count > 0 {
			return models.ErrDuplicateBvid
		}

		result := tx.Model(&models.UploadedVideo{}).
			Where("id = ?", id).
			Update("bvid", bvid)
		if result.Error != nil {
			return fmt.Errorf("setting bvid: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return models.ErrVideoNotFound
		}
		return nil
	})
}

// GetRecent retrieves the latest records, newest upload first.
func (r *uploadedVideoRepo) GetRecent(ctx context.Context, limit int) ([]*models.UploadedVideo, error) {
	var videos []*models.UploadedVideo
	err := r.db.WithContext(ctx).
		Order("upload_time DESC").
		Limit(limit).
		Find(&videos).Error
	if err != nil {
		return nil, fmt.Errorf("getting recent uploads: %w", err)
	}
	return videos, nil
}

// GetDeletionCandidates retrieves records persisted before the cutoff.
func (r *uploadedVideoRepo) GetDeletionCandidates(ctx context.Context, olderThan time.Time) ([]*models.UploadedVideo, error) {
	var videos []*models.UploadedVideo
	err := r.db.WithContext(ctx).
		Where("created_at < ?", olderThan).
		Order("created_at ASC").
		Find(&videos).Error
	if err != nil {
		return nil, fmt.Errorf("getting deletion candidates: %w", err)
	}
	return videos, nil
}

// Ensure uploadedVideoRepo implements UploadedVideoRepository at compile time.
var _ UploadedVideoRepository = (*uploadedVideoRepo)(nil)
