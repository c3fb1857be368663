package bilibili

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/livarr/livarr/internal/models"
	"github.com/livarr/livarr/internal/repository"
)

func setupGroupingDB(t *testing.T) (*gorm.DB, repository.StreamSessionRepository, repository.UploadedVideoRepository) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.StreamSession{}, &models.UploadedVideo{}))
	return db, repository.NewStreamSessionRepository(db), repository.NewUploadedVideoRepository(db)
}

func mustSession(t *testing.T, sessions repository.StreamSessionRepository, streamer string, start, end *time.Time) *models.StreamSession {
	t.Helper()
	s := &models.StreamSession{StreamerName: streamer, StartTime: start, EndTime: end}
	require.NoError(t, sessions.Create(context.Background(), s))
	return s
}

func mustVideo(t *testing.T, videos repository.UploadedVideoRepository, title, filename string, ts time.Time, bvid *string) *models.UploadedVideo {
	t.Helper()
	v := &models.UploadedVideo{Title: title, FirstPartFilename: filename, UploadTime: ts, Bvid: bvid}
	require.NoError(t, videos.Create(context.Background(), v))
	return v
}

// recordingName renders an artifact name the way the recorder does.
func recordingName(streamer string, ts time.Time, ext string) string {
	return streamer + "录播" + ts.Format("2006-01-02T15_04_05") + "." + ext
}

func TestTimestampFromFilename(t *testing.T) {
	now := time.Date(2026, 2, 24, 12, 0, 0, 0, time.Local)
	want := time.Date(2026, 2, 24, 9, 15, 0, 0, time.Local)

	tests := []struct {
		name   string
		file   string
		want   time.Time
		parsed bool
	}{
		{"standard name", "主播录播2026-02-24T09_15_00.mp4", want, true},
		{"marker inside streamer name", "录播姬录播2026-02-24T09_15_00.flv", want, true},
		{"extra extension dots", "主播录播2026-02-24T09_15_00.fixed.mp4", want, true},
		{"no marker", "stream.mp4", now, false},
		{"unparseable timestamp", "主播录播昨天.mp4", now, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, parsed := TimestampFromFilename(tt.file, now)
			assert.Equal(t, tt.parsed, parsed)
			assert.True(t, tt.want.Equal(got), "got %v, want %v", got, tt.want)
		})
	}
}

func TestGrouper_ScanCandidates(t *testing.T) {
	_, sessions, videos := setupGroupingDB(t)
	g := NewGrouper(sessions, videos, 10*time.Minute, testLogger())
	ctx := context.Background()

	now := time.Date(2026, 2, 24, 12, 0, 0, 0, time.Local)
	early := time.Date(2026, 2, 24, 9, 0, 0, 0, time.Local)
	late := time.Date(2026, 2, 24, 10, 0, 0, 0, time.Local)
	uploaded := time.Date(2026, 2, 24, 8, 0, 0, 0, time.Local)

	dir := t.TempDir()
	// Written out of order on purpose.
	for _, name := range []string{
		recordingName("主播", late, "mp4"),
		recordingName("主播", early, "mp4"),
		recordingName("主播", uploaded, "mp4"),
		"odd.mp4",
		recordingName("主播", early, "flv"),
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	mustVideo(t, videos, "已传", recordingName("主播", uploaded, "mp4"), uploaded, nil)

	candidates, err := g.ScanCandidates(ctx, dir, "mp4", now)
	require.NoError(t, err)
	require.Len(t, candidates, 3)

	assert.Equal(t, recordingName("主播", early, "mp4"), candidates[0].Filename)
	assert.Equal(t, recordingName("主播", late, "mp4"), candidates[1].Filename)
	assert.True(t, candidates[0].Parsed)
	assert.True(t, candidates[1].Parsed)

	// Timestampless names fall back to now and sort last.
	assert.Equal(t, "odd.mp4", candidates[2].Filename)
	assert.False(t, candidates[2].Parsed)
	assert.True(t, now.Equal(candidates[2].Timestamp))
}

func TestGrouper_Group(t *testing.T) {
	_, sessions, videos := setupGroupingDB(t)
	g := NewGrouper(sessions, videos, 5*time.Minute, testLogger())
	ctx := context.Background()

	now := time.Date(2026, 2, 24, 14, 0, 0, 0, time.Local)
	aStart := time.Date(2026, 2, 24, 9, 0, 0, 0, time.Local)
	aEnd := time.Date(2026, 2, 24, 11, 0, 0, 0, time.Local)
	bStart := time.Date(2026, 2, 24, 13, 0, 0, 0, time.Local)

	complete := mustSession(t, sessions, "主播", &aStart, &aEnd)
	open := mustSession(t, sessions, "主播", &bStart, nil)

	mk := func(ts time.Time, parsed bool) Candidate {
		name := recordingName("主播", ts, "mp4")
		if !parsed {
			name = "odd.mp4"
		}
		return Candidate{Path: "/upload/" + name, Filename: name, Timestamp: ts, Parsed: parsed}
	}
	candidates := []Candidate{
		mk(time.Date(2026, 2, 24, 6, 0, 0, 0, time.Local), true),   // before any window
		mk(time.Date(2026, 2, 24, 9, 30, 0, 0, time.Local), true),  // inside A
		mk(time.Date(2026, 2, 24, 11, 4, 0, 0, time.Local), true),  // inside A's widened end
		mk(time.Date(2026, 2, 24, 13, 30, 0, 0, time.Local), true), // inside open B
		mk(now, false), // inside B's window by timestamp, but unparsed
	}

	grouping, err := g.Group(ctx, "主播", candidates, now)
	require.NoError(t, err)

	require.Len(t, grouping.Buckets, 2)
	assert.Equal(t, complete.ID, grouping.Buckets[0].Session.ID)
	require.Len(t, grouping.Buckets[0].Files, 2)
	assert.Equal(t, candidates[1].Filename, grouping.Buckets[0].Files[0].Filename)
	assert.Equal(t, candidates[2].Filename, grouping.Buckets[0].Files[1].Filename)

	assert.Equal(t, open.ID, grouping.Buckets[1].Session.ID)
	require.Len(t, grouping.Buckets[1].Files, 1)
	assert.Equal(t, candidates[3].Filename, grouping.Buckets[1].Files[0].Filename)

	require.Len(t, grouping.Unassigned, 2)
	assert.Equal(t, candidates[0].Filename, grouping.Unassigned[0].Filename)
	assert.Equal(t, "odd.mp4", grouping.Unassigned[1].Filename)
}

func TestGrouper_PlanBucket(t *testing.T) {
	_, sessions, videos := setupGroupingDB(t)
	g := NewGrouper(sessions, videos, 10*time.Minute, testLogger())
	ctx := context.Background()

	now := time.Date(2026, 2, 24, 14, 0, 0, 0, time.Local)
	start := time.Date(2026, 2, 24, 9, 0, 0, 0, time.Local)
	end := time.Date(2026, 2, 24, 11, 0, 0, 0, time.Local)
	session := mustSession(t, sessions, "主播", &start, &end)
	bucket := &Bucket{Session: session}

	t.Run("empty window creates", func(t *testing.T) {
		plan, err := g.PlanBucket(ctx, bucket, now)
		require.NoError(t, err)
		assert.Equal(t, ActionCreate, plan.Action)
	})

	t.Run("pending upload skips", func(t *testing.T) {
		pending := mustVideo(t, videos, "回放",
			recordingName("主播", start.Add(30*time.Minute), "mp4"),
			start.Add(30*time.Minute), nil)

		plan, err := g.PlanBucket(ctx, bucket, now)
		require.NoError(t, err)
		assert.Equal(t, ActionSkipPending, plan.Action)

		require.NoError(t, videos.SetBvid(ctx, pending.ID, "BV1GJ411x7h7"))
	})

	t.Run("published window appends with part count", func(t *testing.T) {
		// The window now holds one published row plus two parts still
		// waiting on nothing (their bvid stays null forever).
		mustVideo(t, videos, "P2 09:40:00 (分P)",
			recordingName("主播", start.Add(40*time.Minute), "mp4"),
			start.Add(40*time.Minute), nil)
		mustVideo(t, videos, "P3 09:50:00 (分P)",
			recordingName("主播", start.Add(50*time.Minute), "mp4"),
			start.Add(50*time.Minute), nil)

		plan, err := g.PlanBucket(ctx, bucket, now)
		require.NoError(t, err)
		assert.Equal(t, ActionAppend, plan.Action)
		assert.Equal(t, "BV1GJ411x7h7", plan.Bvid)
		assert.Equal(t, 4, plan.NextPart)
	})

	t.Run("session without start time", func(t *testing.T) {
		orphanEnd := now.Add(-time.Hour)
		orphan := mustSession(t, sessions, "主播", nil, &orphanEnd)
		_, err := g.PlanBucket(ctx, &Bucket{Session: orphan}, now)
		assert.ErrorContains(t, err, "has no start time")
	})
}
