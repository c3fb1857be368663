package bilibili

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/livarr/livarr/internal/models"
	"github.com/livarr/livarr/internal/observability"
	"github.com/livarr/livarr/internal/repository"
)

// timestampMarker precedes the recording timestamp in artifact names:
// {streamer}录播YYYY-MM-DDTHH_mm_ss.ext.
const (
	timestampMarker = "录播"
	timestampLayout = "2006-01-02 15_04_05"
)

// groupingHorizon bounds how far back complete sessions are considered
// when assigning artifacts.
const groupingHorizon = 72 * time.Hour

// TimestampFromFilename extracts the recording timestamp embedded in an
// artifact name. Names without one fall back to now and report ok false;
// such files sort last and are never window-matched.
func TimestampFromFilename(path string, now time.Time) (time.Time, bool) {
	name := filepath.Base(path)
	idx := strings.LastIndex(name, timestampMarker)
	if idx < 0 {
		return now, false
	}
	raw := name[idx+len(timestampMarker):]
	if dot := strings.IndexByte(raw, '.'); dot >= 0 {
		raw = raw[:dot]
	}
	ts, err := time.ParseInLocation(timestampLayout, strings.Replace(raw, "T", " ", 1), time.Local)
	if err != nil {
		return now, false
	}
	return ts, true
}

// Candidate is one staged artifact awaiting upload.
type Candidate struct {
	Path      string
	Filename  string
	Timestamp time.Time
	// Parsed is false when the name carried no timestamp; such files go
	// straight to the unassigned bucket.
	Parsed bool
}

// Bucket holds the candidates claimed by one stream session, ordered by
// timestamp.
type Bucket struct {
	Session *models.StreamSession
	Files   []Candidate
}

// Grouping is the outcome of assigning candidates to sessions.
type Grouping struct {
	Buckets    []*Bucket
	Unassigned []Candidate
}

// Action is the decision for one session bucket.
type Action int

const (
	// ActionCreate submits the bucket's first file as a new work.
	ActionCreate Action = iota
	// ActionAppend adds every bucket file to an existing work.
	ActionAppend
	// ActionSkipPending leaves the bucket alone: an earlier upload in the
	// window is still waiting for its bvid and a second create must not
	// be issued.
	ActionSkipPending
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionAppend:
		return "append"
	case ActionSkipPending:
		return "skip-pending"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Plan is the resolved decision for one bucket.
type Plan struct {
	Action Action
	// Bvid is the work to append to. Set for ActionAppend.
	Bvid string
	// NextPart numbers the first appended file. Set for ActionAppend.
	NextPart int
}

// Grouper assigns staged artifacts to stream sessions and decides the
// per-bucket upload action from the ledger.
type Grouper struct {
	sessions repository.StreamSessionRepository
	videos   repository.UploadedVideoRepository
	buffer   time.Duration
	logger   *slog.Logger
}

// NewGrouper creates a Grouper. buffer widens every session window on
// both sides; it is the same knob that backdates session starts.
func NewGrouper(sessions repository.StreamSessionRepository, videos repository.UploadedVideoRepository, buffer time.Duration, logger *slog.Logger) *Grouper {
	return &Grouper{
		sessions: sessions,
		videos:   videos,
		buffer:   buffer,
		logger:   observability.WithComponent(logger, "bilibili.grouping"),
	}
}

// ScanCandidates lists staged artifacts with the given extension that
// have no ledger row yet, sorted by recording timestamp. Files vanishing
// between this scan and the upload are the caller's to tolerate.
func (g *Grouper) ScanCandidates(ctx context.Context, dir, ext string, now time.Time) ([]Candidate, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*."+ext))
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}

	candidates := make([]Candidate, 0, len(paths))
	for _, path := range paths {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		name := filepath.Base(path)
		existing, err := g.videos.GetByFilename(ctx, name)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			g.logger.Debug("already in the upload ledger, skipping",
				slog.String("file", name))
			continue
		}
		ts, parsed := TimestampFromFilename(path, now)
		if !parsed {
			g.logger.Warn("filename carries no recording timestamp",
				slog.String("file", name))
		}
		candidates = append(candidates, Candidate{
			Path:      path,
			Filename:  name,
			Timestamp: ts,
			Parsed:    parsed,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Timestamp.Before(candidates[j].Timestamp)
	})
	return candidates, nil
}

// Group assigns each candidate to the first session whose widened window
// contains its timestamp. Unmatched candidates land in Unassigned.
func (g *Grouper) Group(ctx context.Context, streamer string, candidates []Candidate, now time.Time) (*Grouping, error) {
	sessions, err := g.sessions.GetGroupingCandidates(ctx, streamer, now.Add(-groupingHorizon))
	if err != nil {
		return nil, err
	}

	grouping := &Grouping{}
	buckets := make(map[models.ULID]*Bucket, len(sessions))

	for _, candidate := range candidates {
		if !candidate.Parsed {
			grouping.Unassigned = append(grouping.Unassigned, candidate)
			continue
		}
		assigned := false
		for _, session := range sessions {
			if !session.Contains(candidate.Timestamp, g.buffer, now) {
				continue
			}
			bucket, ok := buckets[session.ID]
			if !ok {
				bucket = &Bucket{Session: session}
				buckets[session.ID] = bucket
				grouping.Buckets = append(grouping.Buckets, bucket)
			}
			bucket.Files = append(bucket.Files, candidate)
			assigned = true
			break
		}
		if !assigned {
			grouping.Unassigned = append(grouping.Unassigned, candidate)
		}
	}
	return grouping, nil
}

// PlanBucket decides the bucket's action: append when the window already
// holds a published row, skip while one is still pending, create
// otherwise.
func (g *Grouper) PlanBucket(ctx context.Context, bucket *Bucket, now time.Time) (*Plan, error) {
	start, end, ok := bucket.Session.Window(g.buffer, now)
	if !ok {
		return nil, fmt.Errorf("session %s has no start time", bucket.Session.ID)
	}

	published, err := g.videos.GetBvidInRange(ctx, start, end)
	if err != nil {
		return nil, err
	}
	if published != nil {
		count, err := g.videos.CountInRange(ctx, start, end)
		if err != nil {
			return nil, err
		}
		return &Plan{Action: ActionAppend, Bvid: *published.Bvid, NextPart: int(count) + 1}, nil
	}

	pending, err := g.videos.HasPendingInRange(ctx, start, end)
	if err != nil {
		return nil, err
	}
	if pending {
		return &Plan{Action: ActionSkipPending}, nil
	}
	return &Plan{Action: ActionCreate}, nil
}
