package bilibili

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/livarr/livarr/internal/config"
	"github.com/livarr/livarr/internal/models"
	"github.com/livarr/livarr/internal/observability"
	"github.com/livarr/livarr/internal/repository"
)

// Asynchronous bvid discovery waits for the destination to ingest the
// upload, then polls the submission listing.
const (
	bvidSettleWait   = 15 * time.Second
	bvidPollAttempts = 3
	bvidPollDelay    = 5 * time.Second
	bvidPollStatus   = "pubed,is_pubing"
	bvidPollSize     = 20
)

// partTitleTag marks ledger rows that record appended parts.
const partTitleTag = " (分P)"

// Uploader drives one upload pass: scan staging, group by session, then
// create or append per bucket, persisting the ledger row before any file
// deletion.
type Uploader struct {
	cfg     *config.Config
	backend Backend
	grouper *Grouper
	videos  repository.UploadedVideoRepository
	logger  *slog.Logger

	// Discovery pacing, shortened in tests.
	settleWait time.Duration
	pollDelay  time.Duration
}

// NewUploader creates an Uploader.
func NewUploader(cfg *config.Config, backend Backend, grouper *Grouper, videos repository.UploadedVideoRepository, logger *slog.Logger) *Uploader {
	return &Uploader{
		cfg:        cfg,
		backend:    backend,
		grouper:    grouper,
		videos:     videos,
		logger:     observability.WithComponent(logger, "bilibili.uploader"),
		settleWait: bvidSettleWait,
		pollDelay:  bvidPollDelay,
	}
}

// Run executes one upload pass over the staging directory.
func (u *Uploader) Run(ctx context.Context) error {
	tmpl, err := LoadTemplate(u.cfg.Upload.TemplatePath)
	if err != nil {
		return err
	}
	if !tmpl.HasTimePlaceholder() {
		u.logger.Warn("title template has no {time} placeholder, titles will repeat",
			slog.String("title", tmpl.Title))
	}

	ext := "mp4"
	if u.cfg.Processing.SkipEncoding {
		ext = "flv"
	}

	if err := u.backend.CheckLogin(ctx); err != nil {
		return fmt.Errorf("destination login check: %w", err)
	}
	u.logger.Info("destination login verified", slog.String("backend", u.backend.Name()))

	now := time.Now()
	candidates, err := u.grouper.ScanCandidates(ctx, u.cfg.Storage.UploadPath(), ext, now)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		u.logger.Info("nothing staged for upload", slog.String("extension", ext))
		return nil
	}

	grouping, err := u.grouper.Group(ctx, u.groupingStreamer(), candidates, now)
	if err != nil {
		return err
	}
	if len(grouping.Unassigned) > 0 {
		names := make([]string, len(grouping.Unassigned))
		for i, c := range grouping.Unassigned {
			names[i] = c.Filename
		}
		// TODO: decide an upload policy for recordings outside any
		// session window.
		u.logger.Warn("recordings match no session window, leaving them staged",
			slog.Int("count", len(names)),
			slog.String("files", strings.Join(names, ", ")))
	}

	var uploaded, failed int
	for _, bucket := range grouping.Buckets {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		plan, err := u.grouper.PlanBucket(ctx, bucket, now)
		if err != nil {
			u.logger.Error("planning bucket failed",
				slog.String("session_id", bucket.Session.ID.String()),
				slog.String("error", err.Error()))
			failed++
			continue
		}

		switch plan.Action {
		case ActionSkipPending:
			u.logger.Info("window has an upload awaiting its bvid, skipping bucket",
				slog.String("session_id", bucket.Session.ID.String()),
				slog.Int("files", len(bucket.Files)))
		case ActionAppend:
			up, fail := u.appendParts(ctx, bucket, plan)
			uploaded += up
			failed += fail
		case ActionCreate:
			if err := u.create(ctx, bucket, tmpl); err != nil {
				u.logger.Error("create failed",
					slog.String("session_id", bucket.Session.ID.String()),
					slog.String("error", err.Error()))
				failed++
			} else {
				uploaded++
			}
		}
	}

	u.logger.Info("upload pass finished",
		slog.Int("candidates", len(candidates)),
		slog.Int("uploaded", uploaded),
		slog.Int("failed", failed))
	return nil
}

// groupingStreamer names the session owner artifacts are matched against.
func (u *Uploader) groupingStreamer() string {
	if s := u.cfg.Douyu.DefaultStreamer; s != "" {
		return s
	}
	return u.cfg.Douyu.ActiveStreamers()[0].Name
}

// create submits the bucket's first file as a new work. Remaining files
// deliberately wait for the next pass so one run never both creates and
// appends against the same work.
func (u *Uploader) create(ctx context.Context, bucket *Bucket, tmpl *Template) error {
	first := bucket.Files[0]
	title := u.buildTitle(tmpl, first.Timestamp, len(bucket.Files))
	logger := u.logger.With(
		slog.String("file", first.Filename),
		slog.String("title", title))

	spec := tmpl.Submission(title)
	if spec.Cover != "" {
		cover, err := PrepareCover(spec.Cover)
		if err != nil {
			logger.Warn("preparing cover failed, submitting without one",
				slog.String("error", err.Error()))
			spec.Cover = ""
		} else {
			spec.Cover = cover
		}
	}

	logger.Info("creating new submission")
	bvid, err := u.backend.Create(ctx, first.Path, spec)
	if err != nil {
		return err
	}

	video := &models.UploadedVideo{
		Title:             title,
		FirstPartFilename: first.Filename,
		UploadTime:        first.Timestamp,
	}
	if bvid != "" {
		video.Bvid = &bvid
	}
	if err := u.videos.Create(ctx, video); err != nil {
		return fmt.Errorf("recording upload of %s: %w", first.Filename, err)
	}
	if bvid != "" {
		logger.Info("submission recorded", slog.String("bvid", bvid))
	} else {
		logger.Info("submission recorded, bvid not yet known")
	}

	// The row is durable; the artifact may go now.
	u.applyDeletionPolicy(first.Path, logger)

	if bvid == "" && u.backend.BvidSource() == BvidAsynchronous {
		discovered, err := u.discoverBvid(ctx, title)
		if err != nil {
			logger.Warn("bvid not discovered yet, backfill will retry",
				slog.String("error", err.Error()))
		} else if err := u.videos.SetBvid(ctx, video.ID, discovered); err != nil {
			logger.Error("recording discovered bvid failed",
				slog.String("bvid", discovered),
				slog.String("error", err.Error()))
		} else {
			logger.Info("bvid discovered", slog.String("bvid", discovered))
		}
	}

	if len(bucket.Files) > 1 {
		logger.Info("remaining bucket files append on the next pass",
			slog.Int("remaining", len(bucket.Files)-1))
	}
	return nil
}

// appendParts adds every bucket file to the planned work, re-checking the
// filename idempotency key before each append.
func (u *Uploader) appendParts(ctx context.Context, bucket *Bucket, plan *Plan) (uploaded, failed int) {
	logger := u.logger.With(slog.String("bvid", plan.Bvid))
	part := plan.NextPart

	for _, file := range bucket.Files {
		if ctx.Err() != nil {
			return uploaded, failed
		}

		existing, err := u.videos.GetByFilename(ctx, file.Filename)
		if err != nil {
			logger.Error("checking upload ledger failed, leaving bucket for the next pass",
				slog.String("error", err.Error()))
			failed++
			return uploaded, failed
		}
		if existing != nil {
			logger.Info("already in the upload ledger, skipping",
				slog.String("file", file.Filename))
			continue
		}

		partTitle := u.buildPartTitle(part, file.Timestamp)
		part++
		logger.Info("appending part",
			slog.String("file", file.Filename),
			slog.String("part_title", partTitle))

		if err := u.appendWithCooldown(ctx, file.Path, plan.Bvid, partTitle); err != nil {
			logger.Error("append failed",
				slog.String("file", file.Filename),
				slog.String("error", err.Error()))
			failed++
			continue
		}

		row := &models.UploadedVideo{
			Title:             partTitle + partTitleTag,
			FirstPartFilename: file.Filename,
			UploadTime:        file.Timestamp,
		}
		if err := u.videos.Create(ctx, row); err != nil {
			logger.Error("recording appended part failed, keeping the file",
				slog.String("file", file.Filename),
				slog.String("error", err.Error()))
			failed++
			continue
		}
		u.applyDeletionPolicy(file.Path, logger)
		uploaded++
	}
	return uploaded, failed
}

// appendWithCooldown retries a rate-limited append after the configured
// cooldown; other failures are final.
func (u *Uploader) appendWithCooldown(ctx context.Context, path, bvid, partTitle string) error {
	retries := max(u.cfg.Upload.RateLimitMaxRetries, 0)
	return retry.Do(
		func() error { return u.backend.Append(ctx, path, bvid, partTitle) },
		retry.RetryIf(func(err error) bool { return errors.Is(err, ErrRateLimited) }),
		retry.Attempts(uint(retries)+1),
		retry.Delay(u.cfg.Upload.RateLimitCooldown),
		retry.DelayType(retry.FixedDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			u.logger.Warn("rate limited by destination, cooling down",
				slog.Uint64("attempt", uint64(n)+1),
				slog.Duration("cooldown", u.cfg.Upload.RateLimitCooldown))
		}),
	)
}

// discoverBvid polls the submission listing for a work whose title
// matches exactly. The destination needs time to ingest the upload, so
// the first poll waits settleWait.
func (u *Uploader) discoverBvid(ctx context.Context, title string) (string, error) {
	lister, ok := u.backend.(SubmissionLister)
	if !ok {
		return "", fmt.Errorf("backend %s cannot list submissions", u.backend.Name())
	}

	u.logger.Info("waiting for destination ingest before bvid discovery",
		slog.Duration("wait", u.settleWait))
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(u.settleWait):
	}

	return retry.DoWithData(func() (string, error) {
		subs, err := lister.ListSubmissions(ctx, bvidPollStatus, bvidPollSize)
		if err != nil {
			return "", err
		}
		for _, sub := range subs {
			if sub.Title == title && models.IsValidBvid(sub.Bvid) {
				return sub.Bvid, nil
			}
		}
		return "", fmt.Errorf("title %q not in submission listing yet", title)
	},
		retry.Attempts(bvidPollAttempts),
		retry.Delay(u.pollDelay),
		retry.DelayType(retry.FixedDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
}

// buildTitle renders the submission title: {time} becomes the recording
// date as YYYY年MM月DD日; templates without the placeholder get a
// collection marker when the bucket holds several files. The mode suffix
// is always appended.
func (u *Uploader) buildTitle(tmpl *Template, ts time.Time, fileCount int) string {
	title := tmpl.Title
	if tmpl.HasTimePlaceholder() {
		title = strings.ReplaceAll(title, "{time}", ts.Format("2006年01月02日"))
	} else if fileCount > 1 {
		title = fmt.Sprintf("%s (合集 %s)", title, ts.Format("2006-01-02"))
	}
	return title + " " + u.titleSuffix()
}

// buildPartTitle numbers an appended file.
func (u *Uploader) buildPartTitle(part int, ts time.Time) string {
	return fmt.Sprintf("P%d %s %s", part, ts.Format("15:04:05"), u.titleSuffix())
}

// titleSuffix tells viewers whether the chat overlay is burned in.
func (u *Uploader) titleSuffix() string {
	if u.cfg.Processing.SkipEncoding {
		return u.cfg.Upload.NoDanmakuTitleSuffix
	}
	return u.cfg.Upload.DanmakuTitleSuffix
}

// applyDeletionPolicy removes an uploaded artifact right away when
// immediate deletion is configured. Deferred deletion belongs to the
// retention sweeper; either way the ledger row is already durable.
func (u *Uploader) applyDeletionPolicy(path string, logger *slog.Logger) {
	if !u.cfg.Processing.DeleteUploadedFiles || u.cfg.Processing.DeleteUploadedFilesDelay > 0 {
		return
	}
	if err := os.Remove(path); err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("removing uploaded artifact failed",
				slog.String("error", err.Error()))
		}
		return
	}
	logger.Info("removed uploaded artifact", slog.String("file", filepath.Base(path)))
}
