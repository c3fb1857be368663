package bilibili

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/livarr/livarr/internal/models"
)

// Backfill queries the destination's submission listings and claims bvids
// for ledger rows still missing one. Published entries win over entries
// still publishing when a title appears in both.
const (
	backfillPubedSize  = 20
	backfillPubingSize = 10
)

// Backfill fills in bvids for rows whose submission completed after the
// creating pass gave up waiting. Synchronous backends return the bvid at
// create time, so there is nothing to do for them.
func (u *Uploader) Backfill(ctx context.Context) error {
	if u.backend.BvidSource() == BvidSynchronous {
		u.logger.Debug("backend returns the bvid at create time, skipping backfill",
			slog.String("backend", u.backend.Name()))
		return nil
	}
	lister, ok := u.backend.(SubmissionLister)
	if !ok {
		u.logger.Debug("backend cannot list submissions, skipping backfill",
			slog.String("backend", u.backend.Name()))
		return nil
	}

	missing, err := u.videos.GetMissingBvid(ctx)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		u.logger.Debug("no rows missing a bvid")
		return nil
	}

	if err := u.backend.CheckLogin(ctx); err != nil {
		return fmt.Errorf("destination login check: %w", err)
	}

	pubed, err := lister.ListSubmissions(ctx, "pubed", backfillPubedSize)
	if err != nil {
		return fmt.Errorf("listing published submissions: %w", err)
	}
	pubing, err := lister.ListSubmissions(ctx, "is_pubing", backfillPubingSize)
	if err != nil {
		return fmt.Errorf("listing publishing submissions: %w", err)
	}

	byTitle := make(map[string]string, len(pubed)+len(pubing))
	for _, sub := range pubing {
		byTitle[sub.Title] = sub.Bvid
	}
	for _, sub := range pubed {
		byTitle[sub.Title] = sub.Bvid
	}
	if len(byTitle) == 0 {
		u.logger.Warn("submission listing is empty, nothing to backfill",
			slog.Int("missing", len(missing)))
		return nil
	}

	var updated int
	for _, row := range missing {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bvid, found := byTitle[row.Title]
		if !found || !models.IsValidBvid(bvid) {
			continue
		}
		if err := u.videos.SetBvid(ctx, row.ID, bvid); err != nil {
			if errors.Is(err, models.ErrDuplicateBvid) {
				u.logger.Warn("bvid already claimed by another row",
					slog.String("title", row.Title),
					slog.String("bvid", bvid))
				continue
			}
			u.logger.Error("recording backfilled bvid failed",
				slog.String("title", row.Title),
				slog.String("bvid", bvid),
				slog.String("error", err.Error()))
			continue
		}
		u.logger.Info("backfilled bvid",
			slog.String("title", row.Title),
			slog.String("bvid", bvid))
		updated++
	}

	u.logger.Info("bvid backfill finished",
		slog.Int("missing", len(missing)),
		slog.Int("updated", updated))
	return nil
}
