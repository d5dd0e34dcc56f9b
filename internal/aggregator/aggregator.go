// Package aggregator folds extractions into per-day and per-viewer counters.
//
// Counting is idempotent per (story day, viewer): repeated sightings of the
// same viewer on the same day never increment lifetime counters twice.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pauljones0/story-monitor/internal/models"
	"github.com/pauljones0/story-monitor/internal/storage"
)

// ErrAggregation wraps any storage failure during Apply. Nothing from the
// failed call is persisted.
var ErrAggregation = errors.New("aggregation failed")

type Aggregator struct {
	store storage.Store
	now   func() time.Time
}

func New(store storage.Store) *Aggregator {
	return &Aggregator{store: store, now: time.Now}
}

// Apply records one extraction for account on date inside a single
// transaction.
func (a *Aggregator) Apply(ctx context.Context, account models.Account, date string, ext models.Extraction) (models.ApplyResult, error) {
	viewers := canonicalHandles(ext.Viewers)
	likers := canonicalHandles(ext.Likers)
	now := a.now()

	var result models.ApplyResult
	err := a.store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		// The store may retry this function; start every attempt clean.
		result = models.ApplyResult{}

		day, err := tx.StoryDay(ctx, account.ID, date)
		if err != nil {
			return err
		}
		if day == nil {
			day = &models.StoryDay{
				ID:        models.StoryDayID(account.ID, date),
				AccountID: account.ID,
				Date:      date,
				CreatedAt: now,
			}
		}
		day.LastChecked = now
		if ext.ReportedViews > 0 {
			day.ReportedViews = ext.ReportedViews
		}
		if err := tx.SaveStoryDay(ctx, day); err != nil {
			return err
		}

		for _, handle := range viewers {
			counted, err := recordView(ctx, tx, account.ID, day.ID, handle, now)
			if err != nil {
				return err
			}
			if counted {
				result.NewViews++
			}
		}

		for _, handle := range likers {
			counted, err := recordLike(ctx, tx, account.ID, day.ID, handle, now)
			if err != nil {
				return err
			}
			if counted {
				result.NewLikes++
			}
		}

		views, likes, err := tx.CountObservations(ctx, day.ID)
		if err != nil {
			return err
		}
		day.TotalViews = views
		day.TotalLikes = likes
		if err := tx.SaveStoryDay(ctx, day); err != nil {
			return err
		}

		result.StoryDay = *day
		return nil
	})
	if err != nil {
		return models.ApplyResult{}, fmt.Errorf("%w for %s on %s: %w", ErrAggregation, account.ID, date, err)
	}

	slog.Info("Aggregated story",
		"account", account.ID,
		"date", date,
		"new_views", result.NewViews,
		"new_likes", result.NewLikes,
		"total_views", result.StoryDay.TotalViews,
		"total_likes", result.StoryDay.TotalLikes,
	)
	return result, nil
}

// recordView ensures a viewed observation exists and reports whether this
// was the first time the viewer was counted for the day.
func recordView(ctx context.Context, tx storage.Tx, accountID, dayID, handle string, now time.Time) (bool, error) {
	viewer, err := tx.Viewer(ctx, accountID, handle)
	if err != nil {
		return false, err
	}
	if viewer == nil {
		viewer = &models.ViewerProfile{
			ID:        models.ViewerID(accountID, handle),
			AccountID: accountID,
			Handle:    handle,
			FirstSeen: now,
		}
	}
	viewer.LastSeen = now

	obs, err := tx.Observation(ctx, dayID, viewer.ID)
	if err != nil {
		return false, err
	}
	counted := false
	if obs == nil {
		obs = &models.Observation{
			StoryDayID:    dayID,
			ViewerID:      viewer.ID,
			FirstDetected: now,
		}
	}
	if !obs.Viewed {
		obs.Viewed = true
		viewer.TotalViews++
		counted = true
	}
	obs.LastUpdated = now

	if err := tx.SaveViewer(ctx, viewer); err != nil {
		return false, err
	}
	if err := tx.SaveObservation(ctx, obs); err != nil {
		return false, err
	}
	return counted, nil
}

// recordLike marks an existing observation liked. Likers never seen as
// viewers on this day are skipped.
func recordLike(ctx context.Context, tx storage.Tx, accountID, dayID, handle string, now time.Time) (bool, error) {
	viewer, err := tx.Viewer(ctx, accountID, handle)
	if err != nil {
		return false, err
	}
	if viewer == nil {
		slog.Debug("Skipping like from unknown viewer", "account", accountID, "handle", handle)
		return false, nil
	}
	obs, err := tx.Observation(ctx, dayID, viewer.ID)
	if err != nil {
		return false, err
	}
	if obs == nil {
		slog.Debug("Skipping like without a view on this day", "account", accountID, "handle", handle)
		return false, nil
	}
	if obs.Liked {
		return false, nil
	}

	obs.Liked = true
	obs.LastUpdated = now
	viewer.TotalLikes++
	if err := tx.SaveViewer(ctx, viewer); err != nil {
		return false, err
	}
	if err := tx.SaveObservation(ctx, obs); err != nil {
		return false, err
	}
	return true, nil
}

// canonicalHandles lowercases handles, drops blanks and removes duplicates
// while keeping first-occurrence order.
func canonicalHandles(handles []string) []string {
	seen := make(map[string]bool, len(handles))
	out := make([]string, 0, len(handles))
	for _, h := range handles {
		h = strings.ToLower(models.NormalizeHandle(h))
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}
