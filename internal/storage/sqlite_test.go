package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/pauljones0/story-monitor/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedDay(t *testing.T, s *SQLiteStore, account, date string, views, likes int) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.SaveStoryDay(ctx, &models.StoryDay{
			ID:          models.StoryDayID(account, date),
			AccountID:   account,
			Date:        date,
			TotalViews:  views,
			TotalLikes:  likes,
			CreatedAt:   now,
			LastChecked: now,
		})
	})
	if err != nil {
		t.Fatal(err)
	}
}

func seedViewer(t *testing.T, s *SQLiteStore, account, handle string, views, likes int) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.SaveViewer(ctx, &models.ViewerProfile{
			ID:         models.ViewerID(account, handle),
			AccountID:  account,
			Handle:     handle,
			TotalViews: views,
			TotalLikes: likes,
			FirstSeen:  now,
			LastSeen:   now,
		})
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestSQLiteTx_MissingRecords(t *testing.T) {
	s := newTestStore(t)
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
		day, err := tx.StoryDay(ctx, "acct", "2026-03-01")
		if err != nil || day != nil {
			t.Errorf("StoryDay() = %v, %v; want nil, nil", day, err)
		}
		v, err := tx.Viewer(ctx, "acct", "bob")
		if err != nil || v != nil {
			t.Errorf("Viewer() = %v, %v; want nil, nil", v, err)
		}
		obs, err := tx.Observation(ctx, "day", "viewer")
		if err != nil || obs != nil {
			t.Errorf("Observation() = %v, %v; want nil, nil", obs, err)
		}
		views, likes, err := tx.CountObservations(ctx, "day")
		if err != nil || views != 0 || likes != 0 {
			t.Errorf("CountObservations() = %d, %d, %v", views, likes, err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestSQLiteTx_RoundTripAndUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedDay(t, s, "acct", "2026-03-01", 0, 0)
	seedViewer(t, s, "acct", "bob", 1, 0)
	dayID := models.StoryDayID("acct", "2026-03-01")
	viewerID := models.ViewerID("acct", "bob")
	detected := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.SaveObservation(ctx, &models.Observation{
			StoryDayID: dayID, ViewerID: viewerID, Viewed: true,
			FirstDetected: detected, LastUpdated: detected,
		}); err != nil {
			return err
		}
		// Upsert flips liked and keeps first_detected.
		return tx.SaveObservation(ctx, &models.Observation{
			StoryDayID: dayID, ViewerID: viewerID, Viewed: true, Liked: true,
			FirstDetected: detected.Add(time.Hour), LastUpdated: detected.Add(time.Hour),
		})
	})
	if err != nil {
		t.Fatalf("RunInTx() error = %v", err)
	}

	err = s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		obs, err := tx.Observation(ctx, dayID, viewerID)
		if err != nil {
			return err
		}
		if obs == nil || !obs.Viewed || !obs.Liked {
			t.Fatalf("Observation() = %+v", obs)
		}
		if !obs.FirstDetected.Equal(detected) {
			t.Errorf("FirstDetected = %v, want %v", obs.FirstDetected, detected)
		}
		if !obs.LastUpdated.Equal(detected.Add(time.Hour)) {
			t.Errorf("LastUpdated = %v, want %v", obs.LastUpdated, detected.Add(time.Hour))
		}

		views, likes, err := tx.CountObservations(ctx, dayID)
		if err != nil {
			return err
		}
		if views != 1 || likes != 1 {
			t.Errorf("CountObservations() = %d, %d, want 1, 1", views, likes)
		}

		v, err := tx.Viewer(ctx, "acct", "bob")
		if err != nil {
			return err
		}
		if v == nil || v.ID != viewerID || v.TotalViews != 1 {
			t.Errorf("Viewer() = %+v", v)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestSQLiteStore_RollbackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		now := time.Now()
		if err := tx.SaveStoryDay(ctx, &models.StoryDay{
			ID: models.StoryDayID("acct", "2026-03-02"), AccountID: "acct", Date: "2026-03-02",
			CreatedAt: now, LastChecked: now,
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTx() error = %v, want %v", err, boom)
	}

	days, err := s.RecentStoryDays(ctx, "acct", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(days) != 0 {
		t.Errorf("Expected rollback to discard the story day, got %d", len(days))
	}
}

func TestSQLiteStore_ReadAccessors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 9; i++ {
		seedDay(t, s, "acct", fmt.Sprintf("2026-03-%02d", i), i, i%2)
	}
	seedDay(t, s, "other", "2026-03-10", 100, 100)
	seedViewer(t, s, "acct", "carol", 5, 1)
	seedViewer(t, s, "acct", "bob", 5, 1)
	seedViewer(t, s, "acct", "dave", 9, 0)
	seedViewer(t, s, "acct", "erin", 5, 3)
	seedViewer(t, s, "other", "zed", 50, 50)

	days, err := s.RecentStoryDays(ctx, "acct", 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(days) != 7 {
		t.Fatalf("Expected 7 story days, got %d", len(days))
	}
	if days[0].Date != "2026-03-09" || days[6].Date != "2026-03-03" {
		t.Errorf("Expected newest first, got %s .. %s", days[0].Date, days[6].Date)
	}
	if days[0].ID != models.StoryDayID("acct", "2026-03-09") {
		t.Errorf("Unexpected ID %s", days[0].ID)
	}

	viewers, err := s.TopViewers(ctx, "acct", 10)
	if err != nil {
		t.Fatal(err)
	}
	var handles []string
	for _, v := range viewers {
		handles = append(handles, v.Handle)
	}
	want := []string{"dave", "erin", "bob", "carol"}
	if fmt.Sprint(handles) != fmt.Sprint(want) {
		t.Errorf("TopViewers() order = %v, want %v", handles, want)
	}

	sum, err := s.Summary(ctx, "acct")
	if err != nil {
		t.Fatal(err)
	}
	wantSum := models.Summary{Stories: 9, UniqueViewers: 4, TotalViews: 45, TotalLikes: 5}
	if sum != wantSum {
		t.Errorf("Summary() = %+v, want %+v", sum, wantSum)
	}

	empty, err := s.Summary(ctx, "nobody")
	if err != nil {
		t.Fatal(err)
	}
	if empty != (models.Summary{}) {
		t.Errorf("Expected zero summary, got %+v", empty)
	}
}

func TestNewSQLite_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stories.db")
	s, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	seedDay(t, s, "acct", "2026-03-01", 1, 0)
	s.Close()

	reopened, err := NewSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	days, err := reopened.RecentStoryDays(context.Background(), "acct", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(days) != 1 {
		t.Errorf("Expected persisted story day, got %d", len(days))
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), "mongo", ""); err == nil {
		t.Error("Expected error for unknown backend")
	}
}
