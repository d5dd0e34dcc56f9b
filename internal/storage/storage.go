// Package storage persists story days, viewer profiles and observations.
//
// Lookups return nil, nil when a record does not exist. All mutation goes
// through RunInTx so an aggregation commits or fails as a unit.
package storage

import (
	"context"
	"fmt"

	"github.com/pauljones0/story-monitor/internal/models"
)

// Tx is the transactional view used by the aggregator. Implementations may
// re-run the enclosing function, so callers must not keep state across
// attempts.
type Tx interface {
	StoryDay(ctx context.Context, accountID, date string) (*models.StoryDay, error)
	SaveStoryDay(ctx context.Context, day *models.StoryDay) error
	Viewer(ctx context.Context, accountID, handle string) (*models.ViewerProfile, error)
	SaveViewer(ctx context.Context, viewer *models.ViewerProfile) error
	Observation(ctx context.Context, storyDayID, viewerID string) (*models.Observation, error)
	SaveObservation(ctx context.Context, obs *models.Observation) error
	// CountObservations reports how many observations of the story day are
	// viewed and liked, including writes made earlier in this transaction.
	CountObservations(ctx context.Context, storyDayID string) (views, likes int, err error)
}

// Store is the durable storage contract.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// RecentStoryDays returns up to n story days, newest first.
	RecentStoryDays(ctx context.Context, accountID string, n int) ([]models.StoryDay, error)
	// TopViewers returns up to n viewers ordered by lifetime views.
	TopViewers(ctx context.Context, accountID string, n int) ([]models.ViewerProfile, error)
	Summary(ctx context.Context, accountID string) (models.Summary, error)
	Close() error
}

// Backend names accepted by Open.
const (
	BackendSQLite    = "sqlite"
	BackendFirestore = "firestore"
)

// Open returns the store for a backend. target is the database URL for
// sqlite and the project ID for firestore.
func Open(ctx context.Context, backend, target string) (Store, error) {
	switch backend {
	case BackendSQLite:
		return NewSQLite(target)
	case BackendFirestore:
		return NewFirestore(ctx, target)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
