package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/tursodatabase/libsql-client-go/libsql" // remote libsql/Turso driver
	_ "modernc.org/sqlite"                               // local SQLite driver

	"github.com/pauljones0/story-monitor/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS story_days (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	story_date TEXT NOT NULL,
	total_views INTEGER NOT NULL DEFAULT 0,
	total_likes INTEGER NOT NULL DEFAULT 0,
	reported_views INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	last_checked DATETIME NOT NULL,
	UNIQUE(account_id, story_date)
);
CREATE INDEX IF NOT EXISTS idx_story_days_account_date ON story_days(account_id, story_date DESC);

CREATE TABLE IF NOT EXISTS viewers (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	handle TEXT NOT NULL,
	total_views INTEGER NOT NULL DEFAULT 0,
	total_likes INTEGER NOT NULL DEFAULT 0,
	first_seen DATETIME NOT NULL,
	last_seen DATETIME NOT NULL,
	UNIQUE(account_id, handle)
);
CREATE INDEX IF NOT EXISTS idx_viewers_account_views ON viewers(account_id, total_views DESC);

CREATE TABLE IF NOT EXISTS observations (
	story_day_id TEXT NOT NULL REFERENCES story_days(id),
	viewer_id TEXT NOT NULL REFERENCES viewers(id),
	viewed BOOLEAN NOT NULL DEFAULT 0,
	liked BOOLEAN NOT NULL DEFAULT 0,
	first_detected DATETIME NOT NULL,
	last_updated DATETIME NOT NULL,
	PRIMARY KEY(story_day_id, viewer_id)
);
`

// SQLiteStore implements Store on a local SQLite file or a remote libsql
// database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLite opens dbURL and runs migrations. libsql:// and wss:// URLs use
// the libsql driver; anything else is a local path or ":memory:".
func NewSQLite(dbURL string) (*SQLiteStore, error) {
	driverName, dsn := "sqlite", dbURL
	if strings.Contains(dbURL, "libsql://") || strings.Contains(dbURL, "wss://") {
		driverName = "libsql"
	} else {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		// Writers take the lock at BEGIN so busy_timeout applies instead of
		// failing a read-to-write upgrade with SQLITE_BUSY.
		dsn += sep + "_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}

	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s %s: %w", driverName, dbURL, err)
	}
	// Every connection to :memory: is a separate database.
	if strings.Contains(dbURL, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dbURL, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(ctx, &sqliteTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecentStoryDays(ctx context.Context, accountID string, n int) ([]models.StoryDay, error) {
	var days []models.StoryDay
	err := s.db.SelectContext(ctx, &days, `
		SELECT * FROM story_days
		WHERE account_id = ?
		ORDER BY story_date DESC
		LIMIT ?`, accountID, n)
	if err != nil {
		return nil, fmt.Errorf("list story days for %s: %w", accountID, err)
	}
	return days, nil
}

func (s *SQLiteStore) TopViewers(ctx context.Context, accountID string, n int) ([]models.ViewerProfile, error) {
	var viewers []models.ViewerProfile
	err := s.db.SelectContext(ctx, &viewers, `
		SELECT * FROM viewers
		WHERE account_id = ?
		ORDER BY total_views DESC, total_likes DESC, handle ASC
		LIMIT ?`, accountID, n)
	if err != nil {
		return nil, fmt.Errorf("list viewers for %s: %w", accountID, err)
	}
	return viewers, nil
}

func (s *SQLiteStore) Summary(ctx context.Context, accountID string) (models.Summary, error) {
	var sum models.Summary
	err := s.db.QueryRowxContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(total_views), 0),
			COALESCE(SUM(total_likes), 0),
			(SELECT COUNT(*) FROM viewers WHERE account_id = ?)
		FROM story_days
		WHERE account_id = ?`, accountID, accountID).
		Scan(&sum.Stories, &sum.TotalViews, &sum.TotalLikes, &sum.UniqueViewers)
	if err != nil {
		return models.Summary{}, fmt.Errorf("summarize %s: %w", accountID, err)
	}
	return sum, nil
}

type sqliteTx struct {
	tx *sqlx.Tx
}

func (t *sqliteTx) StoryDay(ctx context.Context, accountID, date string) (*models.StoryDay, error) {
	var day models.StoryDay
	err := t.tx.GetContext(ctx, &day, "SELECT * FROM story_days WHERE account_id = ? AND story_date = ?", accountID, date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get story day %s/%s: %w", accountID, date, err)
	}
	return &day, nil
}

func (t *sqliteTx) SaveStoryDay(ctx context.Context, day *models.StoryDay) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO story_days (id, account_id, story_date, total_views, total_likes, reported_views, created_at, last_checked)
		VALUES (:id, :account_id, :story_date, :total_views, :total_likes, :reported_views, :created_at, :last_checked)
		ON CONFLICT(id) DO UPDATE SET
			total_views = excluded.total_views,
			total_likes = excluded.total_likes,
			reported_views = excluded.reported_views,
			last_checked = excluded.last_checked`, day)
	if err != nil {
		return fmt.Errorf("save story day %s: %w", day.ID, err)
	}
	return nil
}

func (t *sqliteTx) Viewer(ctx context.Context, accountID, handle string) (*models.ViewerProfile, error) {
	var v models.ViewerProfile
	err := t.tx.GetContext(ctx, &v, "SELECT * FROM viewers WHERE account_id = ? AND handle = ?", accountID, handle)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get viewer %s/%s: %w", accountID, handle, err)
	}
	return &v, nil
}

func (t *sqliteTx) SaveViewer(ctx context.Context, v *models.ViewerProfile) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO viewers (id, account_id, handle, total_views, total_likes, first_seen, last_seen)
		VALUES (:id, :account_id, :handle, :total_views, :total_likes, :first_seen, :last_seen)
		ON CONFLICT(id) DO UPDATE SET
			total_views = excluded.total_views,
			total_likes = excluded.total_likes,
			last_seen = excluded.last_seen`, v)
	if err != nil {
		return fmt.Errorf("save viewer %s: %w", v.Handle, err)
	}
	return nil
}

func (t *sqliteTx) Observation(ctx context.Context, storyDayID, viewerID string) (*models.Observation, error) {
	var obs models.Observation
	err := t.tx.GetContext(ctx, &obs, "SELECT * FROM observations WHERE story_day_id = ? AND viewer_id = ?", storyDayID, viewerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get observation %s/%s: %w", storyDayID, viewerID, err)
	}
	return &obs, nil
}

func (t *sqliteTx) SaveObservation(ctx context.Context, obs *models.Observation) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO observations (story_day_id, viewer_id, viewed, liked, first_detected, last_updated)
		VALUES (:story_day_id, :viewer_id, :viewed, :liked, :first_detected, :last_updated)
		ON CONFLICT(story_day_id, viewer_id) DO UPDATE SET
			viewed = excluded.viewed,
			liked = excluded.liked,
			last_updated = excluded.last_updated`, obs)
	if err != nil {
		return fmt.Errorf("save observation %s/%s: %w", obs.StoryDayID, obs.ViewerID, err)
	}
	return nil
}

func (t *sqliteTx) CountObservations(ctx context.Context, storyDayID string) (int, int, error) {
	var counts struct {
		Views int `db:"views"`
		Likes int `db:"likes"`
	}
	err := t.tx.GetContext(ctx, &counts, `
		SELECT
			COALESCE(SUM(CASE WHEN viewed THEN 1 ELSE 0 END), 0) AS views,
			COALESCE(SUM(CASE WHEN liked THEN 1 ELSE 0 END), 0) AS likes
		FROM observations
		WHERE story_day_id = ?`, storyDayID)
	if err != nil {
		return 0, 0, fmt.Errorf("count observations for %s: %w", storyDayID, err)
	}
	return counts.Views, counts.Likes, nil
}
