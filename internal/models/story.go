package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// DateLayout is the day granularity used for story dates.
const DateLayout = "2006-01-02"

// Account is the monitored identity.
type Account struct {
	ID     string `json:"id" validate:"required"`
	Handle string `json:"handle" validate:"required,handle"`
}

// StoryDay aggregates one calendar day of story activity for an account.
// TotalViews and TotalLikes are derived from the day's observations.
type StoryDay struct {
	ID            string    `db:"id" firestore:"-" json:"id"`
	AccountID     string    `db:"account_id" firestore:"accountID" json:"account_id"`
	Date          string    `db:"story_date" firestore:"storyDate" json:"date"`
	TotalViews    int       `db:"total_views" firestore:"totalViews" json:"views"`
	TotalLikes    int       `db:"total_likes" firestore:"totalLikes" json:"likes"`
	ReportedViews int       `db:"reported_views" firestore:"reportedViews" json:"reported_views"`
	CreatedAt     time.Time `db:"created_at" firestore:"createdAt" json:"created_at"`
	LastChecked   time.Time `db:"last_checked" firestore:"lastChecked" json:"last_checked"`
}

// ViewerProfile is a distinct viewer handle with lifetime counters.
type ViewerProfile struct {
	ID         string    `db:"id" firestore:"-" json:"id"`
	AccountID  string    `db:"account_id" firestore:"accountID" json:"account_id"`
	Handle     string    `db:"handle" firestore:"handle" json:"handle"`
	TotalViews int       `db:"total_views" firestore:"totalViews" json:"views"`
	TotalLikes int       `db:"total_likes" firestore:"totalLikes" json:"likes"`
	FirstSeen  time.Time `db:"first_seen" firestore:"firstSeen" json:"first_seen"`
	LastSeen   time.Time `db:"last_seen" firestore:"lastSeen" json:"last_seen"`
}

// Observation records one viewer's state on one story day. There is exactly
// one per (StoryDayID, ViewerID).
type Observation struct {
	StoryDayID    string    `db:"story_day_id" firestore:"storyDayID"`
	ViewerID      string    `db:"viewer_id" firestore:"viewerID"`
	Viewed        bool      `db:"viewed" firestore:"viewed"`
	Liked         bool      `db:"liked" firestore:"liked"`
	FirstDetected time.Time `db:"first_detected" firestore:"firstDetected"`
	LastUpdated   time.Time `db:"last_updated" firestore:"lastUpdated"`
}

// Extraction is the structured result of reading one story viewer panel.
type Extraction struct {
	Viewers       []string
	Likers        []string
	ReportedViews int
}

// Empty reports whether no viewer was extracted.
func (e Extraction) Empty() bool {
	return len(e.Viewers) == 0
}

// ApplyResult describes what a committed aggregation changed.
type ApplyResult struct {
	StoryDay StoryDay
	NewViews int
	NewLikes int
}

// HasActivity reports whether the aggregation counted anything new.
func (r ApplyResult) HasActivity() bool {
	return r.NewViews > 0 || r.NewLikes > 0
}

// Summary is the lifetime analytics view for an account.
type Summary struct {
	Stories       int `json:"stories"`
	UniqueViewers int `json:"unique_viewers"`
	TotalViews    int `json:"total_views"`
	TotalLikes    int `json:"total_likes"`
}

// StoryDayID derives the stable identity of an account's story day.
func StoryDayID(accountID, date string) string {
	return hashKey("story", accountID, date)
}

// ViewerID derives the stable identity of a viewer handle for an account.
func ViewerID(accountID, handle string) string {
	return hashKey("viewer", accountID, handle)
}

func hashKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
