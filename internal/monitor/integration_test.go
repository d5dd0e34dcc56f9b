//go:build integration

package monitor

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pauljones0/story-monitor/internal/aggregator"
	"github.com/pauljones0/story-monitor/internal/browser"
	"github.com/pauljones0/story-monitor/internal/models"
	"github.com/pauljones0/story-monitor/internal/scraper"
	"github.com/pauljones0/story-monitor/internal/storage"
)

// countingAggregator signals every committed Apply.
type countingAggregator struct {
	next    *aggregator.Aggregator
	applied chan models.ApplyResult
}

func (c *countingAggregator) Apply(ctx context.Context, account models.Account, date string, ext models.Extraction) (models.ApplyResult, error) {
	res, err := c.next.Apply(ctx, account, date, ext)
	if err == nil {
		select {
		case c.applied <- res:
		default:
		}
	}
	return res, err
}

// Integration test that wires the static browser against an HTTP server,
// the real extractor and aggregator, and an in-memory SQLite store.
func TestIntegration_FullPipeline(t *testing.T) {
	var cycle atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>feed</body></html>`)
	})
	mux.HandleFunc("/alice/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/stories/alice/"><canvas height="77" width="77"></canvas></a></body></html>`)
	})
	mux.HandleFunc("/stories/alice/", func(w http.ResponseWriter, r *http.Request) {
		extra := ""
		if cycle.Add(1) > 1 {
			extra = `<li><div><a href="/dave/" role="link">dave</a></div><span aria-label="Like"></span></li>`
		}
		fmt.Fprintf(w, `<html><body>
			<button aria-controls="viewers">Seen by 3</button>
			<ul id="viewers" hidden>
				<li><div><a href="/bob/" role="link">bob</a></div><span aria-label="Like"></span></li>
				<li><div><a href="/carol/" role="link">carol</a></div></li>
				<li><div><a href="/alice/" role="link">alice</a></div></li>
				%s
			</ul>
		</body></html>`, extra)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	defer store.Close()

	agg := &countingAggregator{next: aggregator.New(store), applied: make(chan models.ApplyResult, 8)}
	launcher := &browser.StaticLauncher{AllowedDomains: []string{"127.0.0.1"}}
	extractor := scraper.New(scraper.DefaultSelectors(), scraper.Options{PlatformBaseURL: server.URL})

	account := models.Account{ID: "acct-1", Handle: "alice"}
	m := New("u1", account, Deps{Launcher: launcher, Extractor: extractor, Aggregator: agg}, Options{
		PlatformBaseURL: server.URL,
		CheckInterval:   10 * time.Millisecond,
		RetryBackoff:    10 * time.Millisecond,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(context.Background()) }()

	var results []models.ApplyResult
	for len(results) < 3 {
		select {
		case res := <-agg.applied:
			results = append(results, res)
		case <-time.After(5 * time.Second):
			t.Fatalf("Timed out after %d aggregations", len(results))
		}
	}
	m.Stop()
	if err := <-errCh; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if results[0].NewViews != 2 || results[0].NewLikes != 1 {
		t.Errorf("First cycle = %+v, want 2 views 1 like", results[0])
	}
	if results[1].NewViews != 1 || results[1].NewLikes != 1 {
		t.Errorf("Second cycle = %+v, want dave's view and like only", results[1])
	}
	if results[2].HasActivity() {
		t.Errorf("Third cycle should add nothing, got %+v", results[2])
	}

	sum, err := store.Summary(context.Background(), account.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sum != (models.Summary{Stories: 1, UniqueViewers: 3, TotalViews: 3, TotalLikes: 2}) {
		t.Errorf("Summary = %+v", sum)
	}
}
