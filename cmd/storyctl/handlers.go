package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/pauljones0/story-monitor/internal/config"
	"github.com/pauljones0/story-monitor/internal/models"
	"github.com/pauljones0/story-monitor/internal/storage"
)

type reportOptions struct {
	account string
	json    bool
}

type reports interface {
	RecentStoryDays(ctx context.Context, accountID string, n int) ([]models.StoryDay, error)
	TopViewers(ctx context.Context, accountID string, n int) ([]models.ViewerProfile, error)
	Summary(ctx context.Context, accountID string) (models.Summary, error)
}

// withStore opens the configured store for the duration of fn.
func withStore(ctx context.Context, fn func(reports) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	target := cfg.DatabaseURL
	if cfg.StorageBackend == storage.BackendFirestore {
		target = cfg.ProjectID
	}
	store, err := storage.Open(ctx, cfg.StorageBackend, target)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	return fn(store)
}

func runStories(ctx context.Context, r reports, out io.Writer, opts reportOptions, limit int) error {
	days, err := r.RecentStoryDays(ctx, opts.account, limit)
	if err != nil {
		return fmt.Errorf("list stories: %w", err)
	}
	if opts.json {
		return encodeJSON(out, days)
	}
	if len(days) == 0 {
		fmt.Fprintln(out, "no stories recorded for", opts.account)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tVIEWS\tLIKES\tREPORTED\tLAST CHECKED")
	for _, d := range days {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n",
			d.Date, d.TotalViews, d.TotalLikes, d.ReportedViews,
			d.LastChecked.Format(time.RFC3339))
	}
	return w.Flush()
}

func runViewers(ctx context.Context, r reports, out io.Writer, opts reportOptions, limit int) error {
	viewers, err := r.TopViewers(ctx, opts.account, limit)
	if err != nil {
		return fmt.Errorf("list viewers: %w", err)
	}
	if opts.json {
		return encodeJSON(out, viewers)
	}
	if len(viewers) == 0 {
		fmt.Fprintln(out, "no viewers recorded for", opts.account)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "HANDLE\tVIEWS\tLIKES\tFIRST SEEN\tLAST SEEN")
	for _, v := range viewers {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n",
			v.Handle, v.TotalViews, v.TotalLikes,
			v.FirstSeen.Format(models.DateLayout), v.LastSeen.Format(models.DateLayout))
	}
	return w.Flush()
}

func runSummary(ctx context.Context, r reports, out io.Writer, opts reportOptions) error {
	sum, err := r.Summary(ctx, opts.account)
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}
	if opts.json {
		return encodeJSON(out, sum)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Stories\t%d\n", sum.Stories)
	fmt.Fprintf(w, "Unique viewers\t%d\n", sum.UniqueViewers)
	fmt.Fprintf(w, "Total views\t%d\n", sum.TotalViews)
	fmt.Fprintf(w, "Total likes\t%d\n", sum.TotalLikes)
	return w.Flush()
}

func encodeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
