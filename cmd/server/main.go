package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/pauljones0/story-monitor/internal/aggregator"
	"github.com/pauljones0/story-monitor/internal/api"
	"github.com/pauljones0/story-monitor/internal/browser"
	"github.com/pauljones0/story-monitor/internal/config"
	"github.com/pauljones0/story-monitor/internal/metrics"
	"github.com/pauljones0/story-monitor/internal/models"
	"github.com/pauljones0/story-monitor/internal/monitor"
	"github.com/pauljones0/story-monitor/internal/notifier"
	"github.com/pauljones0/story-monitor/internal/scraper"
	"github.com/pauljones0/story-monitor/internal/storage"
	"github.com/pauljones0/story-monitor/internal/supervisor"
)

func main() {
	slog.Info("Starting story monitor server...")
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Critical error loading configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	store, err := storage.Open(ctx, cfg.StorageBackend, storageTarget(cfg))
	if err != nil {
		slog.Error("Critical error opening storage", "backend", cfg.StorageBackend, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	launcher, err := browser.NewLauncher(cfg.BrowserDriver, browser.Options{
		Headless:       cfg.BrowserHeadless,
		AllowedDomains: cfg.AllowedDomains,
	})
	if err != nil {
		slog.Error("Critical error creating browser launcher", "error", err)
		os.Exit(1)
	}

	var recorder metrics.Recorder = metrics.Noop{}
	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		provider := metrics.NewProvider(reg)
		recorder = provider
		metricsHandler = provider.Handler()
	}

	extractor := scraper.New(scraper.LoadConfig(cfg.SelectorsPath), scraper.Options{
		PlatformBaseURL:  cfg.PlatformBaseURL,
		PanelSettle:      cfg.PanelSettle,
		NavigationSettle: cfg.NavigationSettle,
	})
	agg := aggregator.New(store)
	n := notifier.New(cfg.DiscordWebhookURL)

	opts := monitor.Options{
		PlatformBaseURL:  cfg.PlatformBaseURL,
		CheckInterval:    cfg.CheckInterval,
		RetryBackoff:     cfg.RetryBackoff,
		NavigationSettle: cfg.NavigationSettle,
		BootstrapSettle:  cfg.BootstrapSettle,
		LaunchRetries:    cfg.LaunchRetries,
		LaunchBackoff:    2 * time.Second,
		NavigationRate:   cfg.NavigationRate,
	}
	sup := supervisor.New(func(userID string, account models.Account) supervisor.Runner {
		return monitor.New(userID, account, monitor.Deps{
			Launcher:   launcher,
			Extractor:  extractor,
			Aggregator: agg,
			Notifier:   n,
			Metrics:    recorder,
		}, opts)
	}, recorder)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.New(sup, store, recorder).Handler(metricsHandler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Listening on port", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		var errs []error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := sup.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server exited with error", "error", err)
		store.Close()
		os.Exit(1)
	}
	slog.Info("Server stopped.")
}

func storageTarget(cfg *config.Config) string {
	if cfg.StorageBackend == storage.BackendFirestore {
		return cfg.ProjectID
	}
	return cfg.DatabaseURL
}
