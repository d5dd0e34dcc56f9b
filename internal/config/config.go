package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/pauljones0/story-monitor/internal/util"
	"github.com/pauljones0/story-monitor/internal/validator"
)

type Config struct {
	Port              string `validate:"required,numeric"`
	StorageBackend    string `validate:"oneof=sqlite firestore"`
	DatabaseURL       string `validate:"required_if=StorageBackend sqlite"`
	ProjectID         string `validate:"required_if=StorageBackend firestore"`
	BrowserDriver     string `validate:"oneof=chromedp playwright static"`
	BrowserHeadless   bool
	PlatformBaseURL   string `validate:"required,url"`
	DiscordWebhookURL string `validate:"omitempty,url"`
	SelectorsPath     string
	LogLevel          slog.Level
	MetricsEnabled    bool

	CheckInterval    time.Duration `validate:"gt=0"`
	RetryBackoff     time.Duration `validate:"gt=0"`
	NavigationSettle time.Duration `validate:"gte=0"`
	PanelSettle      time.Duration `validate:"gte=0"`
	BootstrapSettle  time.Duration `validate:"gte=0"`
	NavigationRate   time.Duration `validate:"gte=0"`
	LaunchRetries    int           `validate:"gte=0,lte=10"`

	AllowedDomains []string `validate:"min=1"`
}

func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	port := getEnv("PORT", "8080")

	storageBackend := strings.ToLower(getEnv("STORAGE_BACKEND", "sqlite"))
	projectID := os.Getenv("GOOGLE_CLOUD_PROJECT")
	if storageBackend == "firestore" && projectID == "" {
		return nil, fmt.Errorf("GOOGLE_CLOUD_PROJECT environment variable is required when STORAGE_BACKEND=firestore")
	}

	discordWebhookURL := os.Getenv("DISCORD_WEBHOOK_URL")
	if discordWebhookURL == "" {
		slog.Info("DISCORD_WEBHOOK_URL not set, story digests will be skipped")
	}

	headless, err := boolEnv("BROWSER_HEADLESS", true)
	if err != nil {
		return nil, err
	}
	metricsEnabled, err := boolEnv("METRICS_ENABLED", true)
	if err != nil {
		return nil, err
	}

	var logLevel slog.Level
	logLevelStr := getEnv("LOG_LEVEL", "info")
	if err := logLevel.UnmarshalText([]byte(logLevelStr)); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", logLevelStr, err)
	}

	cfg := &Config{
		Port:              port,
		StorageBackend:    storageBackend,
		DatabaseURL:       getEnv("DATABASE_URL", "story_monitor.db"),
		ProjectID:         projectID,
		BrowserDriver:     strings.ToLower(getEnv("BROWSER_DRIVER", "chromedp")),
		BrowserHeadless:   headless,
		PlatformBaseURL:   strings.TrimSuffix(getEnv("PLATFORM_BASE_URL", "https://www.instagram.com"), "/"),
		DiscordWebhookURL: discordWebhookURL,
		SelectorsPath:     os.Getenv("SELECTORS_CONFIG_PATH"),
		LogLevel:          logLevel,
		MetricsEnabled:    metricsEnabled,
		AllowedDomains:    []string{"instagram.com", "cdninstagram.com"},
	}

	durations := []struct {
		key  string
		def  string
		dest *time.Duration
	}{
		{"CHECK_INTERVAL", "5m", &cfg.CheckInterval},
		{"RETRY_BACKOFF", "1m", &cfg.RetryBackoff},
		{"NAVIGATION_SETTLE", "3s", &cfg.NavigationSettle},
		{"PANEL_SETTLE", "3s", &cfg.PanelSettle},
		{"BOOTSTRAP_SETTLE", "5s", &cfg.BootstrapSettle},
		{"NAVIGATION_RATE", "1s", &cfg.NavigationRate},
	}
	for _, d := range durations {
		v, err := durationEnv(d.key, d.def)
		if err != nil {
			return nil, err
		}
		*d.dest = v
	}

	cfg.LaunchRetries = 2
	if v := os.Getenv("LAUNCH_RETRIES"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid LAUNCH_RETRIES %q: %w", v, err)
		}
		cfg.LaunchRetries = parsed
	}

	if extra := os.Getenv("ALLOWED_DOMAINS"); extra != "" {
		for _, d := range strings.Split(extra, ",") {
			if d = strings.TrimSpace(d); d != "" {
				cfg.AllowedDomains = append(cfg.AllowedDomains, d)
			}
		}
	}
	// The platform itself must always be navigable.
	if host := strings.TrimPrefix(util.Hostname(cfg.PlatformBaseURL), "www."); host != "" && !slices.Contains(cfg.AllowedDomains, host) {
		cfg.AllowedDomains = append(cfg.AllowedDomains, host)
	}

	if err := validator.New().ValidateStruct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func durationEnv(key, fallback string) (time.Duration, error) {
	raw := getEnv(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return b, nil
}
