package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	// Set test environment variables (auto-cleaned up after test)
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "file:test.db")
	t.Setenv("DISCORD_WEBHOOK_URL", "https://test.webhook/api")
	t.Setenv("BROWSER_DRIVER", "Playwright")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Expected 9090, got %s", cfg.Port)
	}
	if cfg.DatabaseURL != "file:test.db" {
		t.Errorf("Expected file:test.db, got %s", cfg.DatabaseURL)
	}
	if cfg.BrowserDriver != "playwright" {
		t.Errorf("Expected lowercased driver playwright, got %s", cfg.BrowserDriver)
	}
	if cfg.StorageBackend != "sqlite" {
		t.Errorf("Expected default sqlite backend, got %s", cfg.StorageBackend)
	}
	if cfg.CheckInterval != 5*time.Minute {
		t.Errorf("Expected default 5m, got %s", cfg.CheckInterval)
	}
	if cfg.RetryBackoff != time.Minute {
		t.Errorf("Expected default 1m, got %s", cfg.RetryBackoff)
	}
	if cfg.PanelSettle != 3*time.Second {
		t.Errorf("Expected default 3s panel settle, got %s", cfg.PanelSettle)
	}
	if cfg.LaunchRetries != 2 {
		t.Errorf("Expected default LaunchRetries 2, got %d", cfg.LaunchRetries)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("Expected info log level, got %s", cfg.LogLevel)
	}
	if !cfg.BrowserHeadless || !cfg.MetricsEnabled {
		t.Error("Expected headless browser and metrics enabled by default")
	}
}

func TestLoad_FirestoreRequiresProjectID(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "firestore")
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")

	_, err := Load()
	if err == nil {
		t.Error("Load() should return an error when firestore is selected without GOOGLE_CLOUD_PROJECT")
	}
}

func TestLoad_Firestore(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "firestore")
	t.Setenv("GOOGLE_CLOUD_PROJECT", "test-project")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if cfg.ProjectID != "test-project" {
		t.Errorf("Expected test-project, got %s", cfg.ProjectID)
	}
}

func TestLoad_CustomCheckInterval(t *testing.T) {
	t.Setenv("CHECK_INTERVAL", "90s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if cfg.CheckInterval != 90*time.Second {
		t.Errorf("Expected 90s, got %s", cfg.CheckInterval)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad interval", "CHECK_INTERVAL", "not-a-duration"},
		{"zero interval", "CHECK_INTERVAL", "0s"},
		{"bad backoff", "RETRY_BACKOFF", "soon"},
		{"bad retries", "LAUNCH_RETRIES", "many"},
		{"bad driver", "BROWSER_DRIVER", "selenium"},
		{"bad backend", "STORAGE_BACKEND", "postgres"},
		{"bad headless", "BROWSER_HEADLESS", "maybe"},
		{"bad log level", "LOG_LEVEL", "loud"},
		{"bad base url", "PLATFORM_BASE_URL", "not a url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load() should return error for %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_ExtraAllowedDomains(t *testing.T) {
	t.Setenv("ALLOWED_DOMAINS", "127.0.0.1, example.test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	want := map[string]bool{"instagram.com": true, "127.0.0.1": true, "example.test": true}
	for _, d := range cfg.AllowedDomains {
		delete(want, d)
	}
	if len(want) != 0 {
		t.Errorf("AllowedDomains %v missing %v", cfg.AllowedDomains, want)
	}
}

func TestLoad_PlatformHostIsAllowed(t *testing.T) {
	tests := []struct {
		baseURL string
		want    string
	}{
		{"https://www.example.test", "example.test"},
		{"http://127.0.0.1:8081/", "127.0.0.1"},
		{"https://www.instagram.com", "instagram.com"},
	}
	for _, tt := range tests {
		t.Run(tt.baseURL, func(t *testing.T) {
			t.Setenv("PLATFORM_BASE_URL", tt.baseURL)
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() returned unexpected error: %v", err)
			}
			count := 0
			for _, d := range cfg.AllowedDomains {
				if d == tt.want {
					count++
				}
			}
			if count != 1 {
				t.Errorf("AllowedDomains %v should contain %s once", cfg.AllowedDomains, tt.want)
			}
		})
	}
}
