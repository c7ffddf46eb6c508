package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var allKeys = []string{
	"HTTP_PORT", "STORE", "SQLITE_DSN", "FIRESTORE_PROJECT", "SESSION_TTL",
	"DEFAULT_TIMEZONE", "HISTORY_LIMIT", "SENDGRID_API_KEY", "NOTIFY_FROM",
	"REFILL_COOLDOWN", "CORS_ORIGINS", "LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allKeys {
		t.Setenv(envPrefix+key, "")
	}
}

func TestLoader_ParseEnvironment(t *testing.T) {

	t.Run("applies defaults when variables are missing", func(t *testing.T) {
		clearEnv(t)

		cfg, err := FromEnv()
		if err != nil {
			t.Fatalf("FromEnv returned error: %v", err)
		}

		if cfg.HTTPPort != 8080 || cfg.Addr() != ":8080" {
			t.Fatalf("expected default HTTP port 8080, got %d", cfg.HTTPPort)
		}
		if cfg.Store != StoreSQLite {
			t.Fatalf("expected sqlite store, got %q", cfg.Store)
		}
		if cfg.SQLiteDSN != "file:medreminder.db?_pragma=foreign_keys(1)" {
			t.Fatalf("unexpected default DSN: %q", cfg.SQLiteDSN)
		}
		if cfg.SessionTTL != 720*time.Hour || cfg.HistoryLimit != 100 || cfg.RefillCooldown != 24*time.Hour {
			t.Fatalf("unexpected defaults %+v", cfg)
		}
		if cfg.DefaultLocation != time.UTC || cfg.DefaultTimezone != "UTC" {
			t.Fatalf("expected UTC default location, got %v", cfg.DefaultLocation)
		}
		if cfg.SendGridAPIKey != "" || cfg.AllowedOrigins != nil || cfg.LogLevel != slog.LevelInfo {
			t.Fatalf("unexpected optional values %+v", cfg)
		}
	})

	t.Run("errors when firestore project is missing", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("MEDREMINDER_STORE", "Firestore")

		_, err := FromEnv()
		if err == nil {
			t.Fatalf("expected error when required values are missing")
		}
		expected := "required environment variables are not set: MEDREMINDER_FIRESTORE_PROJECT"
		if err.Error() != expected {
			t.Fatalf("unexpected error message: %q", err.Error())
		}
	})

	t.Run("parses every field", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("MEDREMINDER_HTTP_PORT", "9090")
		t.Setenv("MEDREMINDER_STORE", "firestore")
		t.Setenv("MEDREMINDER_FIRESTORE_PROJECT", "med-prod")
		t.Setenv("MEDREMINDER_SQLITE_DSN", "file:/tmp/auth.db")
		t.Setenv("MEDREMINDER_SESSION_TTL", "24h")
		t.Setenv("MEDREMINDER_DEFAULT_TIMEZONE", "Asia/Tokyo")
		t.Setenv("MEDREMINDER_HISTORY_LIMIT", "250")
		t.Setenv("MEDREMINDER_SENDGRID_API_KEY", "SG.key")
		t.Setenv("MEDREMINDER_NOTIFY_FROM", "bot@example.com")
		t.Setenv("MEDREMINDER_REFILL_COOLDOWN", "12h")
		t.Setenv("MEDREMINDER_CORS_ORIGINS", "http://localhost:5173, https://app.example.com,")
		t.Setenv("MEDREMINDER_LOG_LEVEL", "debug")

		cfg, err := FromEnv()
		if err != nil {
			t.Fatalf("FromEnv returned error: %v", err)
		}

		if cfg.DefaultLocation == nil || cfg.DefaultLocation.String() != "Asia/Tokyo" {
			t.Fatalf("expected Asia/Tokyo location, got %v", cfg.DefaultLocation)
		}
		cfg.DefaultLocation = nil
		want := Config{
			HTTPPort:         9090,
			Store:            StoreFirestore,
			SQLiteDSN:        "file:/tmp/auth.db",
			FirestoreProject: "med-prod",
			SessionTTL:       24 * time.Hour,
			DefaultTimezone:  "Asia/Tokyo",
			HistoryLimit:     250,
			SendGridAPIKey:   "SG.key",
			NotifyFrom:       "bot@example.com",
			RefillCooldown:   12 * time.Hour,
			AllowedOrigins:   []string{"http://localhost:5173", "https://app.example.com"},
			LogLevel:         slog.LevelDebug,
		}
		if diff := cmp.Diff(want, cfg); diff != "" {
			t.Fatalf("config mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("reports every invalid value together", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("MEDREMINDER_HTTP_PORT", "not-a-number")
		t.Setenv("MEDREMINDER_STORE", "postgres")
		t.Setenv("MEDREMINDER_SESSION_TTL", "-1h")
		t.Setenv("MEDREMINDER_DEFAULT_TIMEZONE", "Mars/Olympus")
		t.Setenv("MEDREMINDER_HISTORY_LIMIT", "0")
		t.Setenv("MEDREMINDER_NOTIFY_FROM", "not an address")
		t.Setenv("MEDREMINDER_LOG_LEVEL", "loud")

		_, err := FromEnv()
		if err == nil {
			t.Fatalf("expected invalid configuration error")
		}
		for _, key := range []string{"HTTP_PORT", "STORE", "SESSION_TTL", "DEFAULT_TIMEZONE", "HISTORY_LIMIT", "NOTIFY_FROM", "LOG_LEVEL"} {
			if !strings.Contains(err.Error(), envPrefix+key) {
				t.Errorf("expected %s in error %q", key, err.Error())
			}
		}
	})
}

func TestLoadFiles(t *testing.T) {
	clearEnv(t)
	const key = "MEDREMINDER_HISTORY_LIMIT"
	// godotenv only fills variables that are absent from the environment.
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("unset %s: %v", key, err)
	}
	t.Cleanup(func() { os.Unsetenv(key) })

	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("MEDREMINDER_HISTORY_LIMIT=42\nMEDREMINDER_HTTP_PORT=1234\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := LoadFiles(filepath.Join(dir, "missing.env"), path)
	if err != nil {
		t.Fatalf("LoadFiles: %v", err)
	}
	if cfg.HistoryLimit != 42 {
		t.Errorf("expected history limit from file, got %d", cfg.HistoryLimit)
	}
	if cfg.HTTPPort != 8080 {
		t.Errorf("expected process environment to win over file, got port %d", cfg.HTTPPort)
	}
}
