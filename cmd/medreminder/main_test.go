package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/medreminder/internal/config"
	"github.com/example/medreminder/internal/notify"
)

func testConfig(store config.Store, dsn string) config.Config {
	return config.Config{
		HTTPPort:        0,
		Store:           store,
		SQLiteDSN:       dsn,
		SessionTTL:      time.Hour,
		DefaultTimezone: "UTC",
		DefaultLocation: time.UTC,
		HistoryLimit:    100,
		NotifyFrom:      "MedReminder <reminders@medreminder.local>",
		RefillCooldown:  time.Hour,
		LogLevel:        slog.LevelError,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func send(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestBuildServesAPI(t *testing.T) {
	stores := map[string]config.Config{
		"memory": testConfig(config.StoreMemory, ""),
		"sqlite": testConfig(config.StoreSQLite, "file:"+filepath.Join(t.TempDir(), "api.db")+"?_pragma=foreign_keys(1)"),
	}
	for name, cfg := range stores {
		t.Run(name, func(t *testing.T) {
			a, err := build(context.Background(), cfg, discardLogger())
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			t.Cleanup(a.close)

			if rec := send(t, a.handler, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusNoContent {
				t.Fatalf("healthz returned %d", rec.Code)
			}
			if rec := send(t, a.handler, http.MethodGet, "/medications", "", nil); rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401 without a session, got %d", rec.Code)
			}

			rec := send(t, a.handler, http.MethodPost, "/auth/signup", "", map[string]string{
				"email":    "lee@example.com",
				"password": "long enough secret",
			})
			if rec.Code != http.StatusCreated {
				t.Fatalf("signup returned %d: %s", rec.Code, rec.Body.String())
			}
			var session struct {
				Token string `json:"token"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &session); err != nil || session.Token == "" {
				t.Fatalf("decode session: %v (%s)", err, rec.Body.String())
			}
			if len(session.Token) != 64 {
				t.Errorf("expected a 32 byte hex token, got %q", session.Token)
			}

			rec = send(t, a.handler, http.MethodPost, "/medications", session.Token, map[string]any{
				"name":      "Lisinopril",
				"dose":      "10mg",
				"form":      "tablet",
				"quantity":  30,
				"schedules": []map[string]any{{"time": "09:00"}},
			})
			if rec.Code != http.StatusCreated {
				t.Fatalf("create medication returned %d: %s", rec.Code, rec.Body.String())
			}

			rec = send(t, a.handler, http.MethodGet, "/doses/today", session.Token, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("today returned %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	cfg := testConfig(config.StoreSQLite, "file:"+filepath.Join(t.TempDir(), "migrate.db"))
	for i := 0; i < 2; i++ {
		if err := migrate(context.Background(), cfg, discardLogger()); err != nil {
			t.Fatalf("migrate run %d: %v", i+1, err)
		}
	}
}

func TestNewSender(t *testing.T) {
	cfg := testConfig(config.StoreMemory, "")

	sender, err := newSender(cfg, discardLogger())
	if err != nil {
		t.Fatalf("newSender: %v", err)
	}
	if _, ok := sender.(*notify.LogSender); !ok {
		t.Errorf("expected log sender without an API key, got %T", sender)
	}

	cfg.SendGridAPIKey = "SG.test"
	sender, err = newSender(cfg, discardLogger())
	if err != nil {
		t.Fatalf("newSender with key: %v", err)
	}
	if _, ok := sender.(*notify.SendGridSender); !ok {
		t.Errorf("expected SendGrid sender with an API key, got %T", sender)
	}
}

func TestRandomHex(t *testing.T) {
	first, second := randomHex(16), randomHex(16)
	if len(first) != 32 || first == second {
		t.Fatalf("unexpected tokens %q %q", first, second)
	}
}
