package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo).With("request_id", "r-1")

	ctx := ContextWithLogger(context.Background(), logger)
	if got := FromContext(ctx); got != logger {
		t.Fatalf("expected attached logger, got %v", got)
	}
	if FromContext(context.Background()) != nil {
		t.Errorf("expected nil without attached logger")
	}
	if ContextWithLogger(ctx, nil) != ctx {
		t.Errorf("expected nil logger to leave the context untouched")
	}

	FromContextOr(ctx, nil).Info("hello")
	FromContextOr(ctx, nil).Debug("dropped")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if line["msg"] != "hello" || line["request_id"] != "r-1" {
		t.Errorf("unexpected record %v", line)
	}

	fallback := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	if FromContextOr(context.Background(), fallback) != fallback {
		t.Errorf("expected fallback logger")
	}
	if FromContextOr(context.Background(), nil) != slog.Default() {
		t.Errorf("expected slog.Default")
	}
}
