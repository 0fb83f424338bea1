package types

import (
	"context"
	"log/slog"
	"testing"
)

func TestCycleIDRoundTrip(t *testing.T) {
	ctx := WithCycleID(context.Background(), "cycle-1")
	if got := GetCycleID(ctx); got != "cycle-1" {
		t.Errorf("GetCycleID() = %q, want cycle-1", got)
	}
	if got := GetCycleID(context.Background()); got != "" {
		t.Errorf("GetCycleID() on empty context = %q", got)
	}
}

func TestLoggerFromContext(t *testing.T) {
	stored := slog.New(slog.DiscardHandler)
	fallback := slog.New(slog.DiscardHandler)

	if got := LoggerFromContext(WithLogger(context.Background(), stored), fallback); got != stored {
		t.Error("expected stored logger")
	}
	if got := LoggerFromContext(context.Background(), fallback); got != fallback {
		t.Error("expected fallback logger")
	}
	if got := LoggerFromContext(context.Background(), nil); got != slog.Default() {
		t.Error("expected slog.Default()")
	}
}
