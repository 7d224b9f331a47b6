package logging

import (
	"log/slog"
	"testing"
)

func TestNewLevels(t *testing.T) {
	cases := []struct {
		level   string
		enabled slog.Level
		muted   slog.Level
	}{
		{"debug", slog.LevelDebug, slog.LevelDebug - 4},
		{"info", slog.LevelInfo, slog.LevelDebug},
		{"warn", slog.LevelWarn, slog.LevelInfo},
		{"error", slog.LevelError, slog.LevelWarn},
		{"bogus", slog.LevelInfo, slog.LevelDebug},
	}
	for _, tc := range cases {
		logger := New(tc.level)
		if logger == nil {
			t.Fatalf("New(%q) returned nil", tc.level)
		}
		if !logger.Enabled(nil, tc.enabled) {
			t.Errorf("level %q: expected %v enabled", tc.level, tc.enabled)
		}
		if logger.Enabled(nil, tc.muted) {
			t.Errorf("level %q: expected %v muted", tc.level, tc.muted)
		}
	}
}

func TestWith(t *testing.T) {
	logger := Default().With("component", "test")
	if logger == nil || logger.Logger == nil {
		t.Fatal("With returned nil logger")
	}
}
