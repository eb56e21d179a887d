// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		" info ":  slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}

	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerHonorsLogLevel(t *testing.T) {
	ctx := context.Background()

	t.Setenv("LOG_LEVEL", "warn")
	logger := NewLogger("prod")
	if logger.Enabled(ctx, slog.LevelInfo) {
		t.Error("info must be suppressed at warn level")
	}
	if !logger.Enabled(ctx, slog.LevelWarn) {
		t.Error("warn must pass at warn level")
	}

	t.Setenv("LOG_LEVEL", "")
	logger = NewLogger("dev")
	if logger.Enabled(ctx, slog.LevelDebug) {
		t.Error("debug must be suppressed at the info default")
	}
	if !logger.Enabled(ctx, slog.LevelInfo) {
		t.Error("info must pass at the info default")
	}
}
