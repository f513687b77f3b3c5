package klog

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/GrassedgeT/Grass/internal/sbi"
)

func captureConsole(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	sbi.SetConsole(&buf)
	t.Cleanup(func() { sbi.SetConsole(os.Stdout) })
	return &buf
}

func TestHandlerFormat(t *testing.T) {
	buf := captureConsole(t)
	logger := slog.New(NewHandler(slog.LevelInfo))

	logger.Info("frame allocator ready", "frames", 1504)

	got := buf.String()
	if !strings.HasPrefix(got, "[INFO ]: frame allocator ready") {
		t.Errorf("line = %q", got)
	}
	if !strings.Contains(got, "frames=1504") {
		t.Errorf("missing attr in %q", got)
	}
	if !strings.HasSuffix(got, "\n") {
		t.Error("line must end in newline")
	}
}

func TestHandlerFiltersByLevel(t *testing.T) {
	buf := captureConsole(t)
	logger := slog.New(NewHandler(slog.LevelWarn))

	logger.Info("quiet")
	logger.Warn("loud")

	got := buf.String()
	if strings.Contains(got, "quiet") {
		t.Error("info leaked through a warn-level handler")
	}
	if !strings.Contains(got, "[WARN ]: loud") {
		t.Errorf("warn line missing: %q", got)
	}
}

func TestWithAttrsAndGroup(t *testing.T) {
	buf := captureConsole(t)
	logger := slog.New(NewHandler(slog.LevelInfo)).With("subsystem", "memory").WithGroup("frame")

	logger.Info("allocated", "ppn", "0x80042")

	got := buf.String()
	if !strings.Contains(got, "subsystem=memory") {
		t.Errorf("inherited attr missing: %q", got)
	}
	if !strings.Contains(got, "frame.ppn=0x80042") {
		t.Errorf("grouped attr missing: %q", got)
	}
}

func TestTraceLevelRendering(t *testing.T) {
	buf := captureConsole(t)
	logger := slog.New(NewHandler(LevelTrace))

	logger.Log(context.Background(), LevelTrace, "walk step")
	if !strings.Contains(buf.String(), "[TRACE]: walk step") {
		t.Errorf("trace line = %q", buf.String())
	}
}

func TestLevelFromEnv(t *testing.T) {
	tests := []struct {
		env  string
		want slog.Level
	}{
		{"ERROR", slog.LevelError},
		{"WARN", slog.LevelWarn},
		{"INFO", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
		{"TRACE", LevelTrace},
		{"trace", LevelTrace},
		{"", levelOff},
		{"bogus", levelOff},
	}
	for _, tt := range tests {
		t.Setenv("LOG", tt.env)
		if got := LevelFromEnv(); got != tt.want {
			t.Errorf("LOG=%q: level = %v, want %v", tt.env, got, tt.want)
		}
	}
}
