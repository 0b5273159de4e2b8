package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{" warn ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelWarn)

	logger.Info("Hidden")
	logger.Warn("Shown", "identity_id", "guest-1")

	out := buf.String()
	if strings.Contains(out, "Hidden") {
		t.Errorf("info line written at warn level: %q", out)
	}
	if !strings.Contains(out, "Shown") || !strings.Contains(out, "identity_id=guest-1") {
		t.Errorf("warn line missing: %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("colors written to a non-terminal: %q", out)
	}
}

func TestNoColorForRegularFile(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "ledgerd.log"))
	if err != nil {
		t.Fatalf("failed to create log file: %v", err)
	}
	defer f.Close()

	if isTerminal(f) {
		t.Fatal("regular file reported as a terminal")
	}
	New(f, slog.LevelInfo).Warn("Written", "identity_id", "guest-1")

	out, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(out), "Written") {
		t.Errorf("line missing: %q", out)
	}
	if strings.Contains(string(out), "\x1b[") {
		t.Errorf("colors written to a file: %q", out)
	}
}
