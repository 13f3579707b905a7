package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenPort != "8800" {
		t.Errorf("port = %s, want 8800", cfg.ListenPort)
	}
	if cfg.Workers != 2 {
		t.Errorf("workers = %d, want 2", cfg.Workers)
	}
	if cfg.BatchSize != 250 {
		t.Errorf("batch size = %d, want 250", cfg.BatchSize)
	}
	if cfg.MaxContentLength != 10*1024*1024 {
		t.Errorf("max content length = %d", cfg.MaxContentLength)
	}
	if !cfg.SSLVerify {
		t.Error("ssl verification must default on")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TABLOAD_WORKERS", "8")
	t.Setenv("TABLOAD_JOB_TIMEOUT", "5m")
	t.Setenv("TABLOAD_FORCE_TYPE_CAST", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Workers != 8 {
		t.Errorf("workers = %d, want 8", cfg.Workers)
	}
	if cfg.JobTimeout != 5*time.Minute {
		t.Errorf("job timeout = %s, want 5m", cfg.JobTimeout)
	}
	if !cfg.ForceTypeCast {
		t.Error("force type cast not applied")
	}
}

func TestLoadYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tabload.yaml")
	err := os.WriteFile(path, []byte("workers: 4\ncatalog_url: http://catalog.internal\n"), 0o644)
	if err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("TABLOAD_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Workers != 4 {
		t.Errorf("workers = %d, want 4 from yaml", cfg.Workers)
	}
	if cfg.CatalogURL != "http://catalog.internal" {
		t.Errorf("catalog url = %s", cfg.CatalogURL)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"WARNING", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoggerFansOutToBothSinks(t *testing.T) {
	var stderr, file bytes.Buffer
	log := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	log.Info("load finished", "rows", 42)

	if stderr.Len() == 0 {
		t.Error("nothing written to stderr sink")
	}
	var entry map[string]any
	if err := json.Unmarshal(file.Bytes(), &entry); err != nil {
		t.Fatalf("file sink is not json: %v", err)
	}
	if entry["msg"] != "load finished" {
		t.Errorf("json entry = %v", entry)
	}
}
