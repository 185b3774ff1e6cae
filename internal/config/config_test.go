package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if cfg.Pusher.BlockMs != 10000 || cfg.Pusher.Count != 10 || cfg.Pusher.MaxLifetimeMs != 1800000 {
		t.Fatalf("pusher defaults: %+v", cfg.Pusher)
	}
	if cfg.Retention.RunMaxLen != 500 || cfg.Retention.GlobalMaxLen != 20000 {
		t.Fatalf("retention defaults: %+v", cfg.Retention)
	}
	up := cfg.Subscribers.Uploads
	if up.Stream != "ingest:uploads" || up.Group != "backend-ingest-uploads" || up.Count != 50 || up.BlockMs != 1000 {
		t.Fatalf("uploads defaults: %+v", up)
	}
	if cfg.Subscribers.Usage.Mode != ModeCursor {
		t.Fatalf("usage family reads by cursor")
	}
	if kw := cfg.Subscribers.Keywords; kw.Stream != "generation:history:queries" || kw.Mode != ModeCursor || !kw.Enabled {
		t.Fatalf("keywords defaults: %+v", kw)
	}
}

func TestLoadJSON(t *testing.T) {
	file := filepath.Join(t.TempDir(), "pulse.json")
	data := []byte(`{"httpAddr":":9090","pusher":{"count":5},"subscribers":{"uploads":{"count":7}}}`)
	if err := os.WriteFile(file, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" || cfg.Pusher.Count != 5 {
		t.Fatalf("unexpected cfg %+v", cfg)
	}
	if cfg.Pusher.BlockMs != 10000 {
		t.Fatalf("unset fields must keep defaults, got %d", cfg.Pusher.BlockMs)
	}
	if cfg.Subscribers.Uploads.Count != 7 || cfg.Subscribers.Uploads.Stream != "ingest:uploads" {
		t.Fatalf("family overlay: %+v", cfg.Subscribers.Uploads)
	}
}

func TestLoadYAML(t *testing.T) {
	file := filepath.Join(t.TempDir(), "pulse.yaml")
	data := []byte(`
log:
  level: debug
  format: json
retention:
  runMaxLen: 42
subscribers:
  errors:
    enabled: false
    filter: "fields.type == 'system'"
`)
	if err := os.WriteFile(file, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("log: %+v", cfg.Log)
	}
	if cfg.Retention.RunMaxLen != 42 || cfg.Retention.GlobalMaxLen != 20000 {
		t.Fatalf("retention: %+v", cfg.Retention)
	}
	if cfg.Subscribers.Errors.Enabled || !strings.Contains(cfg.Subscribers.Errors.Filter, "system") {
		t.Fatalf("errors family: %+v", cfg.Subscribers.Errors)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestFromEnv(t *testing.T) {
	cfg := Default()
	t.Setenv("PULSE_HTTP_ADDR", ":7070")
	t.Setenv("PULSE_PUSH_BLOCK_MS", "250")
	t.Setenv("PULSE_PUSH_COUNT", "not-a-number")
	t.Setenv("PULSE_RETENTION_DLQ_MAXLEN", "9")
	t.Setenv("PULSE_SUB_UPLOADS_POLL_INTERVAL_MS", "300")
	t.Setenv("PULSE_SUB_USAGE_ENABLED", "false")
	t.Setenv("PULSE_PUBLISH_DEBOUNCE_PCT", "2.5")
	FromEnv(&cfg)

	if cfg.HTTPAddr != ":7070" || cfg.Pusher.BlockMs != 250 {
		t.Fatalf("env overrides: %+v", cfg)
	}
	if cfg.Pusher.Count != 10 {
		t.Fatalf("invalid env value must be ignored, got %d", cfg.Pusher.Count)
	}
	if cfg.Retention.DeadLetterMaxLen != 9 {
		t.Fatalf("dlq maxlen: %d", cfg.Retention.DeadLetterMaxLen)
	}
	if cfg.Subscribers.Uploads.PollIntervalMs != 300 || cfg.Subscribers.Uploads.PollInterval().Milliseconds() != 300 {
		t.Fatalf("family env override: %+v", cfg.Subscribers.Uploads)
	}
	if cfg.Subscribers.Usage.Enabled {
		t.Fatalf("usage should be disabled")
	}
	if cfg.Publisher.DebounceDeltaPct != 2.5 {
		t.Fatalf("debounce: %v", cfg.Publisher.DebounceDeltaPct)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Pusher.Count = 0
	cfg.Subscribers.Errors.Mode = "fanout"
	cfg.Subscribers.Uploads.Group = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"pusher", "subscribers.errors", "subscribers.uploads"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q should mention %s", err, want)
		}
	}

	cfg = Default()
	cfg.Subscribers.Uploads.Enabled = false
	cfg.Subscribers.Uploads.Stream = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled families are not validated: %v", err)
	}
}
