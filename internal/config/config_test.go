package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`{}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Log.GetLevel() != "info" {
		t.Errorf("log level = %q, want info", cfg.Log.GetLevel())
	}
	if cfg.Batch.Store != StoreMemory {
		t.Errorf("batch store = %q, want memory", cfg.Batch.Store)
	}
	if cfg.Flush.Strategy != "quiet" || cfg.Flush.Quiet.Duration() != 5*time.Second {
		t.Errorf("flush = %+v, want quiet 5s", cfg.Flush)
	}
	if cfg.Dispatch.GetWorkers() != 4 || cfg.Dispatch.GetQueueSize() != 100 {
		t.Errorf("dispatch workers/queue = %d/%d", cfg.Dispatch.GetWorkers(), cfg.Dispatch.GetQueueSize())
	}
	if !cfg.Dispatch.LogEnabled() || !cfg.Dispatch.LedgerEnabled() {
		t.Error("log and ledger sinks should default to enabled")
	}
	if cfg.Ingest.Port != 8080 || cfg.Healthcheck.GetPort() != 9090 {
		t.Errorf("ports = %d/%d", cfg.Ingest.Port, cfg.Healthcheck.GetPort())
	}
	if cfg.GetShutdownTimeout() != 5*time.Second {
		t.Errorf("shutdown timeout = %v", cfg.GetShutdownTimeout())
	}
}

func TestParse_Values(t *testing.T) {
	cfg, err := Parse([]byte(`
log:
  level: DEBUG
  json: true
batch:
  store: sqlite
  max_age: 10m
  max_items: 50
flush:
  strategy: window
  window: 8s
dispatch:
  ledger: false
  forward_url: http://vision:8000/analyze
  rate_limit_rps: 2.5
shutdown_timeout: 12s
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Log.GetLevel() != "debug" || !cfg.Log.UseJSON {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.Batch.Store != StoreSQLite || cfg.Batch.MaxAge.Duration() != 10*time.Minute || cfg.Batch.MaxItems != 50 {
		t.Errorf("batch = %+v", cfg.Batch)
	}
	if cfg.Flush.Strategy != "window" || cfg.Flush.Window.Duration() != 8*time.Second {
		t.Errorf("flush = %+v", cfg.Flush)
	}
	if cfg.Dispatch.LedgerEnabled() {
		t.Error("ledger sink should be disabled")
	}
	if cfg.Dispatch.ForwardURL != "http://vision:8000/analyze" || cfg.Dispatch.RateLimitRPS != 2.5 {
		t.Errorf("dispatch = %+v", cfg.Dispatch)
	}
	if cfg.GetShutdownTimeout() != 12*time.Second {
		t.Errorf("shutdown timeout = %v", cfg.GetShutdownTimeout())
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{name: "bad_store", yaml: "batch: {store: redis}", wantErr: "batch.store"},
		{name: "script_without_path", yaml: "flush: {strategy: script}", wantErr: "flush.script"},
		{name: "bad_duration", yaml: "flush: {quiet: soon}", wantErr: "invalid duration"},
		{name: "negative_items", yaml: "batch: {max_items: -1}", wantErr: "max_items"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("IMAGEBATCH_TEST_URL", "http://analyzer")

	tests := []struct {
		input string
		want  string
	}{
		{input: "${IMAGEBATCH_TEST_URL}", want: "http://analyzer"},
		{input: "${IMAGEBATCH_TEST_URL:http://fallback}", want: "http://analyzer"},
		{input: "${IMAGEBATCH_TEST_UNSET:http://fallback}", want: "http://fallback"},
		{input: "${IMAGEBATCH_TEST_UNSET}", want: ""},
		{input: "plain", want: "plain"},
	}

	for _, tt := range tests {
		if got := expandEnvVars(tt.input); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("IMAGEBATCH_TEST_DB", "/tmp/batches.sqlite")
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("database:\n  path: ${IMAGEBATCH_TEST_DB}\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.Path != "/tmp/batches.sqlite" {
		t.Errorf("database path = %q", cfg.Database.Path)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
