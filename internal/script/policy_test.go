package script

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dokzlo13/imagebatch/internal/batch"
)

const idleOrCount = `
local log = require("log")

function ready(batch)
  if batch.count >= 3 then
    log.debug("count reached for " .. batch.session)
    return true
  end
  return batch.idle_ms >= 2000
end
`

func TestPolicyReady(t *testing.T) {
	p, err := LoadString("test.lua", idleOrCount)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}
	defer p.Close()

	base := time.UnixMilli(1_000_000)

	tests := []struct {
		name  string
		stats batch.Stats
		now   time.Time
		want  bool
	}{
		{
			name:  "fresh_single",
			stats: batch.Stats{Session: "A", Count: 1, FirstArrival: base, LastArrival: base},
			now:   base.Add(500 * time.Millisecond),
			want:  false,
		},
		{
			name:  "idle_long_enough",
			stats: batch.Stats{Session: "A", Count: 2, FirstArrival: base, LastArrival: base.Add(time.Second)},
			now:   base.Add(3 * time.Second),
			want:  true,
		},
		{
			name:  "count_reached",
			stats: batch.Stats{Session: "B", Count: 3, FirstArrival: base, LastArrival: base},
			now:   base,
			want:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Ready(tt.stats, tt.now)
			if err != nil {
				t.Fatalf("Ready failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Ready() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPolicyFields(t *testing.T) {
	p, err := LoadString("fields.lua", `
function ready(b)
  return b.session == "S" and b.count == 4 and b.first_ms == 1000 and b.last_ms == 1500
    and b.now_ms == 2500 and b.age_ms == 1500 and b.idle_ms == 1000
end
`)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}
	defer p.Close()

	stats := batch.Stats{
		Session:      "S",
		Count:        4,
		FirstArrival: time.UnixMilli(1000),
		LastArrival:  time.UnixMilli(1500),
	}
	got, err := p.Ready(stats, time.UnixMilli(2500))
	if err != nil {
		t.Fatalf("Ready failed: %v", err)
	}
	if !got {
		t.Error("batch table fields did not match")
	}
}

func TestLoadString_Errors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{name: "syntax_error", src: "function ready(", wantErr: "failed to load"},
		{name: "missing_ready", src: "x = 1", wantErr: "does not define"},
		{name: "ready_not_function", src: "ready = true", wantErr: "does not define"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadString(tt.name, tt.src)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestPolicyRuntimeError(t *testing.T) {
	p, err := LoadString("boom.lua", `function ready(b) error("boom") end`)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}
	defer p.Close()

	if _, err := p.Ready(batch.Stats{Session: "A"}, time.Now()); err == nil {
		t.Error("expected error from failing script")
	}

	// State stays usable after a failed call
	if _, err := p.Ready(batch.Stats{Session: "A"}, time.Now()); err == nil {
		t.Error("expected error on second call")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.lua")
	if err := os.WriteFile(path, []byte(`function ready(b) return b.count > 0 end`), 0o644); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	defer p.Close()

	got, err := p.Ready(batch.Stats{Count: 1}, time.Now())
	if err != nil || !got {
		t.Errorf("Ready() = %v, %v; want true, nil", got, err)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.lua")); err == nil {
		t.Error("expected error for missing file")
	}
}
