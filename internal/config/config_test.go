package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load returned error for missing file: %v", err)
	}
	if cfg != Default() {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[server]
addr = ":9999"
tick_rate = 10

[client]
interpolation_delay_ms = 150
reconcile_threshold = 0.25

[log]
file = "statesync.log"
debug = true
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Addr != ":9999" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if got := cfg.Server.TickInterval(); got != 100*time.Millisecond {
		t.Errorf("tick interval = %v", got)
	}
	if got := cfg.Client.InterpolationDelay(); got != 150*time.Millisecond {
		t.Errorf("interpolation delay = %v", got)
	}
	if cfg.Client.ReconcileThreshold != 0.25 {
		t.Errorf("reconcile threshold = %f", cfg.Client.ReconcileThreshold)
	}
	if !cfg.Log.Debug || cfg.Log.File != "statesync.log" {
		t.Errorf("log config = %+v", cfg.Log)
	}

	// Untouched fields keep their defaults.
	if cfg.Client.InputHz != Default().Client.InputHz {
		t.Errorf("input hz = %d", cfg.Client.InputHz)
	}
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[server\naddr=?"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed TOML")
	}
}
