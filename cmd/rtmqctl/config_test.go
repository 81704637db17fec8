package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/GTrannoy/wr-node-core-software-sub001/internal/testutil/testlog"
)

func TestLoadProfileDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadProfile("ex.config.toml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.AppID != 0x115 {
		t.Fatalf("unexpected app id: %#x", cfg.AppID)
	}
	if cfg.Timeout != 250*time.Millisecond {
		t.Fatalf("unexpected timeout: %v", cfg.Timeout)
	}
	if cfg.PollInterval != 200*time.Microsecond {
		t.Fatalf("unexpected poll interval: %v", cfg.PollInterval)
	}
	if cfg.Attempts != 3 {
		t.Fatalf("unexpected attempts: %d", cfg.Attempts)
	}
	if len(cfg.CorsOrigins) != 1 || cfg.CorsOrigins[0] != "http://localhost:3000" {
		t.Fatalf("unexpected origins: %+v", cfg.CorsOrigins)
	}
	if cfg.Device != "device.toml" || cfg.Image != "image.toml" {
		t.Fatalf("unexpected files: %q %q", cfg.Device, cfg.Image)
	}
}

func TestLoadProfileKeepsDefaultsForMissingKeys(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "partial.toml")
	if err := os.WriteFile(path, []byte("timeout_ms = 40\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := loadProfile(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	def := defaultProfile()
	if cfg.Timeout != 40*time.Millisecond {
		t.Fatalf("unexpected timeout: %v", cfg.Timeout)
	}
	if cfg.Addr != def.Addr || cfg.Codec != def.Codec || cfg.Attempts != def.Attempts {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadProfileRejectsWideAppID(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("app_id = 0x10000\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := loadProfile(path); err == nil {
		t.Fatalf("expected app_id range error")
	}
}
