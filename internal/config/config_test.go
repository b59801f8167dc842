package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := "server:\n  port: \"9090\"\nredis:\n  addr: localhost:6379\ngame:\n  settle_delay: 500ms\n"
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("expected overrides, got %+v", cfg)
	}
	if cfg.Questions.Limit != 10 || cfg.Game.FixedPoints != 100 || cfg.Redis.Channel != "quiz:patches" {
		t.Fatalf("expected defaults kept, got %+v", cfg)
	}
	if got := Duration(cfg.Game.SettleDelay, time.Second); got != 500*time.Millisecond {
		t.Fatalf("expected 500ms settle delay, got %v", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestDurationFallback(t *testing.T) {
	if got := Duration("", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback for empty, got %v", got)
	}
	if got := Duration("soon", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback for malformed, got %v", got)
	}
}
