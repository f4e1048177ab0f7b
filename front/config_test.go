package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadServiceConfigDefaults(t *testing.T) {
	t.Setenv("LOOM_CONFIG_FILE", "")

	cfg, err := loadServiceConfig()
	if err != nil {
		t.Fatalf("loadServiceConfig() err=%v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Fatalf("ShutdownTimeout = %v, want 10s", cfg.ShutdownTimeout)
	}
	if cfg.RunRate != 2 || cfg.RunBurst != 10 {
		t.Fatalf("run limit = %v/%d, want 2/10", cfg.RunRate, cfg.RunBurst)
	}
}

func TestLoadServiceConfigEnvOverrides(t *testing.T) {
	t.Setenv("LOOM_CONFIG_FILE", "")
	t.Setenv("LOOM_HTTP_ADDR", "127.0.0.1:9999")
	t.Setenv("LOOM_SHUTDOWN_TIMEOUT", "3s")
	t.Setenv("LOOM_RUN_RATE", "0.5")
	t.Setenv("LOOM_RUN_BURST", "3")

	cfg, err := loadServiceConfig()
	if err != nil {
		t.Fatalf("loadServiceConfig() err=%v", err)
	}
	if cfg.Addr != "127.0.0.1:9999" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.ShutdownTimeout != 3*time.Second {
		t.Fatalf("ShutdownTimeout = %v, want 3s", cfg.ShutdownTimeout)
	}
	if cfg.RunRate != 0.5 {
		t.Fatalf("RunRate = %v, want 0.5", cfg.RunRate)
	}
	if cfg.RunBurst != 3 {
		t.Fatalf("RunBurst = %d, want 3", cfg.RunBurst)
	}
}

func TestLoadServiceConfigFileWithEnvOnTop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "front.yaml")
	file := "addr: \":7000\"\nrun_rate_per_second: 4\nrun_burst: 20\n"
	if err := os.WriteFile(path, []byte(file), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("LOOM_CONFIG_FILE", path)
	t.Setenv("LOOM_RUN_BURST", "5")

	cfg, err := loadServiceConfig()
	if err != nil {
		t.Fatalf("loadServiceConfig() err=%v", err)
	}
	if cfg.Addr != ":7000" {
		t.Fatalf("Addr = %q, want :7000", cfg.Addr)
	}
	if cfg.RunRate != 4 {
		t.Fatalf("RunRate = %v, want 4", cfg.RunRate)
	}
	if cfg.RunBurst != 5 {
		t.Fatalf("RunBurst = %d, env should win over the file", cfg.RunBurst)
	}
}
