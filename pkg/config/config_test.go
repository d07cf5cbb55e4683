package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	cfg, err := Load(filepath.Join(tmpDir, "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BlockSize == 0 || cfg.RingSize == 0 || cfg.MaxConcurrency == 0 {
		t.Fatalf("expected defaults applied, got %+v", cfg)
	}
	if cfg.PersistMode != "sync" {
		t.Fatalf("expected default persist_mode sync, got %q", cfg.PersistMode)
	}
}

func TestLoad_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
path: ` + filepath.ToSlash(filepath.Join(tmpDir, "stream.dat")) + `
size: 64Mi
block_size: 8Ki
max_concurrency: 8
ring_size: 1024
persist_mode: async
persist_interval: 50ms
logging:
  level: DEBUG
  format: json
  output: stdout
metrics:
  enabled: true
  port: 9100
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.BlockSize.Uint64() != 8*1024 {
		t.Fatalf("expected block_size 8Ki, got %d", cfg.BlockSize.Uint64())
	}
	if cfg.MaxConcurrency != 8 {
		t.Fatalf("expected max_concurrency 8, got %d", cfg.MaxConcurrency)
	}
	if cfg.PersistInterval != 50*time.Millisecond {
		t.Fatalf("expected persist_interval 50ms, got %v", cfg.PersistInterval)
	}
	if cfg.PersistMode != "async" {
		t.Fatalf("expected persist_mode async, got %q", cfg.PersistMode)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Port != 9100 {
		t.Fatalf("expected metrics enabled on port 9100, got %+v", cfg.Metrics)
	}
}

func TestValidate_RejectsBadPersistMode(t *testing.T) {
	cfg := &Config{
		Path:           "/tmp/s.dat",
		Size:           1024,
		BlockSize:      64,
		MaxConcurrency: 1,
		RingSize:       16,
		PersistMode:    "eventually",
		Logging:        LoggingConfig{Level: "INFO", Format: "text", Output: "stdout"},
	}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for invalid persist_mode")
	}
}

func TestValidate_RejectsMaxConcurrencyOverCap(t *testing.T) {
	cfg := &Config{
		Path:           "/tmp/s.dat",
		Size:           1024,
		BlockSize:      64,
		MaxConcurrency: 128,
		RingSize:       16,
		PersistMode:    "sync",
		Logging:        LoggingConfig{Level: "INFO", Format: "text", Output: "stdout"},
	}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for max_concurrency over 64")
	}
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	cfg := DefaultConfig()
	ApplyDefaults(cfg)
	cfg.MaxConcurrency = 4

	if err := Save(cfg, configPath); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.MaxConcurrency != 4 {
		t.Fatalf("expected max_concurrency 4 after round trip, got %d", loaded.MaxConcurrency)
	}
}
