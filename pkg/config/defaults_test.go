package config

import (
	"testing"
	"time"

	"github.com/karczex-2nd/pmemstream/internal/bytesize"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("expected default log level INFO, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("expected default log format text, got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("expected default log output stdout, got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_StreamParameters(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Size != 64*bytesize.MiB {
		t.Errorf("expected default size 64MiB, got %v", cfg.Size)
	}
	if cfg.BlockSize != 4*bytesize.KiB {
		t.Errorf("expected default block_size 4KiB, got %v", cfg.BlockSize)
	}
	if cfg.MaxConcurrency != 16 {
		t.Errorf("expected default max_concurrency 16, got %d", cfg.MaxConcurrency)
	}
	if cfg.RingSize != 4096 {
		t.Errorf("expected default ring_size 4096, got %d", cfg.RingSize)
	}
	if cfg.PersistMode != "sync" {
		t.Errorf("expected default persist_mode sync, got %q", cfg.PersistMode)
	}
	if cfg.PersistInterval != 100*time.Millisecond {
		t.Errorf("expected default persist_interval 100ms, got %v", cfg.PersistInterval)
	}
}

func TestApplyDefaults_DoesNotOverrideSetFields(t *testing.T) {
	cfg := &Config{MaxConcurrency: 2, RingSize: 8}
	ApplyDefaults(cfg)

	if cfg.MaxConcurrency != 2 {
		t.Errorf("expected max_concurrency to stay 2, got %d", cfg.MaxConcurrency)
	}
	if cfg.RingSize != 8 {
		t.Errorf("expected ring_size to stay 8, got %d", cfg.RingSize)
	}
}

func TestApplyDefaults_Metrics(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Metrics.Port != 9090 {
		t.Errorf("expected default metrics port 9090, got %d", cfg.Metrics.Port)
	}
}
