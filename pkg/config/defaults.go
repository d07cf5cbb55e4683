package config

import (
	"path/filepath"
	"time"

	"github.com/karczex-2nd/pmemstream/internal/bytesize"
)

// ApplyDefaults fills in zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Size == 0 {
		cfg.Size = 64 * bytesize.MiB
	}
	if cfg.BlockSize == 0 {
		cfg.BlockSize = 4 * bytesize.KiB
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = 16
	}
	if cfg.RingSize == 0 {
		cfg.RingSize = 4096
	}
	if cfg.PersistMode == "" {
		cfg.PersistMode = "sync"
	}
	if cfg.PersistInterval == 0 {
		cfg.PersistInterval = 100 * time.Millisecond
	}
	applyLoggingDefaults(&cfg.Logging)
	applyMetricsDefaults(&cfg.Metrics)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// DefaultConfig returns a Config with Path set to stream.dat in the
// default configuration directory and every other field at its zero
// value, ready for ApplyDefaults.
func DefaultConfig() *Config {
	return &Config{
		Path: filepath.Join(defaultConfigDir(), "stream.dat"),
	}
}
