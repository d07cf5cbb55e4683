package commands

import (
	"fmt"

	"github.com/karczex-2nd/pmemstream/internal/logger"
	"github.com/karczex-2nd/pmemstream/pkg/config"
	"github.com/karczex-2nd/pmemstream/pkg/metrics"
)

// loadConfig loads configuration from the global --config flag and
// initializes the structured logger from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return nil, err
	}
	if err := initLogger(cfg); err != nil {
		return nil, err
	}
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}
	return cfg, nil
}

func initLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}
