package cli

import (
	"fmt"

	"github.com/liftgate/liftgate/internal/config"
	"github.com/liftgate/liftgate/internal/stats"
	"github.com/liftgate/liftgate/internal/store"
)

// withStore opens the database, executes the function, and handles cleanup.
func withStore(fn func(*store.SQLiteStore) error) error {
	s, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	return fn(s)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func engineConfig(cfg config.Config) stats.Config {
	return stats.Config{
		MinimumSampleSize:     cfg.Engine.MinimumSampleSize,
		SignificanceThreshold: cfg.Engine.SignificanceThreshold,
	}
}
