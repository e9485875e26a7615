// Package config loads engine and server settings from a YAML file with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Server  ServerConfig  `yaml:"server"`
	Engine  EngineConfig  `yaml:"engine"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
	// AuthToken, when set, is required as a bearer token on mutating
	// endpoints.
	AuthToken string `yaml:"auth_token"`
}

type EngineConfig struct {
	MinimumSampleSize     int64   `yaml:"minimum_sample_size"`
	SignificanceThreshold float64 `yaml:"significance_threshold"`
	SweepIntervalSeconds  int     `yaml:"sweep_interval_seconds"`
	EvaluationWorkers     int     `yaml:"evaluation_workers"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Storage: StorageConfig{Path: "./liftgate.db"},
		Server:  ServerConfig{Port: 8080},
		Engine: EngineConfig{
			MinimumSampleSize:     200,
			SignificanceThreshold: 0.95,
			SweepIntervalSeconds:  30,
			EvaluationWorkers:     4,
		},
	}
}

// Load reads the config file at path, falling back to defaults when the
// file does not exist, then applies LIFTGATE_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("failed to read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if cfg.Engine.SignificanceThreshold <= 0 || cfg.Engine.SignificanceThreshold >= 1 {
		return cfg, fmt.Errorf("significance_threshold must be in (0,1), got %v", cfg.Engine.SignificanceThreshold)
	}
	if cfg.Engine.MinimumSampleSize < 0 {
		return cfg, fmt.Errorf("minimum_sample_size must be non-negative, got %d", cfg.Engine.MinimumSampleSize)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("LIFTGATE_DB_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("LIFTGATE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LIFTGATE_AUTH_TOKEN"); v != "" {
		cfg.Server.AuthToken = v
	}
}
