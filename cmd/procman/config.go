package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the configuration of the procman host.
type Config struct {
	Store struct {
		// Kind is one of "memory", "bolt" or "sqlite".
		Kind string `yaml:"kind"`

		// Path is the BoltDB file or the SQLite DSN.
		Path string `yaml:"path"`

		// Name is the name of the data-store within the database.
		Name string `yaml:"name"`
	} `yaml:"store"`

	Engine struct {
		CacheSize           int           `yaml:"cache_size"`
		DispatchConcurrency uint          `yaml:"dispatch_concurrency"`
		RetainFinished      bool          `yaml:"retain_finished"`
		TickleBackoff       time.Duration `yaml:"tickle_backoff"`
	} `yaml:"engine"`

	Log struct {
		Debug bool `yaml:"debug"`
	} `yaml:"log"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"metrics"`

	// Models are paths to YAML model definitions that are added to the
	// engine when it starts.
	Models []string `yaml:"models"`
}

// defaultConfig returns the configuration used when no config file exists.
func defaultConfig() Config {
	var cfg Config
	cfg.Store.Kind = "bolt"
	cfg.Store.Path = "procman.db"
	cfg.Store.Name = "procman"
	cfg.Metrics.Addr = ":9090"
	return cfg
}

// loadConfig reads the config file at path on top of the defaults.
//
// If path is empty the defaults are returned unchanged.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("unable to parse %s: %w", path, err)
	}

	switch cfg.Store.Kind {
	case "memory", "bolt", "sqlite":
	default:
		return Config{}, fmt.Errorf("unsupported store kind: %q", cfg.Store.Kind)
	}

	if cfg.Engine.CacheSize < 0 {
		return Config{}, fmt.Errorf("cache size must not be negative")
	}

	return cfg, nil
}
