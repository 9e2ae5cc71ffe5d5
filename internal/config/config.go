// Package config reads and writes the global ~/.courier/config.toml.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Remote configures the Message Service endpoint.
type Remote struct {
	BaseURL        string `toml:"base_url"`
	Token          string `toml:"token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Sync configures the background sync and scheduler cadence.
type Sync struct {
	IntervalSeconds          int    `toml:"interval_seconds"`
	SchedulerIntervalSeconds int    `toml:"scheduler_interval_seconds"`
	ProbeAddr                string `toml:"probe_addr"`
}

// Config is the persisted daemon configuration.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	UserID         string `toml:"user_id"`
	Remote         Remote `toml:"remote"`
	Sync           Sync   `toml:"sync"`
}

// Default returns the configuration used when no config file exists yet.
func Default() *Config {
	return &Config{
		Remote: Remote{
			BaseURL:        "http://localhost:8080",
			TimeoutSeconds: 10,
		},
		Sync: Sync{
			IntervalSeconds:          60,
			SchedulerIntervalSeconds: 30,
			ProbeAddr:                "1.1.1.1:443",
		},
	}
}

// Load reads config from the given path. Returns an error if the file is
// missing or malformed.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault reads config from path, falling back to defaults when the
// file does not exist. A malformed file is still an error.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
