// Package appconfig manages application configuration and data file paths.
package appconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"portkeep/internal/util"
)

// ForwarderConfig selects the external relay binary that carries traffic for
// each mapping.
type ForwarderConfig struct {
	Command string `yaml:"command"`
}

// UIConfig contains TUI display settings.
type UIConfig struct {
	RefreshSeconds int `yaml:"refresh_seconds"`
}

// WatchConfig controls the periodic reconcile loop of `portkeep watch`.
type WatchConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// Config holds application-level configuration.
type Config struct {
	StoreFile string          `yaml:"store_file"`
	LogFile   string          `yaml:"log_file"`
	Forwarder ForwarderConfig `yaml:"forwarder"`
	UI        UIConfig        `yaml:"ui"`
	Watch     WatchConfig     `yaml:"watch"`
}

// Default returns the default configuration. StoreFile is left empty here and
// resolved against the config directory in Load, so that a saved default
// config.yaml does not hard-code a home path.
func Default() Config {
	return Config{
		LogFile:   "/var/log/portkeep.log",
		Forwarder: ForwarderConfig{Command: "socat"},
		UI:        UIConfig{RefreshSeconds: util.DefaultRefreshSeconds},
		Watch:     WatchConfig{IntervalSeconds: util.DefaultWatchSeconds},
	}
}

// ConfigDir returns the application config directory path.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config/portkeep.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "portkeep"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home: %w", err)
	}
	return filepath.Join(home, ".config", "portkeep"), nil
}

// DefaultStoreFile returns the path the mapping store lives at when neither
// config.yaml nor PORTKEEP_STORE_FILE names one.
func DefaultStoreFile() (string, error) {
	d, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, "mappings"), nil
}

// Load reads config.yaml from the config directory.
// If the file doesn't exist, creates it with defaults.
//
// Environment overrides are applied last and win over file values:
// PORTKEEP_STORE_FILE, PORTKEEP_LOG_FILE, PORTKEEP_FORWARDER.
func Load() (Config, error) {
	d, err := ConfigDir()
	if err != nil {
		return Config{}, err
	}
	if err := os.MkdirAll(d, 0o755); err != nil {
		return Config{}, err
	}
	path := filepath.Join(d, "config.yaml")
	cfg := Default()
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		if err := Save(cfg); err != nil {
			return cfg, err
		}
	default:
		return Config{}, err
	}
	if cfg.UI.RefreshSeconds <= 0 {
		cfg.UI.RefreshSeconds = util.DefaultRefreshSeconds
	}
	if cfg.Watch.IntervalSeconds <= 0 {
		cfg.Watch.IntervalSeconds = util.DefaultWatchSeconds
	}
	if cfg.Forwarder.Command == "" {
		cfg.Forwarder.Command = "socat"
	}
	if cfg.LogFile == "" {
		cfg.LogFile = "/var/log/portkeep.log"
	}
	if cfg.StoreFile == "" {
		cfg.StoreFile = filepath.Join(d, "mappings")
	}
	if v := os.Getenv("PORTKEEP_STORE_FILE"); v != "" {
		cfg.StoreFile = v
	}
	if v := os.Getenv("PORTKEEP_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("PORTKEEP_FORWARDER"); v != "" {
		cfg.Forwarder.Command = v
	}
	return cfg, nil
}

// Save writes config to config.yaml.
func Save(cfg Config) error {
	d, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(d, 0o755); err != nil {
		return err
	}
	path := filepath.Join(d, "config.yaml")
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
