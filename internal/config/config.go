// Package config provides YAML configuration loading and validation for the
// log collector.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure for the collector binary.
type Config struct {
	// RootPath is the directory the collector watches non-recursively.
	// Required.
	RootPath string `yaml:"root_path"`

	// LogLevel sets the minimum log severity: "debug", "info", "warn", or
	// "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level"`

	// HealthAddr is the listen address for the /healthz and
	// /debug/live-files HTTP endpoints (e.g. "127.0.0.1:9100"). Defaults to
	// "127.0.0.1:9100" when omitted.
	HealthAddr string `yaml:"health_addr"`

	// Sink selects the downstream reference adapter entries are delivered
	// to: "stdout" or "sqlite". Defaults to "stdout" when omitted.
	Sink string `yaml:"sink"`

	// SQLitePath is the database file path used when Sink is "sqlite".
	// Required when Sink is "sqlite", ignored otherwise.
	SQLitePath string `yaml:"sqlite_path"`

	// AuditLogPath, if set, enables the hash-chained audit trail of
	// collector lifecycle events at this path. Optional.
	AuditLogPath string `yaml:"audit_log_path"`
}

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validSinks is the set of accepted sink selector strings.
var validSinks = map[string]bool{
	"stdout": true,
	"sqlite": true,
}

// LoadConfig reads the YAML file at path, unmarshals it into Config, applies
// defaults, and validates all required fields. On validation failure it
// returns one error joining every validation failure encountered.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}

	return &cfg, nil
}

// applyDefaults fills in zero-value optional fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.HealthAddr == "" {
		cfg.HealthAddr = "127.0.0.1:9100"
	}
	if cfg.Sink == "" {
		cfg.Sink = "stdout"
	}
}

// validate checks that all required fields are populated and that
// enumerated fields contain only valid values.
func validate(cfg *Config) error {
	var errs []error

	if cfg.RootPath == "" {
		errs = append(errs, errors.New("root_path is required"))
	}
	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}
	if !validSinks[cfg.Sink] {
		errs = append(errs, fmt.Errorf("sink %q must be one of: stdout, sqlite", cfg.Sink))
	}
	if cfg.Sink == "sqlite" && cfg.SQLitePath == "" {
		errs = append(errs, errors.New("sqlite_path is required when sink is \"sqlite\""))
	}

	return errors.Join(errs...)
}
