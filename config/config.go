package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for a dorm project.
// All configuration is loaded from YAML and can be overridden by environment
// variables.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Models     string           `yaml:"models"`
	Migrations MigrationsConfig `yaml:"migrations"`
	Workdir    string           `yaml:"workdir"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MigrationsConfig locates the project's migration scripts.
type MigrationsConfig struct {
	// Dir is the directory holding the *.sql migration scripts.
	Dir string `yaml:"dir"`

	// Group is the logical migration group recorded in the ledger.
	// Empty means the directory name.
	Group string `yaml:"group"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable
// overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: DORM_SECTION_KEY
// For example: DORM_DATABASE_PATH, DORM_MIGRATIONS_DIR
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults for a fresh project.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/dorm.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Models: "models",
		Migrations: MigrationsConfig{
			Dir:   "migrations",
			Group: "migrations",
		},
		Workdir: ".",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the
// configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DORM_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("DORM_MIGRATIONS_DIR"); v != "" {
		cfg.Migrations.Dir = v
	}
	if v := os.Getenv("DORM_MIGRATIONS_GROUP"); v != "" {
		cfg.Migrations.Group = v
	}
	if v := os.Getenv("DORM_WORKDIR"); v != "" {
		cfg.Workdir = v
	}
	if v := os.Getenv("DORM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.BusyTimeout < 0 {
		errs = append(errs, "database.busy_timeout must not be negative")
	}
	if c.Migrations.Dir == "" {
		errs = append(errs, "migrations.dir is required")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not a known level", c.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Write marshals the configuration to a YAML file. Used by the CLI's init
// command to author a starter config.
func (c *Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// GroupName returns the effective migration group name.
func (m MigrationsConfig) GroupName() string {
	if m.Group != "" {
		return m.Group
	}
	return m.Dir
}
