// Package config provides YAML-based configuration loading for repodex.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

const (
	// DefaultDir is the per-user directory holding the database and config.
	DefaultDir = "~/.repodex"
	// DefaultConfigFile is the config file name inside DefaultDir.
	DefaultConfigFile = "config.yaml"
	// DefaultDBFile is the database file name inside DefaultDir.
	DefaultDBFile = "repodex.db"

	// EnvDBPath overrides Config.DBPath.
	EnvDBPath = "REPODEX_DB_PATH"
	// EnvLogLevel overrides Config.LogLevel.
	EnvLogLevel = "REPODEX_LOG_LEVEL"
)

// Config is the top-level repodex configuration, loaded from config.yaml.
type Config struct {
	DBPath       string      `yaml:"db_path"`
	Roots        []string    `yaml:"roots"`
	ExcludeDirs  []string    `yaml:"exclude_dirs"`
	ExcludeGlobs []string    `yaml:"exclude_globs"`
	Blacklist    []string    `yaml:"blacklist"`
	LogLevel     string      `yaml:"log_level"`
	LogFile      string      `yaml:"log_file"`
	Index        IndexConfig `yaml:"index"`
	Sync         SyncConfig  `yaml:"sync"`
}

// IndexConfig holds thresholds for the indexer.
type IndexConfig struct {
	BatchSize         int `yaml:"batch_size"`         // postings per insert transaction
	WarnThreshold     int `yaml:"warn_threshold"`     // posting count that triggers a size warning
	ParallelThreshold int `yaml:"parallel_threshold"` // content length (runes) above which trigram generation is parallel
	Workers           int `yaml:"workers"`            // goroutines used for parallel trigram generation
}

// SyncConfig holds scheduler settings.
type SyncConfig struct {
	BatchSize   int           `yaml:"batch_size"`
	Cooldown    time.Duration `yaml:"cooldown"`
	PullTimeout time.Duration `yaml:"pull_timeout"`
	Schedule    string        `yaml:"schedule"` // optional 5-field cron expression for `sync --schedule`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML config file from path and returns a validated Config.
// A missing file is not an error when path is the default location; the
// defaults are returned instead.
func Load(path string) (*Config, error) {
	expanded, err := ExpandHome(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	data, err := os.ReadFile(expanded)
	if errors.Is(err, os.ErrNotExist) && path == DefaultPath() {
		data = nil
	} else if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config. Environment overrides
// are applied after the file and before defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultPath returns the default config file location (unexpanded).
func DefaultPath() string {
	return DefaultDir + "/" + DefaultConfigFile
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDBPath); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}

// applyDefaults fills in default values for anything left unset.
func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = DefaultDir + "/" + DefaultDBFile
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Index.BatchSize == 0 {
		c.Index.BatchSize = 1000
	}
	if c.Index.WarnThreshold == 0 {
		c.Index.WarnThreshold = 5000
	}
	if c.Index.ParallelThreshold == 0 {
		c.Index.ParallelThreshold = 10000
	}
	if c.Index.Workers == 0 {
		c.Index.Workers = 4
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 5
	}
	if c.Sync.Cooldown == 0 {
		c.Sync.Cooldown = 30 * time.Minute
	}
	if c.Sync.PullTimeout == 0 {
		c.Sync.PullTimeout = 30 * time.Second
	}
}

// validate checks that all values are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log_level %q must be one of debug|info|warn|error", c.LogLevel))
	}
	if c.Index.BatchSize < 0 {
		errs = append(errs, "index.batch_size must be positive")
	}
	if c.Index.WarnThreshold < 0 {
		errs = append(errs, "index.warn_threshold must be positive")
	}
	if c.Index.ParallelThreshold < 0 {
		errs = append(errs, "index.parallel_threshold must be positive")
	}
	if c.Index.Workers < 0 {
		errs = append(errs, "index.workers must be positive")
	}
	if c.Sync.BatchSize < 0 {
		errs = append(errs, "sync.batch_size must be positive")
	}
	if c.Sync.Cooldown < 0 {
		errs = append(errs, "sync.cooldown must not be negative")
	}
	if c.Sync.PullTimeout < 0 {
		errs = append(errs, "sync.pull_timeout must not be negative")
	}
	if c.Sync.Schedule != "" {
		if _, err := cronParser.Parse(c.Sync.Schedule); err != nil {
			errs = append(errs, fmt.Sprintf("sync.schedule %q: %v", c.Sync.Schedule, err))
		}
	}
	for i, r := range c.Roots {
		if strings.TrimSpace(r) == "" {
			errs = append(errs, fmt.Sprintf("roots[%d] is empty", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) expandPaths() error {
	var err error
	if c.DBPath, err = ExpandHome(c.DBPath); err != nil {
		return fmt.Errorf("config: db_path: %w", err)
	}
	if c.LogFile, err = ExpandHome(c.LogFile); err != nil {
		return fmt.Errorf("config: log_file: %w", err)
	}
	for i := range c.Roots {
		if c.Roots[i], err = ExpandHome(c.Roots[i]); err != nil {
			return fmt.Errorf("config: roots[%d]: %w", i, err)
		}
	}
	return nil
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
