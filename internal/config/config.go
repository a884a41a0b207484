// Package config provides unified configuration loading for meccsim.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nvandessel/meccsim/internal/archive"
	"github.com/nvandessel/meccsim/internal/logging"
)

// MeccsimConfig contains all meccsim configuration settings.
type MeccsimConfig struct {
	// Logging contains settings for operational and event logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Storage locates the run database and event trace.
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Archive configures compressed run archives and their retention.
	Archive ArchiveConfig `json:"archive" yaml:"archive"`

	// Server configures the live metrics stream.
	Server ServerConfig `json:"server" yaml:"server"`

	// Batch configures Monte Carlo reruns.
	Batch BatchConfig `json:"batch" yaml:"batch"`
}

// LoggingConfig configures meccsim's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables event logging of interventions and transitions to
	// <data_dir>/events.jsonl; "trace" adds every contact.
	Level string `json:"level" yaml:"level"`
}

// StorageConfig configures where runs are kept.
type StorageConfig struct {
	// DataDir holds meccsim.db and events.jsonl. Empty means ~/.meccsim.
	// Supports ${VAR} syntax and a leading ~.
	DataDir string `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`
}

// ArchiveConfig configures run archives.
type ArchiveConfig struct {
	// Dir holds archive files. Empty means <data_dir>/archives.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`

	// Keep is the number of newest archives retained (0 = unlimited).
	Keep int `json:"keep" yaml:"keep"`

	// MaxAge removes archives older than this, e.g. "30d" or "2w" (empty = no age limit).
	MaxAge string `json:"max_age,omitempty" yaml:"max_age,omitempty"`

	// MaxTotalSize caps the combined archive size, e.g. "100MB" (empty = no limit).
	MaxTotalSize string `json:"max_total_size,omitempty" yaml:"max_total_size,omitempty"`
}

// ServerConfig configures the live metrics stream.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `json:"addr" yaml:"addr"`

	// StepInterval is the pause between streamed steps.
	StepInterval time.Duration `json:"step_interval" yaml:"step_interval"`

	// MaxSteps caps the steps a client may request.
	MaxSteps int `json:"max_steps" yaml:"max_steps"`

	// MaxPopulation caps the population a client may request.
	MaxPopulation int `json:"max_population" yaml:"max_population"`

	// ReadTimeout drops a stream whose client stops answering pings.
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// RateLimit is the per-client message rate (messages/second) and Burst
	// its bucket size.
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"`
	Burst     int     `json:"burst" yaml:"burst"`
}

// BatchConfig configures Monte Carlo reruns.
type BatchConfig struct {
	// Workers bounds concurrent simulations.
	Workers int `json:"workers" yaml:"workers"`

	// Iterations is the default number of seeds per arm.
	Iterations int `json:"iterations" yaml:"iterations"`
}

// Default returns a MeccsimConfig with sensible defaults.
func Default() *MeccsimConfig {
	return &MeccsimConfig{
		Logging: LoggingConfig{
			Level: "info",
		},
		Archive: ArchiveConfig{
			Keep: 10,
		},
		Server: ServerConfig{
			Addr:          "127.0.0.1:8090",
			StepInterval:  250 * time.Millisecond,
			MaxSteps:      1000,
			MaxPopulation: 100000,
			ReadTimeout:   60 * time.Second,
			RateLimit:     20,
			Burst:         40,
		},
		Batch: BatchConfig{
			Workers:    4,
			Iterations: 100,
		},
	}
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.meccsim/config.yaml -> environment variables
func Load() (*MeccsimConfig, error) {
	config := Default()

	homeDir, err := os.UserHomeDir()
	if err == nil {
		configPath := filepath.Join(homeDir, ".meccsim", "config.yaml")
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*MeccsimConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Storage.DataDir = expandEnvVars(config.Storage.DataDir)
	config.Archive.Dir = expandEnvVars(config.Archive.Dir)

	return config, nil
}

// Validate checks that the configuration is valid.
func (c *MeccsimConfig) Validate() error {
	if c.Logging.Level != "" && !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	if c.Archive.Keep < 0 {
		return fmt.Errorf("archive keep must be non-negative, got %d", c.Archive.Keep)
	}
	if _, err := c.RetentionPolicy(); err != nil {
		return err
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server addr must not be empty")
	}
	if c.Server.StepInterval < 0 {
		return fmt.Errorf("server step_interval must be non-negative, got %v", c.Server.StepInterval)
	}
	if c.Server.MaxSteps <= 0 {
		return fmt.Errorf("server max_steps must be positive, got %d", c.Server.MaxSteps)
	}
	if c.Server.MaxPopulation <= 0 {
		return fmt.Errorf("server max_population must be positive, got %d", c.Server.MaxPopulation)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read_timeout must be positive, got %v", c.Server.ReadTimeout)
	}
	if c.Server.RateLimit <= 0 || c.Server.Burst <= 0 {
		return fmt.Errorf("server rate_limit and burst must be positive, got %g and %d", c.Server.RateLimit, c.Server.Burst)
	}

	if c.Batch.Workers <= 0 {
		return fmt.Errorf("batch workers must be positive, got %d", c.Batch.Workers)
	}
	if c.Batch.Iterations <= 0 {
		return fmt.Errorf("batch iterations must be positive, got %d", c.Batch.Iterations)
	}

	return nil
}

// DataDir returns the resolved data directory.
func (c *MeccsimConfig) DataDir() (string, error) {
	if c.Storage.DataDir != "" {
		return expandHome(c.Storage.DataDir)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".meccsim"), nil
}

// ArchiveDir returns the resolved archive directory.
func (c *MeccsimConfig) ArchiveDir() (string, error) {
	if c.Archive.Dir != "" {
		return expandHome(c.Archive.Dir)
	}
	dataDir, err := c.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "archives"), nil
}

// RetentionPolicy builds the archive retention policy from the Archive limits.
func (c *MeccsimConfig) RetentionPolicy() (archive.RetentionPolicy, error) {
	var maxAge time.Duration
	if c.Archive.MaxAge != "" {
		d, err := archive.ParseDuration(c.Archive.MaxAge)
		if err != nil {
			return nil, fmt.Errorf("archive max_age: %w", err)
		}
		if d < 0 {
			return nil, fmt.Errorf("archive max_age must be non-negative, got %v", d)
		}
		maxAge = d
	}
	var maxSize int64
	if c.Archive.MaxTotalSize != "" {
		n, err := archive.ParseSize(c.Archive.MaxTotalSize)
		if err != nil {
			return nil, fmt.Errorf("archive max_total_size: %w", err)
		}
		maxSize = n
	}
	return archive.NewPolicy(c.Archive.Keep, maxAge, maxSize), nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *MeccsimConfig) {
	if v := os.Getenv("MECCSIM_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}

	if v := os.Getenv("MECCSIM_DATA_DIR"); v != "" {
		config.Storage.DataDir = v
	}

	if v := os.Getenv("MECCSIM_ARCHIVE_KEEP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Archive.Keep = n
		}
	}

	if v := os.Getenv("MECCSIM_SERVER_ADDR"); v != "" {
		config.Server.Addr = v
	}

	if v := os.Getenv("MECCSIM_BATCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Batch.Workers = n
		}
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, strings.TrimPrefix(path, "~")), nil
}
