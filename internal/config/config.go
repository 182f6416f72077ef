// Package config loads the optional rvbench YAML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "RVBENCH_CONFIG"

// Default values for benchmark configuration.
const (
	DefaultIterations       = 10000
	DefaultProgressInterval = 1000
	DefaultProgress         = "steps"
	DefaultProfileDir       = "run.profile"
	DefaultMemorySize       = 4 << 20 // 4 MiB
	DefaultLogLevel         = "info"
)

// Config holds the parsed configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	RawIterations       int    `yaml:"iterations"`
	RawProgressInterval int    `yaml:"progress_interval"`
	RawProgress         string `yaml:"progress"` // steps, bar or auto
	RawProfileDir       string `yaml:"profile_dir"`
	TraceFile           string `yaml:"trace_file"`  // empty disables the phase trace
	BaselineDB          string `yaml:"baseline_db"` // empty disables the baseline store
	RawMemorySize       uint64 `yaml:"memory_size"` // bytes
	RawLogLevel         string `yaml:"log_level"`
}

// Iterations returns the configured iteration count or the default.
func (c *Config) Iterations() int {
	if c.RawIterations > 0 {
		return c.RawIterations
	}
	return DefaultIterations
}

// ProgressInterval returns the configured step interval or the default.
func (c *Config) ProgressInterval() int {
	if c.RawProgressInterval > 0 {
		return c.RawProgressInterval
	}
	return DefaultProgressInterval
}

// Progress returns the configured progress mode or the default.
func (c *Config) Progress() string {
	if c.RawProgress != "" {
		return c.RawProgress
	}
	return DefaultProgress
}

// ProfileDir returns the directory CPU profiles are written to.
func (c *Config) ProfileDir() string {
	if c.RawProfileDir != "" {
		return c.RawProfileDir
	}
	return DefaultProfileDir
}

// MemorySize returns the guest memory size in bytes.
func (c *Config) MemorySize() uint64 {
	if c.RawMemorySize > 0 {
		return c.RawMemorySize
	}
	return DefaultMemorySize
}

// LogLevel returns the parsed log level. Validate has already rejected
// unknown names for configs returned by Load.
func (c *Config) LogLevel() slog.Level {
	level, _ := parseLevel(c.RawLogLevel)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	if s == "" {
		s = DefaultLogLevel
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

var progressModes = []string{"steps", "bar", "auto"}

// Validate checks the values that have no sensible fallback.
func (c *Config) Validate() error {
	var errs []error
	if c.RawProgress != "" && !contains(progressModes, c.RawProgress) {
		errs = append(errs, fmt.Errorf("unknown progress mode %q (want one of %s)",
			c.RawProgress, strings.Join(progressModes, ", ")))
	}
	if _, err := parseLevel(c.RawLogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.RawIterations < 0 {
		errs = append(errs, fmt.Errorf("iterations must not be negative, got %d", c.RawIterations))
	}
	return errors.Join(errs...)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Parse decodes YAML data into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Load reads the file named by path. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// LoadFromEnv loads the file named by $RVBENCH_CONFIG, if set.
func LoadFromEnv() (*Config, error) {
	return Load(os.Getenv(EnvVar))
}
