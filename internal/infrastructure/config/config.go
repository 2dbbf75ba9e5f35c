package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"

	"github.com/GriffinCanCode/pgexec/internal/sandbox"
)

// EnvPrefix prefixes every environment variable, e.g. PGEXEC_SANDBOX_TIMEOUT.
const EnvPrefix = "PGEXEC"

// FileEnv names a YAML file applied before environment variables.
const FileEnv = "PGEXEC_CONFIG"

// Config holds all application configuration. Defaults come from Default;
// a YAML file is layered on top and environment variables win last.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LogConfig       `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rateLimit" split_words:"true"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port" envconfig:"PORT"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" split_words:"true"`
}

// SandboxConfig holds execution limits and pool sizing.
type SandboxConfig struct {
	Mode              string        `yaml:"mode"`
	Timeout           time.Duration `yaml:"timeout"`
	MemoryLimitMB     int           `yaml:"memoryLimitMb" split_words:"true"`
	BindingsRoot      string        `yaml:"bindingsRoot" split_words:"true"`
	MinInstances      int           `yaml:"minInstances" split_words:"true"`
	MaxInstances      int           `yaml:"maxInstances" split_words:"true"`
	IdleTimeout       time.Duration `yaml:"idleTimeout" split_words:"true"`
	AllowCapabilities []string      `yaml:"allowCapabilities" split_words:"true"`
	DenyCapabilities  []string      `yaml:"denyCapabilities" split_words:"true"`
	WorkerCommand     []string      `yaml:"workerCommand" split_words:"true"`
}

// DatabaseConfig holds the capability backend configuration.
type DatabaseConfig struct {
	Driver           string        `yaml:"driver"`
	DSN              string        `yaml:"dsn" envconfig:"DATABASE_URL"`
	RowLimit         int           `yaml:"rowLimit" split_words:"true"`
	QueryTimeout     time.Duration `yaml:"queryTimeout" split_words:"true"`
	BreakerThreshold uint32        `yaml:"breakerThreshold" split_words:"true"`
	BreakerTimeout   time.Duration `yaml:"breakerTimeout" split_words:"true"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `yaml:"requestsPerSecond" split_words:"true"`
	Burst             int  `yaml:"burst"`
	Enabled           bool `yaml:"enabled"`
}

// Load builds configuration from defaults, the file named by PGEXEC_CONFIG
// (if set) and the environment.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(FileEnv))
}

// LoadFile is Load with an explicit YAML path. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8000",
			ShutdownTimeout: 10 * time.Second,
		},
		Sandbox: SandboxConfig{
			Mode:          string(sandbox.ModeInProcess),
			Timeout:       sandbox.DefaultTimeout,
			MemoryLimitMB: sandbox.DefaultMemoryLimitMB,
			BindingsRoot:  sandbox.DefaultBindingsRoot,
			MinInstances:  1,
			MaxInstances:  sandbox.DefaultMaxInstances,
			IdleTimeout:   sandbox.DefaultIdleTimeout,
		},
		Database: DatabaseConfig{
			Driver:           "sqlite",
			DSN:              "file::memory:?cache=shared",
			RowLimit:         1000,
			QueryTimeout:     30 * time.Second,
			BreakerThreshold: 5,
			BreakerTimeout:   30 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
			Enabled:           true,
		},
	}
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	var errs []error
	switch sandbox.Mode(c.Sandbox.Mode) {
	case sandbox.ModeInProcess, sandbox.ModeIsolated:
	default:
		errs = append(errs, fmt.Errorf("sandbox mode must be %q or %q, got %q",
			sandbox.ModeInProcess, sandbox.ModeIsolated, c.Sandbox.Mode))
	}
	if c.Sandbox.MaxInstances < c.Sandbox.MinInstances {
		errs = append(errs, fmt.Errorf("sandbox max instances (%d) below min instances (%d)",
			c.Sandbox.MaxInstances, c.Sandbox.MinInstances))
	}
	if c.Sandbox.Timeout <= 0 {
		errs = append(errs, errors.New("sandbox timeout must be positive"))
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database driver must be postgres or sqlite, got %q", c.Database.Driver))
	}
	if err := c.Sandbox.Options().Policy.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Options converts the sandbox section to unit options
func (s SandboxConfig) Options() sandbox.Options {
	policy := sandbox.DefaultPolicy()
	policy.AllowCapabilities = s.AllowCapabilities
	policy.DenyCapabilities = s.DenyCapabilities
	return sandbox.Options{
		Mode:          sandbox.Mode(s.Mode),
		Timeout:       s.Timeout,
		MemoryLimitMB: s.MemoryLimitMB,
		BindingsRoot:  s.BindingsRoot,
		Policy:        policy,
		WorkerCommand: s.WorkerCommand,
	}
}

// PoolOptions converts the sandbox section to pool options
func (s SandboxConfig) PoolOptions() sandbox.PoolOptions {
	return sandbox.PoolOptions{
		MinInstances: s.MinInstances,
		MaxInstances: s.MaxInstances,
		IdleTimeout:  s.IdleTimeout,
	}
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}
