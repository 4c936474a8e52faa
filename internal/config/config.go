// Package config provides configuration loading for node-sync.
//
// Settings are layered from lowest to highest precedence: built-in defaults,
// an optional YAML file, an optional .env file and the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/node-sync/internal/telemetry"
)

const (
	// DefaultDatabaseURL is a SQLite file in the working directory
	DefaultDatabaseURL = "sqlite://nodes.db"

	// DefaultPollIntervalSecs is the pause between two sync cycles
	DefaultPollIntervalSecs = 60

	// DefaultAddress listens on all interfaces
	DefaultAddress = ":8080"

	// DefaultFetchTimeout bounds a single rankings request
	DefaultFetchTimeout = "30s"

	// DefaultShutdownTimeout is the grace period for in-flight requests
	DefaultShutdownTimeout = "30s"

	// DefaultEnvFile is read from the working directory when present
	DefaultEnvFile = ".env"

	// EnvPrefix prefixes the environment variables of every setting
	EnvPrefix = "NODE_SYNC_"
)

// Variable names accepted without the prefix
const (
	EnvDatabaseURL      = "DATABASE_URL"
	EnvPollIntervalSecs = "POLL_INTERVAL_SECS"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path      string
	envFile   string
	lookupEnv func(string) (string, bool)
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// WithEnvFile reads dotenv settings from path instead of DefaultEnvFile.
// An empty path disables the .env layer.
func WithEnvFile(path string) Option {
	return func(cfg *loaderConfig) error {
		cfg.envFile = path
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// DatabaseURL selects the store: sqlite://, sqlite:, file: or postgres://
	DatabaseURL string `yaml:"databaseUrl"`

	// PollIntervalSecs is the pause between the end of one cycle and the
	// start of the next
	PollIntervalSecs int `yaml:"pollIntervalSecs"`

	// Address is the HTTP listen address
	Address string `yaml:"address"`

	// FetchTimeout bounds one rankings request (e.g. "30s")
	FetchTimeout string `yaml:"fetchTimeout"`

	// ShutdownTimeout bounds the graceful HTTP shutdown (e.g. "30s")
	ShutdownTimeout string `yaml:"shutdownTimeout"`

	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// Default returns a configuration holding the built-in defaults
func Default() *Config {
	return &Config{
		DatabaseURL:      DefaultDatabaseURL,
		PollIntervalSecs: DefaultPollIntervalSecs,
		Address:          DefaultAddress,
		FetchTimeout:     DefaultFetchTimeout,
		ShutdownTimeout:  DefaultShutdownTimeout,
	}
}

// LoadConfig builds the configuration from defaults, the YAML file given by
// WithConfigPath, the .env file and the environment, then validates it.
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{
		envFile:   DefaultEnvFile,
		lookupEnv: os.LookupEnv,
	}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	config := Default()

	if loaderCfg.path != "" {
		data, err := os.ReadFile(loaderCfg.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	dotenv, err := readEnvFile(loaderCfg.envFile)
	if err != nil {
		return nil, err
	}
	if err := loaderCfg.applyEnv(config, dotenv); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// readEnvFile parses a dotenv file. A missing file yields nil.
func readEnvFile(path string) (*viper.Viper, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat env file: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read env file %s: %w", path, err)
	}
	return v, nil
}

// envSetting maps a setting to the variable names it is read from, in
// order of preference
type envSetting struct {
	names []string
	apply func(*Config, string) error
}

var envSettings = []envSetting{
	{
		names: []string{EnvPrefix + EnvDatabaseURL, EnvDatabaseURL},
		apply: func(c *Config, v string) error {
			c.DatabaseURL = v
			return nil
		},
	},
	{
		names: []string{EnvPrefix + EnvPollIntervalSecs, EnvPollIntervalSecs},
		apply: func(c *Config, v string) error {
			secs, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s must be an integer number of seconds: %w", EnvPollIntervalSecs, err)
			}
			c.PollIntervalSecs = secs
			return nil
		},
	},
	{
		names: []string{EnvPrefix + "ADDRESS"},
		apply: func(c *Config, v string) error {
			c.Address = v
			return nil
		},
	},
	{
		names: []string{EnvPrefix + "FETCH_TIMEOUT"},
		apply: func(c *Config, v string) error {
			c.FetchTimeout = v
			return nil
		},
	},
	{
		names: []string{EnvPrefix + "SHUTDOWN_TIMEOUT"},
		apply: func(c *Config, v string) error {
			c.ShutdownTimeout = v
			return nil
		},
	},
}

func (l *loaderConfig) applyEnv(config *Config, dotenv *viper.Viper) error {
	for _, setting := range envSettings {
		value, ok := l.lookup(dotenv, setting.names)
		if !ok {
			continue
		}
		if err := setting.apply(config, value); err != nil {
			return err
		}
	}
	return nil
}

// lookup prefers the process environment over the .env file
func (l *loaderConfig) lookup(dotenv *viper.Viper, names []string) (string, bool) {
	for _, name := range names {
		if value, ok := l.lookupEnv(name); ok {
			return value, true
		}
	}
	if dotenv == nil {
		return "", false
	}
	for _, name := range names {
		key := strings.ToLower(name)
		if dotenv.InConfig(key) {
			return dotenv.GetString(key), true
		}
	}
	return "", false
}

// GetPollInterval returns the poll interval as a duration
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.PollIntervalSecs) * time.Second
}

// GetFetchTimeout returns the fetch timeout, falling back to the default
// when unset or invalid
func (c *Config) GetFetchTimeout() time.Duration {
	return parseDurationOr(c.FetchTimeout, DefaultFetchTimeout)
}

// GetShutdownTimeout returns the shutdown grace period, falling back to the
// default when unset or invalid
func (c *Config) GetShutdownTimeout() time.Duration {
	return parseDurationOr(c.ShutdownTimeout, DefaultShutdownTimeout)
}

func parseDurationOr(value, fallback string) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(fallback)
	return d
}

// Validate performs validation on the configuration
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	var errs []error
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, fmt.Errorf("databaseUrl is required"))
	}
	if c.PollIntervalSecs <= 0 {
		errs = append(errs, fmt.Errorf("pollIntervalSecs must be positive, got %d", c.PollIntervalSecs))
	}
	if c.Address == "" {
		errs = append(errs, fmt.Errorf("address is required"))
	}
	if err := validateDuration("fetchTimeout", c.FetchTimeout); err != nil {
		errs = append(errs, err)
	}
	if err := validateDuration("shutdownTimeout", c.ShutdownTimeout); err != nil {
		errs = append(errs, err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}

	return errors.Join(errs...)
}

func validateDuration(field, value string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s must be a valid duration (e.g., '30s', '1m'): %w", field, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", field, value)
	}
	return nil
}
