package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultPath = "config.json"
	EnvPrefix   = "QUEUECTL"
)

// Config holds queue settings. Durations are stored in seconds.
type Config struct {
	MaxRetries    int     `mapstructure:"max_retries" json:"max_retries"`
	BackoffBase   float64 `mapstructure:"backoff_base" json:"backoff_base"`
	MaxBackoff    int     `mapstructure:"max_backoff" json:"max_backoff"`
	PollInterval  float64 `mapstructure:"poll_interval" json:"poll_interval"`
	Timeout       int     `mapstructure:"timeout" json:"timeout"`
	GracePeriod   int     `mapstructure:"grace_period" json:"grace_period"`
	StaleAfter    int     `mapstructure:"stale_after" json:"stale_after"`
	DBPath        string  `mapstructure:"db_path" json:"db_path"`
	LogDir        string  `mapstructure:"log_dir" json:"log_dir"`
	LogLevel      string  `mapstructure:"log_level" json:"log_level"`
	LogFormat     string  `mapstructure:"log_format" json:"log_format"`
	EnqueueRate   float64 `mapstructure:"enqueue_rate" json:"enqueue_rate"`
	DashboardAddr string  `mapstructure:"dashboard_addr" json:"dashboard_addr"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:    3,
		BackoffBase:   2,
		MaxBackoff:    0,
		PollInterval:  1,
		Timeout:       10,
		GracePeriod:   2,
		StaleAfter:    300,
		DBPath:        "queue.db",
		LogDir:        "logs",
		LogLevel:      "info",
		LogFormat:     "console",
		EnqueueRate:   0,
		DashboardAddr: ":5000",
	}
}

// numericKeys are coerced from strings on Set
var numericKeys = map[string]bool{
	"max_retries":   true,
	"backoff_base":  true,
	"max_backoff":   true,
	"poll_interval": true,
	"timeout":       true,
	"grace_period":  true,
	"stale_after":   true,
	"enqueue_rate":  true,
}

// Keys lists every supported configuration key
func Keys() []string {
	values := toMap(DefaultConfig())
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Load reads the config file at path, creating it with defaults when missing.
// Environment variables prefixed with QUEUECTL_ override file values.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := Save(path, DefaultConfig()); err != nil {
			return nil, err
		}
	}

	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Save writes cfg to path as JSON
func Save(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config dir: %w", err)
		}
	}

	v := newViper(path)
	for k, val := range toMap(cfg) {
		v.Set(k, val)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// Set updates one key in the file at path and returns the new config.
// Unknown keys are rejected; numeric keys must parse as numbers.
func Set(path, key, value string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	cfg := DefaultConfig()
	if _, err := os.Stat(path); err == nil {
		v := newViper(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	values := toMap(cfg)
	if _, ok := values[key]; !ok {
		return nil, fmt.Errorf("invalid config key: %s", key)
	}

	if numericKeys[key] {
		n, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: %s", key, value)
		}
		values[key] = n
	} else {
		values[key] = value
	}

	updated, err := fromMap(values)
	if err != nil {
		return nil, err
	}
	if err := updated.Validate(); err != nil {
		return nil, err
	}
	if err := Save(path, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	var errs []error
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("max_retries must not be negative"))
	}
	if c.BackoffBase <= 0 {
		errs = append(errs, errors.New("backoff_base must be positive"))
	}
	if c.MaxBackoff < 0 {
		errs = append(errs, errors.New("max_backoff must not be negative"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll_interval must be positive"))
	}
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if c.GracePeriod <= 0 {
		errs = append(errs, errors.New("grace_period must be positive"))
	}
	if c.StaleAfter <= 0 {
		errs = append(errs, errors.New("stale_after must be positive"))
	} else if c.StaleAfter <= c.Timeout+c.GracePeriod {
		// a job still inside its timeout must never look abandoned
		errs = append(errs, fmt.Errorf("stale_after (%d) must exceed timeout + grace_period (%d)", c.StaleAfter, c.Timeout+c.GracePeriod))
	}
	if c.EnqueueRate < 0 {
		errs = append(errs, errors.New("enqueue_rate must not be negative"))
	}
	if strings.TrimSpace(c.DBPath) == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	return errors.Join(errs...)
}

func (c *Config) PollIntervalDuration() time.Duration {
	return time.Duration(c.PollInterval * float64(time.Second))
}

func (c *Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

func (c *Config) GracePeriodDuration() time.Duration {
	return time.Duration(c.GracePeriod) * time.Second
}

func (c *Config) StaleAfterDuration() time.Duration {
	return time.Duration(c.StaleAfter) * time.Second
}

// MaxRunDuration is the longest an attempt can hold a job: the timeout plus
// the grace period before the process is killed.
func (c *Config) MaxRunDuration() time.Duration {
	return c.TimeoutDuration() + c.GracePeriodDuration()
}

func (c *Config) MaxBackoffDuration() time.Duration {
	return time.Duration(c.MaxBackoff) * time.Second
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	for k, val := range toMap(DefaultConfig()) {
		v.SetDefault(k, val)
	}
	return v
}

func toMap(cfg *Config) map[string]any {
	return map[string]any{
		"max_retries":    cfg.MaxRetries,
		"backoff_base":   cfg.BackoffBase,
		"max_backoff":    cfg.MaxBackoff,
		"poll_interval":  cfg.PollInterval,
		"timeout":        cfg.Timeout,
		"grace_period":   cfg.GracePeriod,
		"stale_after":    cfg.StaleAfter,
		"db_path":        cfg.DBPath,
		"log_dir":        cfg.LogDir,
		"log_level":      cfg.LogLevel,
		"log_format":     cfg.LogFormat,
		"enqueue_rate":   cfg.EnqueueRate,
		"dashboard_addr": cfg.DashboardAddr,
	}
}

func fromMap(values map[string]any) (*Config, error) {
	data, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}
