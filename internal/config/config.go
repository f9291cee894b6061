// Package config loads ynab-sync settings from defaults, an optional YAML
// file, the environment and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/roach88/ynab-sync/internal/model"
	"github.com/roach88/ynab-sync/internal/ynab"
)

// EnvPrefix is prepended to every environment variable, e.g.
// YNAB_SYNC_DATABASE. The token is also read from YNAB_TOKEN.
const EnvPrefix = "YNAB_SYNC"

// Keys understood by Load.
const (
	KeyToken           = "token"
	KeyAPIURL          = "api_url"
	KeyDatabase        = "database"
	KeyMaxAttempts     = "max_attempts"
	KeyBaseDelay       = "base_delay"
	KeyMaxRetries      = "max_retries"
	KeyHistoryDays     = "history_days"
	KeyPendingDays     = "pending_days"
	KeyCleanupInterval = "cleanup_interval"
	KeyListen          = "listen"
	KeySyncCategories  = "sync_categories"
	KeyLogLevel        = "log_level"
	KeyLogFormat       = "log_format"
	KeyLogFile         = "log_file"
	KeyLogMaxSizeMB    = "log_max_size_mb"
	KeyLogMaxBackups   = "log_max_backups"
)

// Config is the effective configuration.
type Config struct {
	Token    string `mapstructure:"token" yaml:"token" json:"token"`
	APIURL   string `mapstructure:"api_url" yaml:"api_url" json:"api_url"`
	Database string `mapstructure:"database" yaml:"database" json:"database"`

	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts" json:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay" yaml:"base_delay" json:"base_delay"`
	MaxRetries  int           `mapstructure:"max_retries" yaml:"max_retries" json:"max_retries"`

	HistoryDays     int           `mapstructure:"history_days" yaml:"history_days" json:"history_days"`
	PendingDays     int           `mapstructure:"pending_days" yaml:"pending_days" json:"pending_days"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval" json:"cleanup_interval"`

	Listen         string `mapstructure:"listen" yaml:"listen" json:"listen"`
	SyncCategories bool   `mapstructure:"sync_categories" yaml:"sync_categories" json:"sync_categories"`

	LogLevel      string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	LogFormat     string `mapstructure:"log_format" yaml:"log_format" json:"log_format"`
	LogFile       string `mapstructure:"log_file" yaml:"log_file" json:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb" yaml:"log_max_size_mb" json:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups" yaml:"log_max_backups" json:"log_max_backups"`
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyToken, "")
	v.SetDefault(KeyAPIURL, ynab.DefaultServer)
	v.SetDefault(KeyDatabase, "ynab-sync.db")
	v.SetDefault(KeyMaxAttempts, 3)
	v.SetDefault(KeyBaseDelay, time.Second)
	v.SetDefault(KeyMaxRetries, model.MaxRetries)
	v.SetDefault(KeyHistoryDays, 30)
	v.SetDefault(KeyPendingDays, 7)
	v.SetDefault(KeyCleanupInterval, 24*time.Hour)
	v.SetDefault(KeyListen, ":3000")
	v.SetDefault(KeySyncCategories, false)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyLogMaxSizeMB, 50)
	v.SetDefault(KeyLogMaxBackups, 3)
}

// NewViper returns a viper instance with defaults and environment binding.
// Callers bind flags on it before calling Load.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv(KeyToken, EnvPrefix+"_TOKEN", "YNAB_TOKEN")
	return v
}

// Load reads file (if not empty) into v and decodes the result.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, &model.Error{
				Code:    model.ErrCodeConfiguration,
				Op:      "load config",
				Message: fmt.Sprintf("read %s", file),
				Err:     err,
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, &model.Error{Code: model.ErrCodeConfiguration, Op: "load config", Err: err}
	}
	return cfg, nil
}

// Validate checks settings every command needs.
func (c Config) Validate() error {
	var problems []string
	if c.Database == "" {
		problems = append(problems, "database path is required")
	}
	if c.MaxAttempts < 1 {
		problems = append(problems, "max_attempts must be at least 1")
	}
	if c.BaseDelay < 0 {
		problems = append(problems, "base_delay must not be negative")
	}
	if c.MaxRetries < 1 {
		problems = append(problems, "max_retries must be at least 1")
	}
	if c.HistoryDays < 0 || c.PendingDays < 0 {
		problems = append(problems, "retention days must not be negative")
	}
	if c.CleanupInterval <= 0 {
		problems = append(problems, "cleanup_interval must be positive")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		problems = append(problems, fmt.Sprintf("log_format %q must be text or json", c.LogFormat))
	}
	if len(problems) > 0 {
		return model.NewConfigurationError(strings.Join(problems, "; "))
	}
	return nil
}

// RequireRemote checks the settings needed to reach the budgeting API.
func (c Config) RequireRemote() error {
	if c.Token == "" {
		return model.NewConfigurationError("API token is required (set YNAB_TOKEN or token in the config file)")
	}
	if c.APIURL == "" {
		return model.NewConfigurationError("api_url is required")
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Token != "" {
		c.Token = "[redacted]"
	}
	return c
}

// YAML renders the redacted configuration.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c.Redacted())
}

// ParseLevel maps a level name such as "debug" or "WARN" to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, errors.New("log_level must be debug, info, warn or error")
	}
	return level, nil
}
