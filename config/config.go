// Package config loads clipdex configuration from TOML files and
// environment variables using Viper.
//
// Precedence (lowest to highest): defaults < config file < env vars.
// Environment variables use the CLIPDEX_ prefix with dots replaced by
// underscores, e.g. CLIPDEX_CLASSIFY_API_KEY.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/clipdex/clipdex/errors"
)

// Config represents the core clipdex configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Classify ClassifyConfig `mapstructure:"classify"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Queue    QueueConfig    `mapstructure:"queue"`
}

// ServerConfig configures the clipdex HTTP server
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	WorkerToken    string   `mapstructure:"worker_token"` // bearer token the queue presents on worker callbacks
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ClassifyConfig configures the AI classification client
type ClassifyConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	APIKey         string  `mapstructure:"api_key"`
	Model          string  `mapstructure:"model"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	Temperature    float64 `mapstructure:"temperature"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	CallsPerMinute int     `mapstructure:"calls_per_minute"`
}

// Timeout returns the classification call timeout as a duration.
func (c ClassifyConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// JobsConfig configures the classification job engine
type JobsConfig struct {
	Workers            int `mapstructure:"workers"`              // bounded concurrency for the in-process runner
	BatchSize          int `mapstructure:"batch_size"`           // items per classification call
	ActiveTTLSeconds   int `mapstructure:"active_ttl_seconds"`   // job record expiry while active
	TerminalTTLSeconds int `mapstructure:"terminal_ttl_seconds"` // job record expiry after a terminal state
	PausePollSeconds   int `mapstructure:"pause_poll_seconds"`   // how often suspended workers re-check the pause flag
}

// ActiveTTL returns the expiry for active job records.
func (j JobsConfig) ActiveTTL() time.Duration {
	return time.Duration(j.ActiveTTLSeconds) * time.Second
}

// TerminalTTL returns the expiry for finished job records.
func (j JobsConfig) TerminalTTL() time.Duration {
	return time.Duration(j.TerminalTTLSeconds) * time.Second
}

// PausePoll returns the pause re-check interval.
func (j JobsConfig) PausePoll() time.Duration {
	return time.Duration(j.PausePollSeconds) * time.Second
}

// QueueConfig configures dispatch to the external message queue.
// When PublishURL is empty the server falls back to in-process execution.
type QueueConfig struct {
	PublishURL        string `mapstructure:"publish_url"`
	Token             string `mapstructure:"token"`
	WorkerURL         string `mapstructure:"worker_url"` // callback endpoint the queue delivers batches to
	PublishPerSecond  int    `mapstructure:"publish_per_second"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
}

// Timeout returns the publish call timeout as a duration.
func (q QueueConfig) Timeout() time.Duration {
	return time.Duration(q.TimeoutSeconds) * time.Second
}

// Load reads configuration from the default locations.
func Load() (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("CLIPDEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("clipdex")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.clipdex")
	v.AddConfigPath("/etc/clipdex")

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine - defaults plus env vars still apply
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}

	return LoadWithViper(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	return LoadWithViper(v)
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks configuration invariants that would otherwise surface
// as confusing runtime behavior.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.Newf("invalid server port: %d", c.Server.Port)
	}
	if c.Jobs.Workers < 1 {
		return errors.Newf("jobs.workers must be at least 1, got %d", c.Jobs.Workers)
	}
	if c.Jobs.BatchSize < 1 {
		return errors.Newf("jobs.batch_size must be at least 1, got %d", c.Jobs.BatchSize)
	}
	if c.Jobs.ActiveTTLSeconds < 1 || c.Jobs.TerminalTTLSeconds < 1 {
		return errors.New("job record TTLs must be positive")
	}
	if c.Jobs.TerminalTTLSeconds < c.Jobs.ActiveTTLSeconds {
		// Terminal records must outlive active ones so finished jobs stay queryable
		return errors.Newf("jobs.terminal_ttl_seconds (%d) must be >= jobs.active_ttl_seconds (%d)",
			c.Jobs.TerminalTTLSeconds, c.Jobs.ActiveTTLSeconds)
	}
	if c.Classify.CallsPerMinute < 1 {
		return errors.Newf("classify.calls_per_minute must be at least 1, got %d", c.Classify.CallsPerMinute)
	}
	return nil
}
