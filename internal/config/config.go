// Package config loads runtime configuration from a YAML file and the
// environment.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jtarver/budgeteer/internal/errors"
	"github.com/jtarver/budgeteer/internal/registry"
)

// TableConfig declares one synchronized table and its conflict policy.
type TableConfig struct {
	Name           string   `mapstructure:"name"`
	Strategy       string   `mapstructure:"strategy"`
	MergeFields    []string `mapstructure:"merge_fields"`
	PriorityFields []string `mapstructure:"priority_fields"`
}

// Config is the full runtime configuration.
type Config struct {
	DataDir string `mapstructure:"data_dir"`
	// Storage selects the local backend: "sqlite" or "file".
	Storage string `mapstructure:"storage"`
	UserID  string `mapstructure:"user_id"`

	Remote struct {
		BaseURL string        `mapstructure:"base_url"`
		Token   string        `mapstructure:"token"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"remote"`

	Sync struct {
		Interval      time.Duration `mapstructure:"interval"`
		ProbeInterval time.Duration `mapstructure:"probe_interval"`
	} `mapstructure:"sync"`

	Log struct {
		Level      string `mapstructure:"level"`
		Console    bool   `mapstructure:"console"`
		File       string `mapstructure:"file"`
		MaxSizeMB  int    `mapstructure:"max_size_mb"`
		MaxBackups int    `mapstructure:"max_backups"`
	} `mapstructure:"log"`

	Tables []TableConfig `mapstructure:"tables"`
}

// Load reads configuration from path (optional), then overlays
// BUDGETEER_* environment variables. A missing file falls back to
// defaults; a malformed one is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("data_dir", ".")
	v.SetDefault("storage", "sqlite")
	v.SetDefault("remote.timeout", 30*time.Second)
	v.SetDefault("sync.interval", 5*time.Minute)
	v.SetDefault("sync.probe_interval", 30*time.Second)
	v.SetDefault("log.level", "info")

	v.SetEnvPrefix("BUDGETEER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only covers keys viper already knows about, so every
	// key is bound explicitly or Unmarshal would miss env-only values
	// such as BUDGETEER_USER_ID.
	for _, key := range []string{
		"data_dir", "storage", "user_id",
		"remote.base_url", "remote.token", "remote.timeout",
		"sync.interval", "sync.probe_interval",
		"log.level", "log.console", "log.file", "log.max_size_mb", "log.max_backups",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, errors.Wrap(errors.ErrConfig, "bind env key "+key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(errors.ErrConfig, "read config file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(errors.ErrConfig, "parse config", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Storage != "sqlite" && c.Storage != "file" {
		return errors.Newf(errors.ErrConfig, "unknown storage backend %q", c.Storage)
	}
	if c.Remote.BaseURL == "" {
		return errors.New(errors.ErrConfig, "remote.base_url is required")
	}
	if c.UserID == "" {
		return errors.New(errors.ErrConfig, "user_id is required")
	}
	if len(c.Tables) == 0 {
		return errors.New(errors.ErrConfig, "at least one table must be configured")
	}
	return nil
}

// Registry builds the table registry from the configured tables.
func (c *Config) Registry() (*registry.Registry, error) {
	reg := registry.New()
	for _, t := range c.Tables {
		policy := registry.Policy{
			Strategy:       registry.Strategy(t.Strategy),
			MergeFields:    t.MergeFields,
			PriorityFields: t.PriorityFields,
		}
		if err := reg.Register(registry.Table(t.Name), policy); err != nil {
			return nil, errors.Wrap(errors.ErrConfig, "register table "+t.Name, err)
		}
	}
	return reg, nil
}

// TableNames returns the configured table names in declaration order.
func (c *Config) TableNames() []string {
	names := make([]string, 0, len(c.Tables))
	for _, t := range c.Tables {
		names = append(names, t.Name)
	}
	return names
}
