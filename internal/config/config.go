// Package config provides configuration for the dashboard core.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. DASHBOARD_HTTP_PORT.
const EnvPrefix = "DASHBOARD"

// Config holds the dashboard configuration.
type Config struct {
	// Server settings
	HTTPPort int `mapstructure:"http_port"`

	// Workflow service
	WorkflowURL string `mapstructure:"workflow_url"`
	StreamURL   string `mapstructure:"stream_url"`

	// History
	HistoryDSN string `mapstructure:"history_dsn"` // empty keeps history in memory only
	HistoryCap int    `mapstructure:"history_cap"`

	// Sessions
	Ceiling      int                 `mapstructure:"ceiling"`
	RejectPolicy domain.RejectPolicy `mapstructure:"reject_policy"`

	// Timeouts
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	CancelTimeout   time.Duration `mapstructure:"cancel_timeout"`
	DecisionTimeout time.Duration `mapstructure:"decision_timeout"`

	// Realtime
	ReconnectBaseWait time.Duration `mapstructure:"reconnect_base_wait"`
	ReconnectMaxWait  time.Duration `mapstructure:"reconnect_max_wait"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	PingTimeout       time.Duration `mapstructure:"ping_timeout"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"` // zero disables polling

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 8080)
	v.SetDefault("workflow_url", "http://localhost:8000")
	v.SetDefault("stream_url", "ws://localhost:8000")
	v.SetDefault("history_dsn", "")
	v.SetDefault("history_cap", 20)
	v.SetDefault("ceiling", 3)
	v.SetDefault("reject_policy", string(domain.RejectContinue))
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("cancel_timeout", 5*time.Second)
	v.SetDefault("decision_timeout", 15*time.Second)
	v.SetDefault("reconnect_base_wait", time.Second)
	v.SetDefault("reconnect_max_wait", 30*time.Second)
	v.SetDefault("ping_interval", 15*time.Second)
	v.SetDefault("ping_timeout", 45*time.Second)
	v.SetDefault("reconcile_interval", 30*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

// Load reads configuration from an optional .env file, an optional config
// file (DASHBOARD_CONFIG, or ./dashboard.{yaml,toml,json}) and the
// environment. Environment variables win.
func Load() (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("dashboard")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port %d", c.HTTPPort)
	}
	if c.Ceiling <= 0 {
		return fmt.Errorf("ceiling must be positive, got %d", c.Ceiling)
	}
	if c.HistoryCap <= 0 {
		return fmt.Errorf("history_cap must be positive, got %d", c.HistoryCap)
	}
	switch c.RejectPolicy {
	case domain.RejectContinue, domain.RejectEnd:
	default:
		return fmt.Errorf("invalid reject_policy %q (want %q or %q)", c.RejectPolicy, domain.RejectContinue, domain.RejectEnd)
	}
	if c.ReconnectMaxWait < c.ReconnectBaseWait {
		return fmt.Errorf("reconnect_max_wait %s is below reconnect_base_wait %s", c.ReconnectMaxWait, c.ReconnectBaseWait)
	}
	return nil
}
