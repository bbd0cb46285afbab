package caretalk

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/caretalk/caretalk/pkg/configutil"
)

// Config is the root application configuration.
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`

	Backend  BackendConfig  `mapstructure:"backend"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Voice    VoiceConfig    `mapstructure:"voice"`
	Capture  CaptureConfig  `mapstructure:"capture"`
	Location LocationConfig `mapstructure:"location"`
}

// BackendConfig points at the reasoning backend.
type BackendConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	UserID    int    `mapstructure:"user_id"`
	TimeoutMS int    `mapstructure:"timeout_ms"`
}

// GatewayConfig configures the device websocket listener.
type GatewayConfig struct {
	Addr           string   `mapstructure:"addr"`
	Path           string   `mapstructure:"path"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// VoiceConfig shapes synthesis output.
type VoiceConfig struct {
	Locale   string  `mapstructure:"locale"`
	NameHint string  `mapstructure:"name_hint"`
	Rate     float64 `mapstructure:"rate"`
	Pitch    float64 `mapstructure:"pitch"`
}

// CaptureConfig selects the server-side recognizer used for devices that can
// only stream raw audio. Settings are provider-specific.
type CaptureConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

// LocationConfig controls periodic location reporting.
type LocationConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	IntervalMS     int  `mapstructure:"interval_ms"`
	MaxRetries     int  `mapstructure:"max_retries"`
	RetryBackoffMS int  `mapstructure:"retry_backoff_ms"`
}

// LoadConfig reads configuration from a file and CARETALK_* environment
// variables. An empty path falls back to config.yaml in the working
// directory; a missing default file is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("backend.timeout_ms", 0)
	v.SetDefault("gateway.addr", ":8080")
	v.SetDefault("gateway.path", "/ws")
	v.SetDefault("gateway.allow_any_origin", false)
	v.SetDefault("voice.locale", "en-US")
	v.SetDefault("voice.name_hint", "Samantha")
	v.SetDefault("voice.rate", 0.85)
	v.SetDefault("voice.pitch", 1.0)
	v.SetDefault("capture.provider", "mock")
	v.SetDefault("location.enabled", false)
	v.SetDefault("location.interval_ms", 60000)
	v.SetDefault("location.max_retries", 3)
	v.SetDefault("location.retry_backoff_ms", 2000)

	v.SetEnvPrefix("CARETALK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.expandEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandEnv resolves ${VAR} references in string values so secrets can stay
// out of the config file.
func (c *Config) expandEnv() {
	c.Backend.BaseURL = os.ExpandEnv(c.Backend.BaseURL)
	for k, val := range c.Capture.Settings {
		if s, ok := val.(string); ok {
			c.Capture.Settings[k] = os.ExpandEnv(s)
		}
	}
}

// Validate rejects configurations that cannot produce a working pipeline.
func (c *Config) Validate() error {
	if err := configutil.RequireString(c.Backend.BaseURL, "backend.base_url"); err != nil {
		return err
	}
	if c.Backend.UserID <= 0 {
		return fmt.Errorf("backend.user_id must be a positive integer")
	}
	if err := configutil.RequireString(c.Capture.Provider, "capture.provider"); err != nil {
		return err
	}
	return nil
}
