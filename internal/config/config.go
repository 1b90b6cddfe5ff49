// Package config loads gridconsole settings from an optional YAML or JSON
// file plus GRIDCONSOLE_* environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/signalsfoundry/gridplanner/internal/logging"
	"github.com/signalsfoundry/gridplanner/internal/observability"
	"github.com/signalsfoundry/gridplanner/internal/session"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// GRIDCONSOLE_BACKEND_URL or GRIDCONSOLE_SESSION_FAST_POLL_INTERVAL.
const EnvPrefix = "GRIDCONSOLE"

// Config is the full daemon configuration.
type Config struct {
	Listen         string   `mapstructure:"listen" validate:"required"`
	MetricsListen  string   `mapstructure:"metrics_listen"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	Backend BackendConfig `mapstructure:"backend"`
	Sectors SectorsConfig `mapstructure:"sectors"`
	Clock   ClockConfig   `mapstructure:"clock"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Log     LogConfig     `mapstructure:"log"`

	Session session.Config              `mapstructure:"session"`
	Tracing observability.TracingConfig `mapstructure:"tracing"`
}

// BackendConfig locates the planning, resilience and reroute services.
type BackendConfig struct {
	URL     string        `mapstructure:"url" validate:"required,url"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// SectorsConfig selects the sector catalog and the initial sector.
type SectorsConfig struct {
	File    string `mapstructure:"file"`
	Default string `mapstructure:"default" validate:"required"`
}

// ClockConfig sets how often timers are pumped.
type ClockConfig struct {
	Tick time.Duration `mapstructure:"tick" validate:"gt=0"`
}

// NATSConfig enables event forwarding when URL is set.
type NATSConfig struct {
	URL           string `mapstructure:"url" validate:"omitempty,url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
	ClientName    string `mapstructure:"client_name"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=text json"`
}

// Logging converts the settings into a logging.Config.
func (c LogConfig) Logging() logging.Config {
	return logging.Config{Level: c.Level, Format: c.Format}
}

// Enabled reports whether events should be forwarded to NATS.
func (c NATSConfig) Enabled() bool { return c.URL != "" }

var validate = validator.New(validator.WithRequiredStructEnabled())

// SetDefaults registers every key with its default value. Keys must be
// known to viper for environment overrides to apply on Unmarshal.
func SetDefaults(v *viper.Viper) {
	sess := session.DefaultConfig()

	v.SetDefault("listen", ":8080")
	v.SetDefault("metrics_listen", ":9090")
	v.SetDefault("allowed_origins", []string{})

	v.SetDefault("backend.url", "http://localhost:8000")
	v.SetDefault("backend.timeout", 15*time.Second)

	v.SetDefault("sectors.file", "")
	v.SetDefault("sectors.default", "chitkul")

	v.SetDefault("clock.tick", 100*time.Millisecond)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "gridconsole")
	v.SetDefault("nats.client_name", "gridconsole")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("session.fast_poll_interval", sess.FastPollInterval)
	v.SetDefault("session.slow_poll_interval", sess.SlowPollInterval)
	v.SetDefault("session.telemetry_log_size", sess.TelemetryLogSize)
	v.SetDefault("session.healing_delay", sess.HealingDelay)
	v.SetDefault("session.healing_log_size", sess.HealingLogSize)
	v.SetDefault("session.request_timeout", sess.RequestTimeout)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "gridconsole")
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// New returns a viper instance with defaults and environment binding in
// place.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (if non-empty), applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	return LoadWith(New(), path)
}

// LoadWith is Load on a caller-supplied viper instance, so flags can be
// bound before loading.
func LoadWith(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
