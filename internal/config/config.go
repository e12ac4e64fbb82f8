// Package config loads application configuration from a YAML file and
// environment variables. Environment variables take precedence over
// the file, the file over built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix namespaces environment overrides, e.g.
// INCIDENT_LEDGER_DATABASE__URL maps to database.url.
const envPrefix = "INCIDENT_LEDGER_"

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Log           LogConfig           `koanf:"log"`
	CORS          CORSConfig          `koanf:"cors"`
	Auth          AuthConfig          `koanf:"auth"`
	Audit         AuditConfig         `koanf:"audit"`
	Notifications NotificationsConfig `koanf:"notifications"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// DatabaseConfig contains PostgreSQL settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CORSConfig contains CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// AuthConfig contains token authentication settings.
type AuthConfig struct {
	JWTSecret     string        `koanf:"jwt_secret"`
	TokenDuration time.Duration `koanf:"token_duration"`
}

// AuditConfig contains audit hashing settings. PreviousSecrets keeps
// digests signed under retired secrets verifiable during rotation.
type AuditConfig struct {
	Secret          string   `koanf:"secret"`
	PreviousSecrets []string `koanf:"previous_secrets"`
}

// NotificationsConfig contains notification dispatch settings.
type NotificationsConfig struct {
	Enabled            bool             `koanf:"enabled"`
	NotifyOnTransition bool             `koanf:"notify_on_transition"`
	DispatchTimeout    time.Duration    `koanf:"dispatch_timeout"`
	Discord            DiscordConfig    `koanf:"discord"`
	PagerDuty          PagerDutyConfig  `koanf:"pagerduty"`
}

// DiscordConfig contains Discord webhook settings.
type DiscordConfig struct {
	Enabled    bool    `koanf:"enabled"`
	WebhookURL string  `koanf:"webhook_url"`
	Username   string  `koanf:"username"`
	RateLimit  float64 `koanf:"rate_limit"`
}

// PagerDutyConfig contains PagerDuty Events API settings.
type PagerDutyConfig struct {
	Enabled    bool   `koanf:"enabled"`
	RoutingKey string `koanf:"routing_key"`
	EventsURL  string `koanf:"events_url"`
}

// Load reads configuration from the given YAML file path (may be empty
// or missing) and environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	cfg := defaults()

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	// Double underscore separates nesting levels so that keys may
	// themselves contain underscores.
	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Auth: AuthConfig{
			TokenDuration: 24 * time.Hour,
		},
		Notifications: NotificationsConfig{
			Enabled:         true,
			DispatchTimeout: 10 * time.Second,
			Discord: DiscordConfig{
				Username:  "incident-ledger",
				RateLimit: 5,
			},
			PagerDuty: PagerDutyConfig{
				EventsURL: "https://events.pagerduty.com/v2/enqueue",
			},
		},
	}
}

func (c *Config) validate() error {
	var errs []error

	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Audit.Secret == "" {
		errs = append(errs, errors.New("audit.secret is required"))
	}
	if c.Notifications.Enabled {
		if c.Notifications.Discord.Enabled && c.Notifications.Discord.WebhookURL == "" {
			errs = append(errs, errors.New("notifications.discord.webhook_url is required when discord is enabled"))
		}
		if c.Notifications.PagerDuty.Enabled && c.Notifications.PagerDuty.RoutingKey == "" {
			errs = append(errs, errors.New("notifications.pagerduty.routing_key is required when pagerduty is enabled"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
