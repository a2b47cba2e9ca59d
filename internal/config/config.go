// Package config loads and validates the gateway configuration: a json5
// file overlaid with environment variables. Secrets (DSN, API tokens) come
// from env only and are never written to or read from the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/convogate/internal/schedule"
)

// Config is the root configuration.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Bridge    BridgeConfig    `json:"bridge"`
	Mirror    MirrorConfig    `json:"mirror"`
	Responder ResponderConfig `json:"responder"`
	Hours     HoursConfig     `json:"hours"`
	Pause     PauseConfig     `json:"pause"`
	Sessions  SessionsConfig  `json:"sessions"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// GatewayConfig configures the webhook HTTP listener.
type GatewayConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	WebhookToken string `json:"-"` // from env CONVOGATE_WEBHOOK_TOKEN only
	RateLimitRPM int    `json:"rate_limit_rpm"`
}

// BridgeConfig configures the customer-channel bridge connection.
type BridgeConfig struct {
	URL string `json:"url"` // websocket url of the messaging bridge
}

// MirrorConfig configures the human-agent chat platform.
type MirrorConfig struct {
	BaseURL        string `json:"base_url"`
	AccountID      string `json:"account_id"`
	Token          string `json:"-"` // from env CONVOGATE_MIRROR_TOKEN only
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// ResponderConfig configures the external reply generator.
type ResponderConfig struct {
	URL            string `json:"url"`
	Token          string `json:"-"` // from env CONVOGATE_RESPONDER_TOKEN only
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// HoursConfig is the raw business-hours schedule; parsed and validated into
// a schedule.Schedule at load time.
type HoursConfig struct {
	Timezone string            `json:"timezone"`
	Windows  map[string]string `json:"windows"` // weekday → "HH:MM-HH:MM"
}

// PauseConfig tunes the takeover mechanics.
type PauseConfig struct {
	ResumeCommand  string `json:"resume_command"`
	EchoTTLSeconds int    `json:"echo_ttl_seconds"`
}

// SessionsConfig bounds conversation history.
type SessionsConfig struct {
	MaxHistory int `json:"max_history"` // stored messages per conversation, 0 = unlimited
}

// DatabaseConfig selects the storage backend.
// PostgresDSN is NEVER read from the config file — only from env
// CONVOGATE_POSTGRES_DSN.
type DatabaseConfig struct {
	Mode        string `json:"mode,omitempty"` // "sqlite" (default) or "postgres"
	PostgresDSN string `json:"-"`
	SQLitePath  string `json:"sqlite_path,omitempty"`
}

// TelemetryConfig configures the optional OTLP trace exporter.
type TelemetryConfig struct {
	Enabled  bool   `json:"enabled,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	Insecure bool   `json:"insecure,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:         "0.0.0.0",
			Port:         18890,
			RateLimitRPM: 120,
		},
		Mirror:    MirrorConfig{TimeoutSeconds: 3},
		Responder: ResponderConfig{TimeoutSeconds: 5},
		Hours: HoursConfig{
			Timezone: "America/Sao_Paulo",
			Windows: map[string]string{
				"monday":    "08:00-18:00",
				"tuesday":   "08:00-18:00",
				"wednesday": "08:00-18:00",
				"thursday":  "08:00-18:00",
				"friday":    "08:00-18:00",
			},
		},
		Pause: PauseConfig{
			ResumeCommand:  "#voltar",
			EchoTTLSeconds: 10,
		},
		Sessions: SessionsConfig{MaxHistory: 200},
		Database: DatabaseConfig{
			Mode:       "sqlite",
			SQLitePath: "~/.convogate/convogate.db",
		},
	}
}

// Load reads config from a json5 file, then overlays env vars and validates.
// A missing file yields defaults plus env.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CONVOGATE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Gateway.Port = p
		}
	}
	if v := os.Getenv("CONVOGATE_WEBHOOK_TOKEN"); v != "" {
		c.Gateway.WebhookToken = v
	}
	if v := os.Getenv("CONVOGATE_BRIDGE_URL"); v != "" {
		c.Bridge.URL = v
	}
	if v := os.Getenv("CONVOGATE_MIRROR_TOKEN"); v != "" {
		c.Mirror.Token = v
	}
	if v := os.Getenv("CONVOGATE_RESPONDER_TOKEN"); v != "" {
		c.Responder.Token = v
	}
	if v := os.Getenv("CONVOGATE_POSTGRES_DSN"); v != "" {
		c.Database.PostgresDSN = v
		if c.Database.Mode == "" || c.Database.Mode == "sqlite" {
			c.Database.Mode = "postgres"
		}
	}
	if v := os.Getenv("CONVOGATE_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "1" || v == "true"
	}
	if v := os.Getenv("CONVOGATE_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
	}
}

// Validate rejects malformed configuration at load, so runtime code never
// sees a bad schedule or an impossible timeout.
func (c *Config) Validate() error {
	if _, err := c.ParseSchedule(); err != nil {
		return fmt.Errorf("hours: %w", err)
	}
	if c.Responder.TimeoutSeconds <= 0 || c.Responder.TimeoutSeconds > 30 {
		return fmt.Errorf("responder timeout_seconds %d out of range (1-30)", c.Responder.TimeoutSeconds)
	}
	if c.Mirror.TimeoutSeconds <= 0 || c.Mirror.TimeoutSeconds > 30 {
		return fmt.Errorf("mirror timeout_seconds %d out of range (1-30)", c.Mirror.TimeoutSeconds)
	}
	if c.Pause.EchoTTLSeconds <= 0 || c.Pause.EchoTTLSeconds > 300 {
		return fmt.Errorf("echo_ttl_seconds %d out of range (1-300)", c.Pause.EchoTTLSeconds)
	}
	switch c.Database.Mode {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown database mode %q", c.Database.Mode)
	}
	if c.Database.Mode == "postgres" && c.Database.PostgresDSN == "" {
		return fmt.Errorf("database mode postgres requires CONVOGATE_POSTGRES_DSN")
	}
	return nil
}

// ParseSchedule builds the business-hours evaluator from the raw config.
func (c *Config) ParseSchedule() (*schedule.Schedule, error) {
	return schedule.Parse(c.Hours.Timezone, c.Hours.Windows)
}

// EchoTTL returns the fingerprint TTL as a duration.
func (c *Config) EchoTTL() time.Duration {
	return time.Duration(c.Pause.EchoTTLSeconds) * time.Second
}

// ResponderTimeout returns the reply-generation budget.
func (c *Config) ResponderTimeout() time.Duration {
	return time.Duration(c.Responder.TimeoutSeconds) * time.Second
}

// MirrorTimeout returns the per-request mirror API budget.
func (c *Config) MirrorTimeout() time.Duration {
	return time.Duration(c.Mirror.TimeoutSeconds) * time.Second
}
