// Package config loads and exposes application configuration (TOML).
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath     = "config.toml"
	DefaultHTTPAddr       = ":3001"
	DefaultPGHost         = "127.0.0.1"
	DefaultPGPort         = 5432
	DefaultPGUser         = "postgres"
	DefaultPGDatabase     = "occasio"
	DefaultPGSSLMode      = "disable"
	DefaultRabbitExchange = "occasio.events"
	DefaultCountryCode    = "33"
	DefaultSweepSchedule  = "@every 1h"
)

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Rabbit    RabbitConfig    `toml:"rabbit"`
	Transport TransportConfig `toml:"transport"`
	Assistant AssistantConfig `toml:"assistant"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerConfig holds the HTTP server listen address.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// RabbitConfig holds the broadcast exchange settings. An empty URL disables
// the external publisher; events still flow through the in-process hub.
type RabbitConfig struct {
	URL      string `toml:"url"`
	Exchange string `toml:"exchange"`
}

// TransportConfig holds chat-transport settings: the bridge endpoint used
// for dispatch and the country code applied when formatting local numbers.
// An empty base URL leaves outbound sends disabled.
type TransportConfig struct {
	BaseURL     string `toml:"base_url"`
	APIKey      string `toml:"api_key"`
	CountryCode string `toml:"country_code"`
}

// AssistantConfig holds the reply-generation endpoint. Behavioural settings
// (keywords, delays, prompts) live in the database and are managed by the
// assistant settings service.
type AssistantConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// PipelineConfig holds ingestion tuning: the cron pattern for the duplicate
// sweep and the per-conversation queue depth.
type PipelineConfig struct {
	SweepSchedule string `toml:"sweep_schedule"`
	QueueSize     int    `toml:"queue_size"`
}

// Load reads and parses the TOML config file at path and applies default
// values for missing fields. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Rabbit: RabbitConfig{
			Exchange: DefaultRabbitExchange,
		},
		Transport: TransportConfig{
			CountryCode: DefaultCountryCode,
		},
		Assistant: AssistantConfig{
			TimeoutSeconds: 30,
		},
		Pipeline: PipelineConfig{
			SweepSchedule: DefaultSweepSchedule,
			QueueSize:     64,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
