// Package config loads process configuration from environment
// variables (with an optional .env file for local development),
// following the teacher's env-first pattern: joeshaw/envdecode for
// struct population, joho/godotenv for .env loading, and
// go-playground/validator for post-load validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// ServerConfig controls the admin HTTP surface (healthz/readyz/metrics/stats).
type ServerConfig struct {
	Host string `env:"SERVER_HOST,default=0.0.0.0"`
	Port int    `env:"SERVER_PORT,default=8080"`
}

// DatabaseConfig controls the relational store (notification_types,
// geofences, client_rules, rule_states, notifications).
type DatabaseConfig struct {
	DSN             string `env:"DATABASE_DSN,required"`
	MaxOpenConns    int    `env:"DATABASE_MAX_OPEN_CONNS,default=10"`
	MaxIdleConns    int    `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime int    `env:"DATABASE_CONN_MAX_LIFETIME_SECONDS,default=300"`
	MigrateOnStart  bool   `env:"DATABASE_MIGRATE_ON_START,default=true"`
}

// RedisConfig controls the state store (C3).
type RedisConfig struct {
	Addr     string        `env:"REDIS_ADDR,default=localhost:6379"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB,default=0"`
	TTL      time.Duration `env:"STATE_STORE_TTL,default=24h"`
}

// SourceConfig controls the durable partitioned log consumer (C1).
// Brokers is a comma-separated list (envdecode has no native slice
// support) split into BrokerList by Load.
type SourceConfig struct {
	Brokers             string        `env:"SOURCE_BROKERS,required"`
	BrokerList          []string      `env:"-"`
	Topic               string        `env:"SOURCE_TOPIC,default=vessel.state.changed"`
	ConsumerGroup       string        `env:"SOURCE_CONSUMER_GROUP,default=vessel-notifier"`
	FromBeginning       bool          `env:"SOURCE_FROM_BEGINNING,default=false"`
	MaxBackoff          time.Duration `env:"SOURCE_MAX_BACKOFF,default=2s"`
	DecodeErrorLogLimit int           `env:"SOURCE_DECODE_ERROR_LOG_LIMIT,default=10"`
}

// CatalogConfig controls the rule catalog refresh cadence (C4).
type CatalogConfig struct {
	RefreshInterval time.Duration `env:"CATALOG_REFRESH_INTERVAL,default=60s"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=json"`
}

// StatsConfig controls the periodic discovery-stats broadcast.
type StatsConfig struct {
	PublishInterval time.Duration `env:"STATS_PUBLISH_INTERVAL,default=30s"`
}

// Config is the top-level process configuration.
type Config struct {
	Service  string `env:"SERVICE_NAME,default=vessel-notifier"`
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Source   SourceConfig
	Catalog  CatalogConfig
	Logging  LoggingConfig
	Stats    StatsConfig
}

// Load reads a .env file if present, decodes environment variables
// into a Config, and validates it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode env: %w", err)
	}

	for _, b := range strings.Split(cfg.Source.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.Source.BrokerList = append(cfg.Source.BrokerList, b)
		}
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("config: validate: %w", err)
	}
	if len(cfg.Source.BrokerList) == 0 {
		return fmt.Errorf("config: SOURCE_BROKERS must name at least one broker")
	}
	return nil
}
