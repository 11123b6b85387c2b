package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is centralized process configuration. Values come from an optional
// steward.yaml plus STEWARD_-prefixed environment overrides; infra stays
// here and builders receive typed config.
type Config struct {
	ServiceName string `mapstructure:"service_name" validate:"required"`
	HTTPAddr    string `mapstructure:"http_addr" validate:"required"`

	PostgresDSN string `mapstructure:"postgres_dsn"`
	RedisAddr   string `mapstructure:"redis_addr"`

	Broker BrokerConfig `mapstructure:"broker"`

	Outbox OutboxConfig `mapstructure:"outbox"`
	Locks  LockConfig   `mapstructure:"locks"`
}

// BrokerConfig selects and configures the message broker adapter.
type BrokerConfig struct {
	// Type is "rabbitmq" or "memory".
	Type     string `mapstructure:"type" validate:"oneof=rabbitmq memory"`
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

// OutboxConfig tunes the relay. These are deployment parameters, not
// constants: ops teams adjust them per queue depth and broker behavior.
type OutboxConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	BatchSize       int           `mapstructure:"batch_size" validate:"gt=0"`
	MaxRetries      int           `mapstructure:"max_retries" validate:"gt=0"`
	InitialBackoff  time.Duration `mapstructure:"initial_backoff" validate:"gt=0"`
	ClaimStaleAfter time.Duration `mapstructure:"claim_stale_after" validate:"gt=0"`
}

// LockConfig tunes command resource locking.
type LockConfig struct {
	TTL         time.Duration `mapstructure:"ttl" validate:"gt=0"`
	AcquireWait time.Duration `mapstructure:"acquire_wait" validate:"gt=0"`
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName("steward")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/steward")

	v.SetDefault("service_name", "steward")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("broker.type", "memory")
	v.SetDefault("broker.exchange", "steward.events")
	v.SetDefault("outbox.poll_interval", 2*time.Second)
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.max_retries", 5)
	v.SetDefault("outbox.initial_backoff", time.Second)
	v.SetDefault("outbox.claim_stale_after", time.Minute)
	v.SetDefault("locks.ttl", 30*time.Second)
	v.SetDefault("locks.acquire_wait", 5*time.Second)

	v.SetEnvPrefix("STEWARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	return validator.New().Struct(c)
}
