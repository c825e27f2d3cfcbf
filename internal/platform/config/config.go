package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds everything the server reads from the environment. An empty
// DatabaseURL selects the in-memory stores; an empty RedisURL disables rate
// limiting; empty KafkaBrokers disables the audit mirror.
type Config struct {
	Addr        string `env:"CARDGATE_ADDR" envDefault:":8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`

	KafkaBrokers []string `env:"KAFKA_BROKERS"`
	AuditTopic   string   `env:"AUDIT_TOPIC" envDefault:"cardgate.audit"`

	JWTSigningKey string `env:"JWT_SIGNING_KEY" envDefault:"dev-secret-key-change-in-production"`
	SystemKey     string `env:"SYSTEM_KEY"`

	VerifyRateLimit  int           `env:"VERIFY_RATE_LIMIT" envDefault:"60"`
	VerifyRateWindow time.Duration `env:"VERIFY_RATE_WINDOW" envDefault:"1m"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// FromEnv loads the server configuration from environment variables.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
