// Package config loads service configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// DevJWTSecret signs tokens when JWT_SECRET is unset. Only accepted with the
// in-memory store.
const DevJWTSecret = "dev-secret-change-me"

type Config struct {
	Port     string     `env:"PORT" envDefault:"8080"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"info"`

	// Storage. An empty DATABASE_URL selects the in-memory store.
	DatabaseURL   string        `env:"DATABASE_URL"`
	RedisURL      string        `env:"REDIS_URL"`
	CacheTTL      time.Duration `env:"CACHE_TTL" envDefault:"30s"`
	RunMigrations bool          `env:"RUN_MIGRATIONS" envDefault:"true"`

	// Price oracle.
	OracleBaseURL string        `env:"ORACLE_BASE_URL" envDefault:"https://api.upbit.com"`
	OracleTimeout time.Duration `env:"ORACLE_TIMEOUT" envDefault:"5s"`
	QuoteCurrency string        `env:"QUOTE_CURRENCY" envDefault:"KRW"`

	// Competition rules.
	InitialBalance decimal.Decimal `env:"INITIAL_BALANCE" envDefault:"1000000"`
	FeeRate        decimal.Decimal `env:"FEE_RATE" envDefault:"0.01"`

	// Auth.
	JWTSecret  string        `env:"JWT_SECRET"`
	JWTTTL     time.Duration `env:"JWT_TTL" envDefault:"24h"`
	BcryptCost int           `env:"BCRYPT_COST" envDefault:"12"`

	LeaderboardCacheTTL time.Duration `env:"LEADERBOARD_CACHE_TTL" envDefault:"3s"`

	// Event stream. Kafka publishing is off when KAFKA_BROKERS is empty.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"trades"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
}

// Load reads .env (if present) and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks cross-field rules and fills the development JWT secret
// when running in memory mode.
func (c *Config) Validate() error {
	if !c.InitialBalance.IsPositive() {
		return errors.New("INITIAL_BALANCE must be positive")
	}
	if c.FeeRate.IsNegative() || c.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("FEE_RATE must be in [0, 1), got %s", c.FeeRate)
	}
	if c.JWTSecret == "" {
		if c.DatabaseURL != "" {
			return errors.New("JWT_SECRET is required when DATABASE_URL is set")
		}
		c.JWTSecret = DevJWTSecret
	}
	return nil
}

// MemoryMode reports whether the in-memory store is selected.
func (c *Config) MemoryMode() bool {
	return c.DatabaseURL == ""
}
