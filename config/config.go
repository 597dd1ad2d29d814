package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"stocks-simulator/models"
)

var ErrMissingJWTSecret = errors.New("JWT_SECRET must be set")

// Config holds every setting the server reads from the environment.
type Config struct {
	Port string

	DBDriver       string
	DBHost         string
	DBUser         string
	DBPassword     string
	DBName         string
	DBPort         string
	DBTimeZone     string
	DBMaxOpenConns int
	DBMaxIdleConns int
	SQLitePath     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	AlphaVantageAPIKey string
	PriceProvider      string
	QuoteCacheTTL      time.Duration

	LockTimeout      time.Duration
	OperationTimeout time.Duration
	StartingCash     decimal.Decimal

	LogLevel string
}

// Load reads .env (if present) and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function, applying defaults for
// anything unset.
func FromEnv(getenv func(string) string) (Config, error) {
	p := parser{getenv: getenv}
	cfg := Config{
		Port: p.str("PORT", "8080"),

		DBDriver:       strings.ToLower(p.str("DB_DRIVER", "postgres")),
		DBHost:         p.str("DB_HOST", "localhost"),
		DBUser:         p.str("DB_USER", "postgres"),
		DBPassword:     p.str("DB_PASSWORD", ""),
		DBName:         p.str("DB_NAME", "finance"),
		DBPort:         p.str("DB_PORT", "5432"),
		DBTimeZone:     p.str("DB_TIMEZONE", "UTC"),
		DBMaxOpenConns: p.int("DB_MAX_OPEN_CONNS", 20),
		DBMaxIdleConns: p.int("DB_MAX_IDLE_CONNS", 5),
		SQLitePath:     p.str("SQLITE_PATH", "finance.db"),

		RedisAddr:     p.str("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: p.str("REDIS_PASSWORD", ""),
		RedisDB:       p.int("REDIS_DB", 0),

		JWTSecret:       p.str("JWT_SECRET", ""),
		AccessTokenTTL:  p.duration("ACCESS_TOKEN_TTL", 24*time.Hour),
		RefreshTokenTTL: p.duration("REFRESH_TOKEN_TTL", 7*24*time.Hour),

		AlphaVantageAPIKey: p.str("ALPHA_VANTAGE_API_KEY", ""),
		PriceProvider:      strings.ToLower(p.str("PRICE_PROVIDER", "alphavantage")),
		QuoteCacheTTL:      p.duration("QUOTE_CACHE_TTL", 5*time.Minute),

		LockTimeout:      p.duration("LOCK_TIMEOUT", 5*time.Second),
		OperationTimeout: p.duration("OPERATION_TIMEOUT", 10*time.Second),
		StartingCash:     p.decimal("STARTING_CASH", models.DefaultCash),

		LogLevel: p.str("LOG_LEVEL", "info"),
	}
	if p.err != nil {
		return Config{}, p.err
	}

	if cfg.JWTSecret == "" {
		return Config{}, ErrMissingJWTSecret
	}
	switch cfg.DBDriver {
	case "postgres", "sqlite":
	default:
		return Config{}, fmt.Errorf("DB_DRIVER: unsupported driver %q", cfg.DBDriver)
	}
	switch cfg.PriceProvider {
	case "alphavantage", "yahoo":
	default:
		return Config{}, fmt.Errorf("PRICE_PROVIDER: unsupported provider %q", cfg.PriceProvider)
	}
	if cfg.StartingCash.IsNegative() {
		return Config{}, fmt.Errorf("STARTING_CASH: must not be negative")
	}
	return cfg, nil
}

// PostgresDSN is the connection string handed to the postgres driver.
func (c Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=%s",
		c.DBHost,
		c.DBUser,
		c.DBPassword,
		c.DBName,
		c.DBPort,
		c.DBTimeZone,
	)
}

// parser collects the first conversion error so FromEnv can read every
// variable in one pass.
type parser struct {
	getenv func(string) string
	err    error
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) int(key string, def int) int {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return n
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return d
}

func (p *parser) decimal(key string, def decimal.Decimal) decimal.Decimal {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return d
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%s: %w", key, err)
	}
}
