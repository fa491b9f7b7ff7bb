// Package config loads the ledger service configuration from an optional
// YAML file, an optional .env file and LEDGER_* environment variables, in
// increasing order of precedence.
package config

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/token_ledger/internal/token"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Token     TokenConfig     `yaml:"token"`
	Audit     AuditConfig     `yaml:"audit"`
	Redis     RedisConfig     `yaml:"redis"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host" env:"LEDGER_SERVER_HOST"`
	Port            int           `yaml:"port" env:"LEDGER_SERVER_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"LEDGER_SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"LEDGER_SERVER_WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"LEDGER_SERVER_IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"LEDGER_SERVER_SHUTDOWN_TIMEOUT"`
	AllowedOrigins  string        `yaml:"allowed_origins" env:"LEDGER_SERVER_ALLOWED_ORIGINS"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Origins splits AllowedOrigins on commas.
func (s ServerConfig) Origins() []string {
	return splitList(s.AllowedOrigins)
}

// LoggingConfig configures the logrus logger.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEDGER_LOG_LEVEL"`
	Format string `yaml:"format" env:"LEDGER_LOG_FORMAT"`
}

// DatabaseConfig selects and tunes the store. An empty DSN selects the
// in-memory store.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" env:"LEDGER_DATABASE_DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"LEDGER_DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"LEDGER_DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"LEDGER_DATABASE_CONN_MAX_LIFETIME"`
	Migrate         bool          `yaml:"migrate" env:"LEDGER_DATABASE_MIGRATE"`
}

// AuthConfig holds the RSA public key that verifies caller JWTs. Either
// the PEM itself or a path to it may be given.
type AuthConfig struct {
	PublicKey     string `yaml:"public_key" env:"LEDGER_AUTH_PUBLIC_KEY"`
	PublicKeyPath string `yaml:"public_key_path" env:"LEDGER_AUTH_PUBLIC_KEY_PATH"`
}

// LoadPublicKey parses the configured RSA public key.
func (a AuthConfig) LoadPublicKey() (*rsa.PublicKey, error) {
	pem := []byte(a.PublicKey)
	if len(pem) == 0 {
		data, err := os.ReadFile(a.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read auth public key: %w", err)
		}
		pem = data
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parse auth public key: %w", err)
	}
	return key, nil
}

// RateLimitConfig configures per-caller request limits.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" env:"LEDGER_RATE_LIMIT_ENABLED"`
	RequestsPerSecond int  `yaml:"requests_per_second" env:"LEDGER_RATE_LIMIT_RPS"`
	Burst             int  `yaml:"burst" env:"LEDGER_RATE_LIMIT_BURST"`
}

// TokenConfig describes the ledger created at genesis.
type TokenConfig struct {
	Name        string `yaml:"name" env:"LEDGER_TOKEN_NAME"`
	Symbol      string `yaml:"symbol" env:"LEDGER_TOKEN_SYMBOL"`
	Deployer    string `yaml:"deployer" env:"LEDGER_TOKEN_DEPLOYER"`
	FeeRateBps  int    `yaml:"fee_rate_bps" env:"LEDGER_TOKEN_FEE_RATE_BPS"`
	FeeAddress  string `yaml:"fee_address" env:"LEDGER_TOKEN_FEE_ADDRESS"`
	Pairs       string `yaml:"pairs" env:"LEDGER_TOKEN_PAIRS"`
	EventBuffer int    `yaml:"event_buffer" env:"LEDGER_TOKEN_EVENT_BUFFER"`
}

// AuditConfig schedules the conservation check. An empty schedule
// disables it.
type AuditConfig struct {
	Schedule string `yaml:"schedule" env:"LEDGER_AUDIT_SCHEDULE"`
}

// RedisConfig enables forwarding of committed events to a Redis pub/sub
// channel. An empty Addr disables it.
type RedisConfig struct {
	Addr        string `yaml:"addr" env:"LEDGER_REDIS_ADDR"`
	Password    string `yaml:"password" env:"LEDGER_REDIS_PASSWORD"`
	DB          int    `yaml:"db" env:"LEDGER_REDIS_DB"`
	Channel     string `yaml:"channel" env:"LEDGER_REDIS_CHANNEL"`
	QueueLength int    `yaml:"queue_length" env:"LEDGER_REDIS_QUEUE_LENGTH"`
}

// Genesis decodes the account fields.
func (t TokenConfig) Genesis() (deployer, feeAddress util.Uint160, pairs []util.Uint160, err error) {
	if deployer, err = token.ParseAccount(t.Deployer); err != nil {
		return deployer, feeAddress, nil, fmt.Errorf("token.deployer: %w", err)
	}
	if feeAddress, err = token.ParseAccount(t.FeeAddress); err != nil {
		return deployer, feeAddress, nil, fmt.Errorf("token.fee_address: %w", err)
	}
	for _, raw := range splitList(t.Pairs) {
		p, err := token.ParseAccount(raw)
		if err != nil {
			return deployer, feeAddress, nil, fmt.Errorf("token.pairs: %w", err)
		}
		pairs = append(pairs, p)
	}
	return deployer, feeAddress, pairs, nil
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			Migrate:         true,
		},
		RateLimit: RateLimitConfig{Enabled: true, RequestsPerSecond: 20, Burst: 40},
		Token: TokenConfig{
			Name:        "Pay It Forward",
			Symbol:      "PIF",
			FeeRateBps:  300,
			EventBuffer: 1024,
		},
		Audit: AuditConfig{Schedule: "@every 1m"},
		Redis: RedisConfig{Channel: "token_ledger.events", QueueLength: 1024},
	}
}

// Load builds the configuration. path may be empty; envFile is loaded when
// it exists.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, "server.port must be between 1 and 65535")
	}
	if c.Auth.PublicKey == "" && c.Auth.PublicKeyPath == "" {
		problems = append(problems, "auth.public_key or auth.public_key_path is required")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		problems = append(problems, "rate_limit.requests_per_second and rate_limit.burst must be positive")
	}
	if c.Token.FeeRateBps < 1 || c.Token.FeeRateBps > 300 {
		problems = append(problems, "token.fee_rate_bps must be between 1 and 300")
	}
	if c.Token.Deployer == "" {
		problems = append(problems, "token.deployer is required")
	}
	if _, feeAddress, pairs, err := c.Token.Genesis(); err != nil {
		problems = append(problems, err.Error())
	} else if len(pairs) > 0 && token.IsNull(feeAddress) {
		problems = append(problems, "token.fee_address is required when token.pairs is set")
	}

	if c.Redis.Addr != "" && c.Redis.QueueLength <= 0 {
		problems = append(problems, "redis.queue_length must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
