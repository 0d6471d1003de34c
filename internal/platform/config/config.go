// Package config loads service configuration from LEDGER_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "ledger"

// Config is the full service configuration.
type Config struct {
	Server   Server         `envconfig:"SERVER"`
	Log      LogConfig      `envconfig:"LOG"`
	Database DatabaseConfig `envconfig:"DATABASE"`
	Redis    RedisConfig    `envconfig:"REDIS"`
	Kafka    KafkaConfig    `envconfig:"KAFKA"`
	Auth     AuthConfig     `envconfig:"AUTH"`
	Ledger   LedgerConfig   `envconfig:"LEDGER"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `envconfig:"ADDR" default:":8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
	// PublicBaseURL prefixes the verification URL printed in QR codes.
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:8080"`
}

type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"json"`
}

// DatabaseConfig selects Postgres when URL is set; otherwise stores are in memory.
type DatabaseConfig struct {
	URL             string        `envconfig:"URL"`
	MaxOpenConns    int           `envconfig:"MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"CONN_MAX_LIFETIME" default:"30m"`
}

// RedisConfig enables the public verification cache when URL is set.
type RedisConfig struct {
	URL          string        `envconfig:"URL"`
	PoolSize     int           `envconfig:"POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DIAL_TIMEOUT" default:"2s"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"500ms"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"500ms"`
	CacheTTL     time.Duration `envconfig:"CACHE_TTL" default:"10m"`
}

// KafkaConfig enables chain-break alerts and the audit outbox relay when
// Brokers is set.
type KafkaConfig struct {
	Brokers       []string      `envconfig:"BROKERS"`
	ClientID      string        `envconfig:"CLIENT_ID" default:"veriledger"`
	AlertsTopic   string        `envconfig:"ALERTS_TOPIC" default:"ledger.chain-breaks"`
	AuditTopic    string        `envconfig:"AUDIT_TOPIC" default:"ledger.audit-events"`
	RelayInterval time.Duration `envconfig:"RELAY_INTERVAL" default:"1s"`
	RelayBatch    int           `envconfig:"RELAY_BATCH" default:"100"`
}

type AuthConfig struct {
	JWTSigningKey string `envconfig:"JWT_SIGNING_KEY"`
	JWTIssuer     string `envconfig:"JWT_ISSUER" default:"veriledger"`
	// InternalToken authenticates collaborator services on /internal routes.
	InternalToken string `envconfig:"INTERNAL_TOKEN"`
}

type LedgerConfig struct {
	SweepInterval    time.Duration `envconfig:"SWEEP_INTERVAL" default:"24h"`
	SweepConcurrency int           `envconfig:"SWEEP_CONCURRENCY" default:"4"`
	// OpsSampleRate is the share of public lookups recorded as ops audit events.
	OpsSampleRate float64 `envconfig:"OPS_SAMPLE_RATE" default:"1"`
	// PublicRateLimit caps anonymous verification lookups per client IP
	// within PublicRateWindow. 0 disables it.
	PublicRateLimit  int           `envconfig:"PUBLIC_RATE_LIMIT" default:"60"`
	PublicRateWindow time.Duration `envconfig:"PUBLIC_RATE_WINDOW" default:"1m"`
}

// FromEnv builds the config from LEDGER_* environment variables.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Auth.JWTSigningKey == "" {
		errs = append(errs, errors.New("LEDGER_AUTH_JWT_SIGNING_KEY is required"))
	} else if len(c.Auth.JWTSigningKey) < 32 {
		errs = append(errs, errors.New("LEDGER_AUTH_JWT_SIGNING_KEY must be at least 32 bytes"))
	}
	if c.Auth.InternalToken == "" {
		errs = append(errs, errors.New("LEDGER_AUTH_INTERNAL_TOKEN is required"))
	}
	if c.Ledger.OpsSampleRate < 0 || c.Ledger.OpsSampleRate > 1 {
		errs = append(errs, errors.New("LEDGER_LEDGER_OPS_SAMPLE_RATE must be between 0 and 1"))
	}
	if c.Ledger.PublicRateLimit > 0 && c.Ledger.PublicRateWindow <= 0 {
		errs = append(errs, errors.New("LEDGER_LEDGER_PUBLIC_RATE_WINDOW must be positive"))
	}
	if c.Ledger.SweepConcurrency < 1 {
		errs = append(errs, errors.New("LEDGER_LEDGER_SWEEP_CONCURRENCY must be positive"))
	}
	return errors.Join(errs...)
}
