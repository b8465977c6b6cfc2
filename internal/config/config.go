package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/sobhihamadi/TakwaFortress-sub000/pkg/config"
	"github.com/sobhihamadi/TakwaFortress-sub000/pkg/database"
)

const defaultJWTSecret = "change-this-to-a-secure-secret"

// Config holds all configuration for fortressd.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"FORTRESS_HTTP_PORT" envDefault:"8090"`

	// Device this process guards.
	LocalDeviceID string `env:"LOCAL_DEVICE_ID,required"`

	// PostgreSQL. An empty host keeps all state in memory.
	PostgresHost string `env:"POSTGRES_HOST"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"fortress"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"fortress_secret"`
	PostgresDB   string `env:"POSTGRES_DB" envDefault:"fortress"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"1"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Redis. An empty address disables the account cache and keeps scratch
	// state in memory.
	RedisAddr           string `env:"REDIS_ADDR"`
	RedisPassword       string `env:"REDIS_PASSWORD"`
	RedisDB             int    `env:"REDIS_DB" envDefault:"0"`
	AccountCacheTTLSecs int    `env:"ACCOUNT_CACHE_TTL_SECONDS" envDefault:"30"`
	ScratchStateTTLMins int    `env:"SCRATCH_STATE_TTL_MINUTES" envDefault:"10"`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Device agent
	DeviceAgentURL         string `env:"DEVICE_AGENT_URL" envDefault:"http://127.0.0.1:7070"`
	DeviceAgentTimeoutSecs int    `env:"DEVICE_AGENT_TIMEOUT_SECONDS" envDefault:"10"`
	FilterDNSHost          string `env:"FILTER_DNS_HOST" envDefault:"family.adguard-dns.com"`

	// Orchestration
	ActivationRollback  bool `env:"ACTIVATION_ROLLBACK" envDefault:"true"`
	HardenDevice        bool `env:"HARDEN_DEVICE" envDefault:"true"`
	ExpiryCheckInterval int  `env:"EXPIRY_CHECK_INTERVAL_SECONDS" envDefault:"60"`

	// JWT
	JWTSecret string `env:"JWT_SECRET" envDefault:"change-this-to-a-secure-secret"`
	JWTIssuer string `env:"JWT_ISSUER"`

	// Requests per minute per client IP on the control API; 0 disables.
	RateLimitRPM int `env:"RATE_LIMIT_RPM" envDefault:"120"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Pprof debug endpoints (IP allowlist in CIDR notation)
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"127.0.0.0/8,::1/128" envSeparator:","`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load fortress config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.LocalDeviceID == "" {
		return fmt.Errorf("LOCAL_DEVICE_ID is required")
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED is set")
	}
	if c.DeviceAgentURL == "" {
		return fmt.Errorf("DEVICE_AGENT_URL is required")
	}
	if c.DeviceAgentTimeoutSecs <= 0 {
		return fmt.Errorf("DEVICE_AGENT_TIMEOUT_SECONDS must be > 0, got %d", c.DeviceAgentTimeoutSecs)
	}
	if c.AccountCacheTTLSecs <= 0 {
		return fmt.Errorf("ACCOUNT_CACHE_TTL_SECONDS must be > 0, got %d", c.AccountCacheTTLSecs)
	}
	if c.ExpiryCheckInterval <= 0 {
		return fmt.Errorf("EXPIRY_CHECK_INTERVAL_SECONDS must be > 0, got %d", c.ExpiryCheckInterval)
	}
	if c.RateLimitRPM < 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must be >= 0, got %d", c.RateLimitRPM)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}

	// Outside development, require an explicitly set, strong JWT secret.
	if c.Environment != "development" {
		if c.JWTSecret == defaultJWTSecret {
			return fmt.Errorf("JWT_SECRET must be explicitly set via environment variable in %q mode", c.Environment)
		}
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters long, got %d", len(c.JWTSecret))
		}
	}
	return nil
}

// Postgres returns the pool settings.
func (c *Config) Postgres() database.PostgresConfig {
	return database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnLifetime: time.Duration(c.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(c.DBMaxConnIdleTimeMins) * time.Minute,
	}
}

func (c *Config) AccountCacheTTL() time.Duration {
	return time.Duration(c.AccountCacheTTLSecs) * time.Second
}

func (c *Config) ScratchStateTTL() time.Duration {
	return time.Duration(c.ScratchStateTTLMins) * time.Minute
}

func (c *Config) DeviceAgentTimeout() time.Duration {
	return time.Duration(c.DeviceAgentTimeoutSecs) * time.Second
}

func (c *Config) ExpiryInterval() time.Duration {
	return time.Duration(c.ExpiryCheckInterval) * time.Second
}
