package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration. Nested sections are read
// with their section prefix, e.g. Server.Port from SERVER_PORT.
type Config struct {
	Server        ServerConfig        `envconfig:"SERVER"`
	Database      DatabaseConfig      `envconfig:"DB"`
	Redis         RedisConfig         `envconfig:"REDIS"`
	Session       SessionConfig       `envconfig:"SESSION"`
	Security      SecurityConfig      `envconfig:"SECURITY"`
	Token         TokenConfig         `envconfig:"TOKEN"`
	Authz         AuthzConfig         `envconfig:"AUTHZ"`
	RateLimit     RateLimitConfig     `envconfig:"RATELIMIT"`
	Log           LogConfig           `envconfig:"LOG"`
	Observability ObservabilityConfig `envconfig:"OTEL"`
	Bootstrap     BootstrapConfig     `envconfig:"BOOTSTRAP"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `split_words:"true" default:"0.0.0.0"`
	Port            string        `split_words:"true" default:"8080"`
	ReadTimeout     time.Duration `split_words:"true" default:"15s"`
	WriteTimeout    time.Duration `split_words:"true" default:"15s"`
	IdleTimeout     time.Duration `split_words:"true" default:"60s"`
	ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	AllowedOrigins  []string      `split_words:"true"`
	Production      bool          `split_words:"true" default:"false"`
}

// Addr returns the listen address
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `split_words:"true" default:"localhost"`
	Port            string        `split_words:"true" default:"5432"`
	User            string        `split_words:"true" default:"bastion"`
	Password        string        `split_words:"true"`
	Name            string        `split_words:"true" default:"bastion"`
	SSLMode         string        `split_words:"true" default:"disable"`
	MaxConns        int32         `split_words:"true" default:"25"`
	MinConns        int32         `split_words:"true" default:"2"`
	ConnMaxLifetime time.Duration `split_words:"true" default:"5m"`
}

// DSN builds the postgres connection string
func (c DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

// RedisConfig holds the session store connection
type RedisConfig struct {
	Addr     string `split_words:"true" default:"localhost:6379"`
	Password string `split_words:"true"`
	DB       int    `split_words:"true" default:"0"`
}

// SessionConfig holds session management configuration
type SessionConfig struct {
	CookieName   string        `split_words:"true" default:"bastion_session"`
	CookieSecure bool          `split_words:"true" default:"false"`
	Lifetime     time.Duration `split_words:"true" default:"24h"`
	IdleTimeout  time.Duration `split_words:"true" default:"30m"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	Argon2Memory       uint32        `split_words:"true" default:"65536"`
	Argon2Iterations   uint32        `split_words:"true" default:"3"`
	Argon2Parallelism  uint8         `split_words:"true" default:"4"`
	Argon2SaltLength   uint32        `split_words:"true" default:"16"`
	Argon2KeyLength    uint32        `split_words:"true" default:"32"`
	LockoutMaxAttempts int           `split_words:"true" default:"5"`
	LockoutDuration    time.Duration `split_words:"true" default:"15m"`
}

// TokenConfig holds API token signing configuration
type TokenConfig struct {
	Secret string `split_words:"true"`
	Issuer string `split_words:"true" default:"bastion"`
}

// AuthzConfig tunes the authorization evaluator
type AuthzConfig struct {
	CacheTTL time.Duration `split_words:"true" default:"30s"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64 `split_words:"true" default:"10"`
	Burst             int     `split_words:"true" default:"20"`
	LoginPerMinute    int     `split_words:"true" default:"10"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `split_words:"true" default:"info"`
	Format string `split_words:"true" default:"json"`
}

// ObservabilityConfig holds tracing configuration
type ObservabilityConfig struct {
	Enabled        bool   `split_words:"true" default:"false"`
	Endpoint       string `split_words:"true"`
	ServiceName    string `split_words:"true" default:"bastion"`
	ServiceVersion string `split_words:"true" default:"0.1.0"`
}

// BootstrapConfig names the first super-admin, if any
type BootstrapConfig struct {
	AdminEmail    string `split_words:"true"`
	AdminName     string `split_words:"true" default:"Administrator"`
	AdminPassword string `split_words:"true"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error
	if c.Database.Password == "" {
		errs = append(errs, errors.New("DB_PASSWORD is required"))
	}
	if len(c.Token.Secret) < 32 {
		errs = append(errs, errors.New("TOKEN_SECRET must be at least 32 bytes"))
	}
	if c.Server.Production && !c.Session.CookieSecure {
		errs = append(errs, errors.New("SESSION_COOKIE_SECURE must be true in production"))
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("RATELIMIT_REQUESTS_PER_SECOND and RATELIMIT_BURST must be positive"))
	}
	return errors.Join(errs...)
}
