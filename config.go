package pgts

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/dleclere/pg-ts/driver"
)

// Backends accepted by Config.Backend.
const (
	BackendPgx = "pgx"
	BackendBun = "bun"
)

// Config holds pool configuration
type Config struct {
	// Connection
	URL     string `yaml:"url"`     // PostgreSQL connection string (required)
	Backend string `yaml:"backend"` // "pgx" (default) or "bun"

	// Pool settings
	MaxConns          int           `yaml:"max_conns"`           // Max open connections (default: 25)
	MinConns          int           `yaml:"min_conns"`           // Connections kept open (pgx only)
	ConnMaxLifetime   time.Duration `yaml:"conn_max_lifetime"`   // Max connection lifetime (default: 5m)
	ConnMaxIdleTime   time.Duration `yaml:"conn_max_idle_time"`  // Max idle time (default: 1m)
	HealthCheckPeriod time.Duration `yaml:"health_check_period"` // Idle session checks (pgx only, default: 1m)

	// Timeouts
	DialTimeout  time.Duration `yaml:"dial_timeout"`  // Connection dial timeout (default: 5s)
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // Read timeout (bun only, default: 30s)
	WriteTimeout time.Duration `yaml:"write_timeout"` // Write timeout (bun only, default: 30s)

	// Rows
	CamelCaseKeys bool `yaml:"camel_case_keys"` // Camel-case row keys before decoding

	// Parsers decode database types from their text form, keyed by type
	// name. They apply to this pool only.
	Parsers map[string]driver.Parser `yaml:"-"`

	// OnError receives faults of idle sessions. When nil they are logged.
	OnError func(*UnhandledPoolError) `yaml:"-"`

	// Observability (all optional)
	Logger          *slog.Logger          `yaml:"-"`                // Structured logger
	LogQueries      bool                  `yaml:"log_queries"`      // Log all queries
	LogSlowQueries  time.Duration         `yaml:"log_slow_queries"` // Log queries slower than this (0 = disabled)
	MetricsRegistry prometheus.Registerer `yaml:"-"`                // Prometheus registry for metrics
	Tracer          trace.Tracer          `yaml:"-"`                // OpenTelemetry tracer
}

// DefaultConfig returns sensible defaults
func DefaultConfig(url string) Config {
	return Config{
		URL:               url,
		Backend:           BackendPgx,
		MaxConns:          25,
		ConnMaxLifetime:   5 * time.Minute,
		ConnMaxIdleTime:   1 * time.Minute,
		HealthCheckPeriod: 1 * time.Minute,
		DialTimeout:       5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
}

// applyDefaults fills in zero values with defaults
func (c *Config) applyDefaults() {
	d := DefaultConfig(c.URL)
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.MaxConns == 0 {
		c.MaxConns = d.MaxConns
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = d.ConnMaxLifetime
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = d.ConnMaxIdleTime
	}
	if c.HealthCheckPeriod == 0 {
		c.HealthCheckPeriod = d.HealthCheckPeriod
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = d.WriteTimeout
	}
}

func (c *Config) validate() error {
	if c.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	switch c.Backend {
	case BackendPgx, BackendBun:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("min_conns (%d) exceeds max_conns (%d)", c.MinConns, c.MaxConns)
	}
	return nil
}

// LoadConfig reads a YAML file on top of DefaultConfig, then applies
// environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig("")

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("pgts: parse %s: %w", path, err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv applies environment variable overrides to the config
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("PGTS_DATABASE_URL"); v != "" {
		c.URL = v
	}
	if v := os.Getenv("PGTS_BACKEND"); v != "" {
		c.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("PGTS_MAX_CONNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("pgts: PGTS_MAX_CONNS: %w", err)
		}
		c.MaxConns = n
	}
	if v := os.Getenv("PGTS_LOG_QUERIES"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("pgts: PGTS_LOG_QUERIES: %w", err)
		}
		c.LogQueries = b
	}
	return nil
}

// WithLogger enables query logging
func (c Config) WithLogger(logger *slog.Logger) Config {
	c.Logger = logger
	c.LogQueries = true
	return c
}

// WithSlowQueryLog logs queries slower than the threshold
func (c Config) WithSlowQueryLog(threshold time.Duration) Config {
	c.LogSlowQueries = threshold
	return c
}

// WithMetrics enables Prometheus metrics
func (c Config) WithMetrics(registry prometheus.Registerer) Config {
	c.MetricsRegistry = registry
	return c
}

// WithTracing enables OpenTelemetry tracing
func (c Config) WithTracing(tracer trace.Tracer) Config {
	c.Tracer = tracer
	return c
}

// WithParsers registers text decoders for database types
func (c Config) WithParsers(parsers map[string]driver.Parser) Config {
	c.Parsers = parsers
	return c
}

// WithErrorHandler routes idle session faults to fn
func (c Config) WithErrorHandler(fn func(*UnhandledPoolError)) Config {
	c.OnError = fn
	return c
}

// WithCamelCaseKeys camel-cases row keys for every query on the pool
func (c Config) WithCamelCaseKeys() Config {
	c.CamelCaseKeys = true
	return c
}
