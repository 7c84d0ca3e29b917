package pgts

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dleclere/pg-ts/driver"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("postgres://localhost/db")

	if cfg.URL != "postgres://localhost/db" || cfg.Backend != BackendPgx {
		t.Errorf("Unexpected config %+v", cfg)
	}
	if cfg.MaxConns != 25 || cfg.ConnMaxLifetime != 5*time.Minute || cfg.DialTimeout != 5*time.Second {
		t.Errorf("Unexpected pool defaults %+v", cfg)
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{URL: "postgres://localhost/db", MaxConns: 4}
	cfg.applyDefaults()

	if cfg.MaxConns != 4 {
		t.Errorf("Expected explicit MaxConns to be kept, got %d", cfg.MaxConns)
	}
	if cfg.Backend != BackendPgx || cfg.HealthCheckPeriod != time.Minute || cfg.WriteTimeout != 30*time.Second {
		t.Errorf("Expected zero values to be defaulted, got %+v", cfg)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pgts.yaml")
	data := `
url: postgres://app@db/units
backend: bun
max_conns: 8
conn_max_lifetime: 10m
camel_case_keys: true
log_slow_queries: 250ms
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.URL != "postgres://app@db/units" || cfg.Backend != BackendBun || cfg.MaxConns != 8 {
		t.Errorf("Unexpected config %+v", cfg)
	}
	if cfg.ConnMaxLifetime != 10*time.Minute || cfg.LogSlowQueries != 250*time.Millisecond {
		t.Errorf("Unexpected durations %v %v", cfg.ConnMaxLifetime, cfg.LogSlowQueries)
	}
	if !cfg.CamelCaseKeys {
		t.Error("Expected camel_case_keys to be set")
	}
	if cfg.DialTimeout != 5*time.Second {
		t.Errorf("Expected defaults for missing keys, got %v", cfg.DialTimeout)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("max_conns: [1, 2"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("Expected parse error")
	}
}

func TestConfig_ApplyEnv(t *testing.T) {
	t.Setenv("PGTS_DATABASE_URL", "postgres://env/db")
	t.Setenv("PGTS_BACKEND", "BUN")
	t.Setenv("PGTS_MAX_CONNS", "3")
	t.Setenv("PGTS_LOG_QUERIES", "true")

	cfg := DefaultConfig("postgres://file/db")
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}

	if cfg.URL != "postgres://env/db" || cfg.Backend != BackendBun || cfg.MaxConns != 3 || !cfg.LogQueries {
		t.Errorf("Unexpected config %+v", cfg)
	}

	t.Setenv("PGTS_MAX_CONNS", "many")
	if err := cfg.ApplyEnv(); err == nil {
		t.Error("Expected error for invalid PGTS_MAX_CONNS")
	}
}

func TestConfig_Builders(t *testing.T) {
	logger := slog.Default()
	reg := prometheus.NewRegistry()
	onError := func(*UnhandledPoolError) {}

	cfg := DefaultConfig("postgres://localhost/db").
		WithLogger(logger).
		WithSlowQueryLog(time.Second).
		WithMetrics(reg).
		WithParsers(map[string]driver.Parser{"unit": func(s string) (any, error) { return s, nil }}).
		WithErrorHandler(onError).
		WithCamelCaseKeys()

	if cfg.Logger != logger || !cfg.LogQueries || cfg.LogSlowQueries != time.Second {
		t.Errorf("Unexpected logging config %+v", cfg)
	}
	if cfg.MetricsRegistry != reg || cfg.Parsers == nil || cfg.OnError == nil || !cfg.CamelCaseKeys {
		t.Errorf("Unexpected config %+v", cfg)
	}
}
