package pgts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dleclere/pg-ts/bundriver"
	"github.com/dleclere/pg-ts/driver"
	"github.com/dleclere/pg-ts/hooks"
	"github.com/dleclere/pg-ts/pgxdriver"
)

const instrumentationName = "github.com/dleclere/pg-ts"

// Pool hands out Connections to scoped programs and guarantees they are
// released.
type Pool struct {
	pool        driver.Pool
	config      Config
	logger      *slog.Logger
	tracer      trace.Tracer
	metrics     *poolMetrics
	transformer RowTransformer
}

// NewPool creates a pool for cfg.Backend. Sessions are opened lazily, so an
// unreachable server is reported by the first checkout, except when custom
// parsers need their type OIDs resolved. Failures are *PoolCreationError.
func NewPool(ctx context.Context, cfg Config) (*Pool, error) {
	// Apply defaults for zero values
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, &PoolCreationError{Cause: err}
	}

	hs, err := queryHooks(cfg)
	if err != nil {
		return nil, &PoolCreationError{Cause: err}
	}

	var dp driver.Pool
	switch cfg.Backend {
	case BackendBun:
		bcfg := bundriver.Config{
			URL:             cfg.URL,
			MaxOpenConns:    cfg.MaxConns,
			MaxIdleConns:    max(cfg.MinConns, 1),
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ConnMaxIdleTime,
			DialTimeout:     cfg.DialTimeout,
			ReadTimeout:     cfg.ReadTimeout,
			WriteTimeout:    cfg.WriteTimeout,
			Parsers:         cfg.Parsers,
		}
		if len(hs) > 0 {
			bcfg.Hooks = []bun.QueryHook{hooks.BunHook(hs...)}
		}
		dp, err = bundriver.Open(bcfg)

	default:
		pcfg := pgxdriver.Config{
			URL:               cfg.URL,
			MaxConns:          int32(cfg.MaxConns),
			MinConns:          int32(cfg.MinConns),
			MaxConnLifetime:   cfg.ConnMaxLifetime,
			MaxConnIdleTime:   cfg.ConnMaxIdleTime,
			HealthCheckPeriod: cfg.HealthCheckPeriod,
			ConnectTimeout:    cfg.DialTimeout,
			Parsers:           cfg.Parsers,
		}
		// A nil *PgxTracer must not reach pgx as a non-nil interface.
		if t := hooks.Tracer(hs...); t != nil {
			pcfg.Tracer = t
		}
		dp, err = pgxdriver.Open(ctx, pcfg)
	}
	if err != nil {
		return nil, &PoolCreationError{Cause: err}
	}

	p, err := NewPoolFromDriver(dp, cfg)
	if err != nil {
		_ = dp.Close(ctx)
		return nil, err
	}
	return p, nil
}

// NewPoolFromDriver wraps an already open driver pool. Query hooks are not
// installed; they belong to the backend.
func NewPoolFromDriver(dp driver.Pool, cfg Config) (*Pool, error) {
	p := &Pool{
		pool:   dp,
		config: cfg,
		logger: cfg.Logger,
		tracer: cfg.Tracer,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer(instrumentationName)
	}
	if cfg.CamelCaseKeys {
		p.transformer = CamelCaseRows
	}
	if cfg.MetricsRegistry != nil {
		m, err := newPoolMetrics(cfg.MetricsRegistry)
		if err != nil {
			return nil, &PoolCreationError{Cause: fmt.Errorf("register metrics: %w", err)}
		}
		p.metrics = m
	}
	if r, ok := dp.(driver.ErrorReporter); ok {
		r.SetErrorHandler(p.handlePoolError)
	}
	return p, nil
}

// queryHooks builds the observability hooks enabled by cfg.
func queryHooks(cfg Config) ([]hooks.Hook, error) {
	var hs []hooks.Hook
	if cfg.Logger != nil && (cfg.LogQueries || cfg.LogSlowQueries > 0) {
		hs = append(hs, hooks.NewLoggerHook(cfg.Logger, cfg.LogQueries, cfg.LogSlowQueries))
	}
	if cfg.MetricsRegistry != nil {
		hook, err := hooks.NewMetricsHook(cfg.MetricsRegistry)
		if err != nil {
			return nil, fmt.Errorf("create metrics hook: %w", err)
		}
		hs = append(hs, hook)
	}
	if cfg.Tracer != nil {
		hs = append(hs, hooks.NewTracingHook(cfg.Tracer))
	}
	return hs, nil
}

// handlePoolError delivers an idle session fault to Config.OnError, or logs
// it when no handler is set. A panicking handler is logged, not propagated.
func (p *Pool) handlePoolError(cause error) {
	p.metrics.poolError()
	err := &UnhandledPoolError{Cause: cause}

	if p.config.OnError == nil {
		p.logger.Error("pgts: unhandled pool error", slog.String("error", cause.Error()))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pgts: pool error handler panicked",
				slog.String("error", cause.Error()),
				slog.Any("panic", r),
			)
		}
	}()
	p.config.OnError(err)
}

// WithConnection runs fn with a checked-out connection and releases it when
// fn returns. See the package function WithConnection for the rules.
func (p *Pool) WithConnection(ctx context.Context, fn func(ctx context.Context, conn *Connection) error) error {
	_, err := WithConnection(ctx, p, func(ctx context.Context, conn *Connection) (struct{}, error) {
		return struct{}{}, fn(ctx, conn)
	})
	return err
}

// WithConnection checks out a connection, runs fn with it and releases it
// exactly once, whatever fn does:
//
//   - a checkout failure is returned as *PoolCheckoutError and fn never runs
//   - a panic in fn is returned as *UnhandledConnectionError
//   - an error from fn is returned unchanged
//
// The connection is discarded instead of recycled when the outcome wraps a
// *TransactionRollbackError.
func WithConnection[T any](ctx context.Context, p *Pool, fn func(ctx context.Context, conn *Connection) (T, error)) (result T, err error) {
	dc, err := p.pool.Acquire(ctx)
	p.metrics.checkout(err)
	if err != nil {
		return result, &PoolCheckoutError{Cause: err}
	}
	conn := newConnection(dc, p)

	defer func() {
		if r := recover(); r != nil {
			var zero T
			result = zero
			err = &UnhandledConnectionError{Cause: panicError(r)}
		}
		p.release(conn, err)
	}()

	return fn(ctx, conn)
}

func (p *Pool) release(conn *Connection, err error) {
	var rbErr *TransactionRollbackError
	poisoned := errors.As(err, &rbErr)

	var reason error
	if poisoned {
		reason = err
	}
	if !conn.release(reason) {
		return
	}

	p.metrics.release(poisoned)
	if poisoned {
		p.logger.Warn("pgts: discarding connection after failed rollback",
			slog.String("error", err.Error()),
		)
	}
}

// panicError turns a recovered value into an error.
func panicError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", r)
}

// End shuts the pool down. Ending a pool that is already shutting down is a
// no-op; other failures are *PoolShutdownError.
func (p *Pool) End(ctx context.Context) error {
	if p.pool.Ending() {
		return nil
	}
	if err := p.pool.Close(ctx); err != nil {
		return &PoolShutdownError{Cause: err}
	}
	return nil
}

// Config returns the current configuration
func (p *Pool) Config() Config {
	return p.config
}

// Driver returns the backend pool for direct access
func (p *Pool) Driver() driver.Pool {
	return p.pool
}
