// Package pgxdriver implements the pgts driver capabilities on top of
// jackc/pgx/v5 and its pgxpool connection pool.
package pgxdriver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dleclere/pg-ts/driver"
)

// closeTimeout bounds the Terminate handshake when discarding a session.
const closeTimeout = 5 * time.Second

// ErrSessionClosed reports an idle pooled session found dead on checkout.
var ErrSessionClosed = errors.New("pgxdriver: idle session closed by server")

// Config configures a pgx-backed pool.
type Config struct {
	URL string

	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration

	// Parsers maps pg_type names to text decoders. They are registered on
	// every session of this pool only, together with their array types.
	Parsers map[string]driver.Parser

	Tracer pgx.QueryTracer
}

// Pool is a driver.Pool backed by pgxpool.
type Pool struct {
	pool    *pgxpool.Pool
	onError atomic.Pointer[driver.ErrorHandler]
	ending  atomic.Bool
}

var (
	_ driver.Pool          = (*Pool)(nil)
	_ driver.ErrorReporter = (*Pool)(nil)
)

// Open builds the pool. Sessions are established lazily; custom parsers are
// resolved against pg_type once, before the pool is returned.
func Open(ctx context.Context, cfg Config) (*Pool, error) {
	if cfg.URL == "" {
		return nil, errors.New("pgxdriver: database URL is required")
	}

	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("pgxdriver: parse config: %w", err)
	}

	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pcfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		pcfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	}
	if cfg.ConnectTimeout > 0 {
		pcfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.Tracer != nil {
		pcfg.ConnConfig.Tracer = cfg.Tracer
	}

	if len(cfg.Parsers) > 0 {
		types, err := resolveTypes(ctx, pcfg.ConnConfig, cfg.Parsers)
		if err != nil {
			return nil, err
		}
		pcfg.AfterConnect = func(_ context.Context, conn *pgx.Conn) error {
			registerTypes(conn.TypeMap(), types)
			return nil
		}
	}

	p := &Pool{}
	pcfg.PrepareConn = p.prepareConn

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("pgxdriver: create pool: %w", err)
	}
	p.pool = pool
	return p, nil
}

// prepareConn rejects sessions that died while idle and reports them. The
// pool then destroys the session and retries on another one. Faults are only
// seen here, when the session is next checked out.
func (p *Pool) prepareConn(_ context.Context, conn *pgx.Conn) (bool, error) {
	if !conn.IsClosed() {
		return true, nil
	}
	if h := p.onError.Load(); h != nil {
		(*h)(ErrSessionClosed)
	}
	return false, nil
}

// SetErrorHandler routes idle session faults to h.
func (p *Pool) SetErrorHandler(h driver.ErrorHandler) {
	if h == nil {
		p.onError.Store(nil)
		return
	}
	p.onError.Store(&h)
}

// Acquire checks out a session.
func (p *Pool) Acquire(ctx context.Context) (driver.Conn, error) {
	c, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &conn{c: c}, nil
}

// Close shuts the pool down; later calls do nothing.
func (p *Pool) Close(context.Context) error {
	if !p.ending.CompareAndSwap(false, true) {
		return nil
	}
	p.pool.Close()
	return nil
}

// Ending reports whether Close has been called.
func (p *Pool) Ending() bool {
	return p.ending.Load()
}

// Ping verifies a session can be established.
func (p *Pool) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Stats returns pool occupancy.
func (p *Pool) Stats() driver.Stats {
	s := p.pool.Stat()
	return driver.Stats{
		MaxConns:       int(s.MaxConns()),
		TotalConns:     int(s.TotalConns()),
		InUse:          int(s.AcquiredConns()),
		Idle:           int(s.IdleConns()),
		AcquireCount:   s.AcquireCount(),
		WaitCount:      s.EmptyAcquireCount(),
		WaitDuration:   s.AcquireDuration(),
		LifetimeClosed: s.MaxLifetimeDestroyCount(),
		IdleTimeClosed: s.MaxIdleDestroyCount(),
	}
}

// Pgx returns the underlying pgxpool for direct access
func (p *Pool) Pgx() *pgxpool.Pool {
	return p.pool
}

type conn struct {
	c *pgxpool.Conn
}

func (c *conn) Query(ctx context.Context, stmt driver.Statement) (*driver.Result, error) {
	sql := stmt.Text
	if stmt.Name != "" {
		if _, err := c.c.Conn().Prepare(ctx, stmt.Name, stmt.Text); err != nil {
			return nil, err
		}
		sql = stmt.Name
	}

	rows, err := c.c.Query(ctx, sql, stmt.Values...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}

	res := &driver.Result{Columns: cols, Rows: []driver.Row{}}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(driver.Row, len(cols))
		for i, col := range cols {
			row[col] = vals[i]
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	res.RowsAffected = rows.CommandTag().RowsAffected()
	return res, nil
}

func (c *conn) CopyFrom(ctx context.Context, sql string, r io.Reader) (int64, error) {
	tag, err := c.c.Conn().PgConn().CopyFrom(ctx, r, sql)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (c *conn) Release(reason error) {
	if reason == nil {
		c.c.Release()
		return
	}

	// A hijacked session no longer belongs to the pool; closing it
	// guarantees it is never handed out again.
	pc := c.c.Hijack()
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	_ = pc.Close(ctx)
}
