// Package bundriver implements the pgts driver capabilities on top of
// uptrace/bun and database/sql, using the bun pgdriver for PostgreSQL.
package bundriver

import (
	"context"
	"database/sql"
	sqldriver "database/sql/driver"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/dleclere/pg-ts/driver"
)

// Config configures a bun-backed pool.
type Config struct {
	URL string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Parsers maps database type names to text decoders. They apply to
	// columns whose type name the driver reports.
	Parsers map[string]driver.Parser

	Hooks []bun.QueryHook
}

// Pool is a driver.Pool backed by a bun.DB.
type Pool struct {
	db      *bun.DB
	parsers map[string]driver.Parser
	ending  atomic.Bool
}

var _ driver.Pool = (*Pool)(nil)

// Open creates the database/sql pool through a pgdriver connector.
func Open(cfg Config) (*Pool, error) {
	if cfg.URL == "" {
		return nil, errors.New("bundriver: database URL is required")
	}

	opts := []pgdriver.Option{pgdriver.WithDSN(cfg.URL)}
	if cfg.DialTimeout > 0 {
		opts = append(opts, pgdriver.WithDialTimeout(cfg.DialTimeout))
	}
	if cfg.ReadTimeout > 0 {
		opts = append(opts, pgdriver.WithReadTimeout(cfg.ReadTimeout))
	}
	if cfg.WriteTimeout > 0 {
		opts = append(opts, pgdriver.WithWriteTimeout(cfg.WriteTimeout))
	}

	sqlDB := sql.OpenDB(pgdriver.NewConnector(opts...))
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	p := New(sqlDB, cfg.Hooks...)
	p.parsers = lowerKeys(cfg.Parsers)
	return p, nil
}

// New wraps an existing *sql.DB. The pool takes ownership and closes it on
// Close.
func New(sqlDB *sql.DB, hooks ...bun.QueryHook) *Pool {
	db := bun.NewDB(sqlDB, pgdialect.New())
	for _, h := range hooks {
		db.AddQueryHook(h)
	}
	return &Pool{db: db}
}

// WithParsers sets the column decoders used by New-built pools.
func (p *Pool) WithParsers(parsers map[string]driver.Parser) *Pool {
	p.parsers = lowerKeys(parsers)
	return p
}

func lowerKeys(parsers map[string]driver.Parser) map[string]driver.Parser {
	if len(parsers) == 0 {
		return nil
	}
	out := make(map[string]driver.Parser, len(parsers))
	for name, parse := range parsers {
		out[strings.ToLower(name)] = parse
	}
	return out
}

// Acquire reserves one session of the database/sql pool.
func (p *Pool) Acquire(ctx context.Context) (driver.Conn, error) {
	c, err := p.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &conn{c: c, parsers: p.parsers}, nil
}

// Close closes the pool; later calls do nothing.
func (p *Pool) Close(context.Context) error {
	if !p.ending.CompareAndSwap(false, true) {
		return nil
	}
	return p.db.Close()
}

// Ending reports whether Close has been called.
func (p *Pool) Ending() bool {
	return p.ending.Load()
}

// Ping verifies the database connection is alive
func (p *Pool) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Stats returns connection pool statistics
func (p *Pool) Stats() driver.Stats {
	s := p.db.Stats()
	return driver.Stats{
		MaxConns:       s.MaxOpenConnections,
		TotalConns:     s.OpenConnections,
		InUse:          s.InUse,
		Idle:           s.Idle,
		WaitCount:      s.WaitCount,
		WaitDuration:   s.WaitDuration,
		LifetimeClosed: s.MaxLifetimeClosed,
		IdleTimeClosed: s.MaxIdleClosed + s.MaxIdleTimeClosed,
	}
}

// Bun returns the underlying bun.DB for direct access
func (p *Pool) Bun() *bun.DB {
	return p.db
}

type conn struct {
	c       bun.Conn
	parsers map[string]driver.Parser
}

// Query runs the statement through bun so query hooks fire. The statement
// name is ignored; database/sql manages prepared statements itself.
func (c *conn) Query(ctx context.Context, stmt driver.Statement) (*driver.Result, error) {
	query, args := Rebind(stmt.Text, stmt.Values)

	rows, err := c.c.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	parsers := c.columnParsers(rows, len(cols))

	res := &driver.Result{Columns: cols, Rows: []driver.Row{}}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(driver.Row, len(cols))
		for i, col := range cols {
			v, err := parseValue(parsers[i], vals[i])
			if err != nil {
				return nil, err
			}
			row[col] = v
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// database/sql does not expose the command tag of a query.
	res.RowsAffected = -1
	return res, nil
}

func (c *conn) columnParsers(rows *sql.Rows, n int) []driver.Parser {
	parsers := make([]driver.Parser, n)
	if len(c.parsers) == 0 {
		return parsers
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return parsers
	}
	for i, ct := range types {
		parsers[i] = c.parsers[strings.ToLower(ct.DatabaseTypeName())]
	}
	return parsers
}

func parseValue(parse driver.Parser, v any) (any, error) {
	if parse == nil {
		return v, nil
	}
	switch s := v.(type) {
	case string:
		return parse(s)
	case []byte:
		return parse(string(s))
	}
	return v, nil
}

func (c *conn) CopyFrom(ctx context.Context, query string, r io.Reader) (int64, error) {
	res, err := pgdriver.CopyFrom(ctx, c.c, r, query)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (c *conn) Release(reason error) {
	if reason != nil {
		// ErrBadConn from Raw makes database/sql discard the session.
		_ = c.c.Raw(func(any) error {
			return sqldriver.ErrBadConn
		})
	}
	_ = c.c.Close()
}
