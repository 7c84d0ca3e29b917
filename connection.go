package pgts

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"

	"github.com/dleclere/pg-ts/driver"
)

// Connection is one checked-out database session. It is owned by a single
// program at a time and must not be used concurrently; statements complete
// in the order they are issued.
type Connection struct {
	conn        driver.Conn
	transformer RowTransformer
	logger      *slog.Logger
	tracer      trace.Tracer
	metrics     *poolMetrics
	released    atomic.Bool
}

func newConnection(c driver.Conn, p *Pool) *Connection {
	return &Connection{
		conn:        c,
		transformer: p.transformer,
		logger:      p.logger,
		tracer:      p.tracer,
		metrics:     p.metrics,
	}
}

// Query executes stmt and returns its raw rows. Failures are returned as
// *DriverQueryError carrying stmt and annotation.
func (c *Connection) Query(ctx context.Context, stmt Statement, annotation any) (*driver.Result, error) {
	if c.released.Load() {
		return nil, newDriverQueryError(stmt, annotation, ErrConnectionReleased)
	}

	res, err := c.conn.Query(ctx, stmt)
	if err != nil {
		return nil, newDriverQueryError(stmt, annotation, err)
	}
	return res, nil
}

// CopyFrom opens source and streams it into copyStatement, a
// COPY ... FROM STDIN statement. The source is opened only once the copy
// starts and, when it is an io.Closer, closed before CopyFrom returns.
func (c *Connection) CopyFrom(ctx context.Context, copyStatement string, source func() (io.Reader, error)) (int64, error) {
	stmt := Statement{Text: copyStatement}
	if c.released.Load() {
		return 0, newDriverQueryError(stmt, nil, ErrConnectionReleased)
	}

	r, err := source()
	if err != nil {
		return 0, newDriverQueryError(stmt, nil, err)
	}
	if closer, ok := r.(io.Closer); ok {
		defer closer.Close()
	}

	n, err := c.conn.CopyFrom(ctx, copyStatement, r)
	if err != nil {
		return n, newDriverQueryError(stmt, nil, err)
	}
	return n, nil
}

// Release hands the session back to its pool. A non-nil reason poisons it
// so the pool discards it. Only the first call has an effect.
func (c *Connection) Release(reason error) {
	c.release(reason)
}

func (c *Connection) release(reason error) bool {
	if !c.released.CompareAndSwap(false, true) {
		return false
	}
	c.conn.Release(reason)
	return true
}

// Released reports whether the connection was handed back.
func (c *Connection) Released() bool {
	return c.released.Load()
}
