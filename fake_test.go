package pgts

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/dleclere/pg-ts/driver"
)

// fakePool is a scripted driver.Pool. Every statement sent on any of its
// connections is recorded and answered by script.
type fakePool struct {
	mu sync.Mutex

	script     func(ctx context.Context, stmt driver.Statement) (*driver.Result, error)
	acquireErr error
	closeErr   error
	pingErr    error
	stats      driver.Stats

	statements []driver.Statement
	copies     []string
	acquired   int
	releases   int
	reasons    []error
	closed     int
	ending     bool
	onError    driver.ErrorHandler
}

func (p *fakePool) Acquire(context.Context) (driver.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	p.acquired++
	return &fakeConn{pool: p}, nil
}

func (p *fakePool) Close(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	p.ending = true
	return p.closeErr
}

func (p *fakePool) Ending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ending
}

func (p *fakePool) Ping(context.Context) error { return p.pingErr }

func (p *fakePool) Stats() driver.Stats { return p.stats }

func (p *fakePool) SetErrorHandler(h driver.ErrorHandler) { p.onError = h }

// texts returns the recorded statement texts.
func (p *fakePool) texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.statements))
	for i, s := range p.statements {
		out[i] = s.Text
	}
	return out
}

type fakeConn struct {
	pool *fakePool
}

func (c *fakeConn) Query(ctx context.Context, stmt driver.Statement) (*driver.Result, error) {
	c.pool.mu.Lock()
	c.pool.statements = append(c.pool.statements, stmt)
	script := c.pool.script
	c.pool.mu.Unlock()

	if script == nil {
		return &driver.Result{RowsAffected: 0}, nil
	}
	return script(ctx, stmt)
}

func (c *fakeConn) CopyFrom(_ context.Context, sql string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	c.pool.statements = append(c.pool.statements, driver.Statement{Text: sql})
	c.pool.copies = append(c.pool.copies, string(data))
	return int64(bytes.Count(data, []byte("\n"))), nil
}

func (c *fakeConn) Release(reason error) {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	c.pool.releases++
	c.pool.reasons = append(c.pool.reasons, reason)
}

// rowsFor answers statements starting with prefix with rows, and every other
// statement with an empty result.
func rowsFor(prefix string, rows ...driver.Row) func(context.Context, driver.Statement) (*driver.Result, error) {
	return func(_ context.Context, stmt driver.Statement) (*driver.Result, error) {
		if strings.HasPrefix(stmt.Text, prefix) {
			return &driver.Result{Rows: rows, RowsAffected: int64(len(rows))}, nil
		}
		return &driver.Result{}, nil
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPool(t *testing.T, fp *fakePool, configure ...func(*Config)) *Pool {
	t.Helper()

	cfg := Config{URL: "postgres://fake", Logger: discardLogger()}
	for _, fn := range configure {
		fn(&cfg)
	}
	p, err := NewPoolFromDriver(fp, cfg)
	if err != nil {
		t.Fatalf("NewPoolFromDriver failed: %v", err)
	}
	return p
}

// withConn runs fn on a connection of a fresh pool over fp.
func withConn(t *testing.T, fp *fakePool, fn func(ctx context.Context, conn *Connection) error, configure ...func(*Config)) error {
	t.Helper()
	return newTestPool(t, fp, configure...).WithConnection(context.Background(), fn)
}
