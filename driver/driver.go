// Package driver defines the capabilities pgts needs from a database backend.
//
// A backend supplies a Pool that hands out exclusively owned Conns. The core
// never talks to a database any other way, which keeps the query executor and
// the transaction controller independent of pgx, bun or any test double.
package driver

import (
	"context"
	"io"
	"time"
)

// Statement is a parameterized SQL statement using $n placeholders.
type Statement struct {
	Text   string
	Values []any
	// Name, when set, asks the backend to prepare the statement under this
	// name and reuse it on the same session.
	Name string
}

// Row is a single result row keyed by column name.
type Row = map[string]any

// Result holds the rows returned by one statement, in engine order.
// RowsAffected is the command tag count, or -1 when the backend cannot
// report it.
type Result struct {
	Columns      []string
	Rows         []Row
	RowsAffected int64
}

// Parser decodes the text representation of a database scalar.
type Parser func(text string) (any, error)

// Conn is one checked-out database session.
type Conn interface {
	// Query executes stmt and buffers every row.
	Query(ctx context.Context, stmt Statement) (*Result, error)

	// CopyFrom streams r into a COPY ... FROM STDIN statement and returns
	// the number of rows loaded.
	CopyFrom(ctx context.Context, sql string, r io.Reader) (int64, error)

	// Release returns the session to its pool. A non-nil reason marks the
	// session unsafe; the backend must discard it instead of recycling it.
	Release(reason error)
}

// Pool is the source of Conns.
type Pool interface {
	Acquire(ctx context.Context) (Conn, error)

	// Close shuts the pool down. Ending reports whether Close has already
	// been called.
	Close(ctx context.Context) error
	Ending() bool

	Ping(ctx context.Context) error
	Stats() Stats
}

// Stats is a backend-neutral view of pool occupancy.
type Stats struct {
	MaxConns       int
	TotalConns     int
	InUse          int
	Idle           int
	AcquireCount   int64
	WaitCount      int64
	WaitDuration   time.Duration
	LifetimeClosed int64
	IdleTimeClosed int64
}

// ErrorHandler receives faults raised by idle sessions, outside any call.
type ErrorHandler func(err error)

// ErrorReporter is implemented by pools able to detect idle session faults.
type ErrorReporter interface {
	SetErrorHandler(h ErrorHandler)
}
