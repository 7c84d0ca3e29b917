package pgts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// IsolationLevel is a PostgreSQL transaction isolation level.
type IsolationLevel string

const (
	ReadUncommitted IsolationLevel = "READ UNCOMMITTED"
	ReadCommitted   IsolationLevel = "READ COMMITTED"
	RepeatableRead  IsolationLevel = "REPEATABLE READ"
	Serializable    IsolationLevel = "SERIALIZABLE"
)

func (l IsolationLevel) valid() bool {
	switch l {
	case ReadUncommitted, ReadCommitted, RepeatableRead, Serializable:
		return true
	}
	return false
}

// TxOptions configures transaction behavior
type TxOptions struct {
	Isolation  IsolationLevel // Defaults to ReadCommitted
	ReadOnly   bool
	Deferrable bool
	Annotation any // Attached to errors raised by BEGIN, COMMIT and ROLLBACK
}

// DefaultTxOptions returns default transaction options
func DefaultTxOptions() TxOptions {
	return TxOptions{Isolation: ReadCommitted}
}

// ReadOnlyTxOptions returns options for read-only transactions
func ReadOnlyTxOptions() TxOptions {
	return TxOptions{Isolation: ReadCommitted, ReadOnly: true}
}

// SerializableTxOptions returns options for serializable transactions
func SerializableTxOptions() TxOptions {
	return TxOptions{Isolation: Serializable}
}

var (
	commitStatement   = SQL("COMMIT;")
	rollbackStatement = SQL("ROLLBACK;")
)

func beginStatement(opts TxOptions) Statement {
	stmt := SQL("BEGIN TRANSACTION ISOLATION LEVEL ?", Raw(string(opts.Isolation)))
	if opts.ReadOnly {
		stmt.Text += " READ ONLY"
	}
	if opts.Deferrable {
		stmt.Text += " DEFERRABLE"
	}
	return stmt
}

// TxFunc is a program executed within a transaction
type TxFunc func(ctx context.Context, conn *Connection) error

// Transaction executes fn within a transaction with automatic commit/rollback
func (c *Connection) Transaction(ctx context.Context, fn TxFunc) error {
	return c.TransactionWithOptions(ctx, DefaultTxOptions(), fn)
}

// TransactionWithOptions executes fn within a transaction with custom options
func (c *Connection) TransactionWithOptions(ctx context.Context, opts TxOptions, fn TxFunc) error {
	_, err := WithTransaction(ctx, c, opts, func(ctx context.Context, conn *Connection) (struct{}, error) {
		return struct{}{}, fn(ctx, conn)
	})
	return err
}

// WithTransaction wraps fn in BEGIN and COMMIT on conn.
//
// A failing BEGIN is returned as *DriverQueryError and nothing else is sent.
// When fn fails or panics, ROLLBACK is sent and the failure is returned
// unchanged, a panic being reported as *UnhandledConnectionError. If the
// ROLLBACK fails too, the result is a *TransactionRollbackError, which makes
// the pool discard the connection. A failing COMMIT replaces the result of fn.
//
// Transactions do not nest: calling WithTransaction inside fn on the same
// connection sends a second BEGIN, which PostgreSQL ignores with a warning.
func WithTransaction[T any](ctx context.Context, conn *Connection, opts TxOptions, fn func(ctx context.Context, conn *Connection) (T, error)) (T, error) {
	var zero T

	if opts.Isolation == "" {
		opts.Isolation = ReadCommitted
	}
	if !opts.Isolation.valid() {
		return zero, fmt.Errorf("%w: %q", ErrInvalidIsolation, opts.Isolation)
	}

	txID := uuid.NewString()
	logger := conn.logger.With(slog.String("tx_id", txID))

	ctx, span := conn.tracer.Start(ctx, "db.transaction",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.transaction.id", txID),
			attribute.String("db.transaction.isolation", string(opts.Isolation)),
			attribute.Bool("db.transaction.read_only", opts.ReadOnly),
		),
	)
	defer span.End()

	fail := func(outcome string, err error) (T, error) {
		conn.metrics.transaction(outcome)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return zero, err
	}

	if err := exec(ctx, conn, beginStatement(opts), opts.Annotation); err != nil {
		return fail("begin_failed", err)
	}

	result, err := runProgram(ctx, conn, fn)
	if err != nil {
		// Roll back even when the caller's context is already done.
		rbCtx := context.WithoutCancel(ctx)
		if rbErr := exec(rbCtx, conn, rollbackStatement, opts.Annotation); rbErr != nil {
			logger.Error("pgts: transaction rollback failed",
				slog.String("error", rbErr.Error()),
				slog.String("original_error", err.Error()),
			)
			return fail("rollback_failed", &TransactionRollbackError{
				RollbackCause: rbErr,
				OriginalError: err,
				Annotation:    opts.Annotation,
			})
		}
		return fail("rolled_back", err)
	}

	if err := exec(ctx, conn, commitStatement, opts.Annotation); err != nil {
		return fail("commit_failed", err)
	}

	conn.metrics.transaction("committed")
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// exec sends a transaction control statement. A panic in the driver is
// reported as *UnhandledConnectionError.
func exec(ctx context.Context, conn *Connection, stmt Statement, annotation any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &UnhandledConnectionError{Cause: panicError(r)}
		}
	}()
	_, err = conn.Query(ctx, stmt, annotation)
	return err
}

func runProgram[T any](ctx context.Context, conn *Connection, fn func(context.Context, *Connection) (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			result = zero
			err = &UnhandledConnectionError{Cause: panicError(r)}
		}
	}()
	return fn(ctx, conn)
}
