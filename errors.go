package pgts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun/driver/pgdriver"
)

// ErrorCode represents a database error classification
type ErrorCode string

const (
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeDuplicate        ErrorCode = "DUPLICATE"
	CodeForeignKey       ErrorCode = "FOREIGN_KEY"
	CodeCheckViolation   ErrorCode = "CHECK_VIOLATION"
	CodeNotNullViolation ErrorCode = "NOT_NULL"
	CodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeSerialization    ErrorCode = "SERIALIZATION"
	CodeDeadlock         ErrorCode = "DEADLOCK"
	CodeUnknown          ErrorCode = "UNKNOWN"
)

// Sentinel errors for quick checks
var (
	ErrNotFound         = errors.New("pgts: record not found")
	ErrDuplicate        = errors.New("pgts: duplicate key violation")
	ErrForeignKey       = errors.New("pgts: foreign key violation")
	ErrCheckViolation   = errors.New("pgts: check constraint violation")
	ErrNotNullViolation = errors.New("pgts: not null violation")
	ErrConnection       = errors.New("pgts: connection failed")
	ErrTimeout          = errors.New("pgts: operation timeout")
	ErrSerialization    = errors.New("pgts: serialization failure")
	ErrDeadlock         = errors.New("pgts: deadlock detected")

	// ErrConnectionReleased is returned by a Connection used after release.
	ErrConnectionReleased = errors.New("pgts: connection already released")

	// ErrInvalidIsolation is returned before BEGIN for an unknown isolation level.
	ErrInvalidIsolation = errors.New("pgts: invalid isolation level")
)

func causeText(err error) string {
	if err == nil {
		return "unknown cause"
	}
	return err.Error()
}

// PoolCreationError is returned when the connection source cannot be built.
type PoolCreationError struct {
	Cause error
}

func (e *PoolCreationError) Error() string {
	return "pgts: pool creation failed: " + causeText(e.Cause)
}

func (e *PoolCreationError) Unwrap() error { return e.Cause }

// PoolCheckoutError is returned when no connection could be checked out.
type PoolCheckoutError struct {
	Cause error
}

func (e *PoolCheckoutError) Error() string {
	return "pgts: connection checkout failed: " + causeText(e.Cause)
}

func (e *PoolCheckoutError) Unwrap() error { return e.Cause }

// PoolShutdownError is returned when the pool fails to shut down.
type PoolShutdownError struct {
	Cause error
}

func (e *PoolShutdownError) Error() string {
	return "pgts: pool shutdown failed: " + causeText(e.Cause)
}

func (e *PoolShutdownError) Unwrap() error { return e.Cause }

// UnhandledPoolError carries a fault raised by an idle pooled session.
type UnhandledPoolError struct {
	Cause error
}

func (e *UnhandledPoolError) Error() string {
	return "pgts: unhandled pool error: " + causeText(e.Cause)
}

func (e *UnhandledPoolError) Unwrap() error { return e.Cause }

// UnhandledConnectionError wraps a failure that escaped the typed error
// channel of a program, such as a panic.
type UnhandledConnectionError struct {
	Cause error
}

func (e *UnhandledConnectionError) Error() string {
	return "pgts: unhandled connection error: " + causeText(e.Cause)
}

func (e *UnhandledConnectionError) Unwrap() error { return e.Cause }

// DriverQueryError is returned when the database rejects or fails a statement.
// PostgreSQL diagnostics are copied from the driver error when available.
type DriverQueryError struct {
	Statement  Statement
	Annotation any
	Cause      error

	Code       ErrorCode // Error classification
	SQLState   string    // SQLSTATE reported by the server
	Table      string    // Table name if known
	Column     string    // Column name if known
	Constraint string    // Constraint name if applicable
	Detail     string    // Additional detail from PostgreSQL
	Hint       string    // Hint from PostgreSQL
}

func (e *DriverQueryError) Error() string {
	msg := "pgts: query failed: " + causeText(e.Cause)
	if e.Table != "" {
		msg += fmt.Sprintf(" (table: %s)", e.Table)
	}
	if e.Constraint != "" {
		msg += fmt.Sprintf(" (constraint: %s)", e.Constraint)
	}
	return msg
}

func (e *DriverQueryError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for sentinel error matching
func (e *DriverQueryError) Is(target error) bool {
	switch e.Code {
	case CodeDuplicate:
		return target == ErrDuplicate
	case CodeForeignKey:
		return target == ErrForeignKey
	case CodeCheckViolation:
		return target == ErrCheckViolation
	case CodeNotNullViolation:
		return target == ErrNotNullViolation
	case CodeConnectionFailed:
		return target == ErrConnection
	case CodeTimeout:
		return target == ErrTimeout
	case CodeSerialization:
		return target == ErrSerialization
	case CodeDeadlock:
		return target == ErrDeadlock
	}
	return false
}

// newDriverQueryError classifies cause. An error that already is a
// DriverQueryError is returned as is.
func newDriverQueryError(stmt Statement, annotation any, cause error) *DriverQueryError {
	var dqe *DriverQueryError
	if errors.As(cause, &dqe) {
		return dqe
	}

	e := &DriverQueryError{
		Statement:  stmt,
		Annotation: annotation,
		Cause:      cause,
		Code:       CodeUnknown,
	}

	// PostgreSQL specific errors
	var pgErr *pgconn.PgError
	var bunErr pgdriver.Error
	switch {
	case errors.As(cause, &pgErr):
		e.SQLState = pgErr.Code
		e.Table = pgErr.TableName
		e.Column = pgErr.ColumnName
		e.Constraint = pgErr.ConstraintName
		e.Detail = pgErr.Detail
		e.Hint = pgErr.Hint
		e.Code = classifySQLState(pgErr.Code)
	case errors.As(cause, &bunErr):
		e.SQLState = bunErr.Field('C')
		e.Table = bunErr.Field('t')
		e.Column = bunErr.Field('c')
		e.Constraint = bunErr.Field('n')
		e.Detail = bunErr.Field('D')
		e.Hint = bunErr.Field('H')
		e.Code = classifySQLState(e.SQLState)
	case errors.Is(cause, context.DeadlineExceeded), pgconn.Timeout(cause):
		e.Code = CodeTimeout
	}

	return e
}

// classifySQLState maps PostgreSQL error codes.
// See: https://www.postgresql.org/docs/current/errcodes-appendix.html
func classifySQLState(code string) ErrorCode {
	switch code {
	case "23505": // unique_violation
		return CodeDuplicate
	case "23503": // foreign_key_violation
		return CodeForeignKey
	case "23502": // not_null_violation
		return CodeNotNullViolation
	case "23514": // check_violation
		return CodeCheckViolation
	case "40001": // serialization_failure
		return CodeSerialization
	case "40P01": // deadlock_detected
		return CodeDeadlock
	case "57014": // query_canceled (timeout)
		return CodeTimeout
	case "57P01", "57P02", "57P03": // admin_shutdown, crash_shutdown, cannot_connect_now
		return CodeConnectionFailed
	}
	if strings.HasPrefix(code, "08") { // connection_exception class
		return CodeConnectionFailed
	}
	return CodeUnknown
}

// RowCountError is returned when a statement yields a number of rows its
// contract does not accept.
type RowCountError struct {
	Expected   string
	Received   string
	Statement  Statement
	Annotation any
}

func (e *RowCountError) Error() string {
	return fmt.Sprintf("pgts: expected %s rows, received %s", e.Expected, e.Received)
}

// Is reports an empty result as ErrNotFound.
func (e *RowCountError) Is(target error) bool {
	return target == ErrNotFound && e.Received == "0"
}

// FieldError describes one value that could not be decoded.
type FieldError struct {
	Row      int    // Index of the row in the result
	Field    string // Column name, or a dotted path for nested values
	Expected string // Expected Go type
	Actual   any    // Value found, nil when missing
	Reason   string
}

func (fe FieldError) Error() string {
	if fe.Field == "" {
		return fmt.Sprintf("row %d: %s", fe.Row, fe.Reason)
	}
	return fmt.Sprintf("row %d: field %s: %s", fe.Row, fe.Field, fe.Reason)
}

// RowValidationError is returned when rows do not match the expected shape.
// FieldErrors lists every offending field of every row.
type RowValidationError struct {
	Shape       string
	Value       any
	Annotation  any
	FieldErrors []FieldError
}

func (e *RowValidationError) Error() string {
	const maxListed = 3

	var b strings.Builder
	fmt.Fprintf(&b, "pgts: rows do not match %s: %d field error(s)", e.Shape, len(e.FieldErrors))
	for i, fe := range e.FieldErrors {
		if i == maxListed {
			b.WriteString("; ...")
			break
		}
		b.WriteString("; ")
		b.WriteString(fe.Error())
	}
	return b.String()
}

// TransactionRollbackError is returned when ROLLBACK itself fails. The
// session is in an unknown state and is discarded on release.
type TransactionRollbackError struct {
	RollbackCause error
	OriginalError error
	Annotation    any
}

func (e *TransactionRollbackError) Error() string {
	return fmt.Sprintf("pgts: rollback failed: %s (original error: %s)",
		causeText(e.RollbackCause), causeText(e.OriginalError))
}

func (e *TransactionRollbackError) Unwrap() []error {
	var errs []error
	if e.RollbackCause != nil {
		errs = append(errs, e.RollbackCause)
	}
	if e.OriginalError != nil {
		errs = append(errs, e.OriginalError)
	}
	return errs
}

// IsNotFound checks if error is an empty result for a contract requiring rows
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicate checks if error is a duplicate key error
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// IsForeignKey checks if error is a foreign key error
func IsForeignKey(err error) bool {
	return errors.Is(err, ErrForeignKey)
}

// IsCheckViolation checks if error is a check constraint error
func IsCheckViolation(err error) bool {
	return errors.Is(err, ErrCheckViolation)
}

// IsNotNullViolation checks if error is a not null violation error
func IsNotNullViolation(err error) bool {
	return errors.Is(err, ErrNotNullViolation)
}

// IsConnection checks if error is a connection error
func IsConnection(err error) bool {
	return errors.Is(err, ErrConnection)
}

// IsTimeout checks if error is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsRetryable checks if the error is retryable (serialization, deadlock)
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSerialization) || errors.Is(err, ErrDeadlock)
}

func isType[E error](err error) bool {
	var target E
	return errors.As(err, &target)
}

func IsPoolCreationError(err error) bool        { return isType[*PoolCreationError](err) }
func IsPoolCheckoutError(err error) bool        { return isType[*PoolCheckoutError](err) }
func IsPoolShutdownError(err error) bool        { return isType[*PoolShutdownError](err) }
func IsUnhandledPoolError(err error) bool       { return isType[*UnhandledPoolError](err) }
func IsUnhandledConnectionError(err error) bool { return isType[*UnhandledConnectionError](err) }
func IsDriverQueryError(err error) bool         { return isType[*DriverQueryError](err) }
func IsRowCountError(err error) bool            { return isType[*RowCountError](err) }
func IsRowValidationError(err error) bool       { return isType[*RowValidationError](err) }
func IsTransactionRollbackError(err error) bool { return isType[*TransactionRollbackError](err) }

// GetErrorCode extracts the classification of a driver error
func GetErrorCode(err error) (ErrorCode, bool) {
	var dqe *DriverQueryError
	if errors.As(err, &dqe) {
		return dqe.Code, true
	}
	return "", false
}

func driverField(err error, field func(*DriverQueryError) string) (string, bool) {
	var dqe *DriverQueryError
	if errors.As(err, &dqe) {
		if v := field(dqe); v != "" {
			return v, true
		}
	}
	return "", false
}

// GetConstraint extracts the constraint name if available
func GetConstraint(err error) (string, bool) {
	return driverField(err, func(e *DriverQueryError) string { return e.Constraint })
}

// GetTable extracts the table name if available
func GetTable(err error) (string, bool) {
	return driverField(err, func(e *DriverQueryError) string { return e.Table })
}

// GetColumn extracts the column name if available
func GetColumn(err error) (string, bool) {
	return driverField(err, func(e *DriverQueryError) string { return e.Column })
}

// GetDetail extracts the error detail if available
func GetDetail(err error) (string, bool) {
	return driverField(err, func(e *DriverQueryError) string { return e.Detail })
}

// GetHint extracts the error hint if available
func GetHint(err error) (string, bool) {
	return driverField(err, func(e *DriverQueryError) string { return e.Hint })
}

// GetSQLState extracts the SQLSTATE if available
func GetSQLState(err error) (string, bool) {
	return driverField(err, func(e *DriverQueryError) string { return e.SQLState })
}
