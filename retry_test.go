package pgts

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func serializationFailure() error {
	return newDriverQueryError(SQL("COMMIT;"), nil, &pgconn.PgError{Code: "40001"})
}

func TestRetryOnSerialization(t *testing.T) {
	ctx := context.Background()

	attempts := 0
	err := RetryOnSerialization(ctx, 3, func() error {
		attempts++
		if attempts < 3 {
			return serializationFailure()
		}
		return nil
	})
	if err != nil || attempts != 3 {
		t.Errorf("Expected success on third attempt, got %v after %d", err, attempts)
	}

	attempts = 0
	err = RetryOnSerialization(ctx, 2, func() error {
		attempts++
		return serializationFailure()
	})
	if !IsRetryable(err) || attempts != 2 {
		t.Errorf("Expected last retryable error after 2 attempts, got %v after %d", err, attempts)
	}

	attempts = 0
	fatal := errors.New("constraint violated")
	err = RetryOnSerialization(ctx, 5, func() error {
		attempts++
		return fatal
	})
	if err != fatal || attempts != 1 {
		t.Errorf("Expected no retry for %v, got %v after %d", fatal, err, attempts)
	}
}

func TestRetryOnSerialization_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := RetryOnSerialization(ctx, 5, func() error {
		attempts++
		cancel()
		return serializationFailure()
	})
	if attempts != 1 || !IsRetryable(err) {
		t.Errorf("Expected one attempt returning its error, got %v after %d", err, attempts)
	}

	attempts = 0
	err = RetryOnSerialization(ctx, 5, func() error {
		attempts++
		return nil
	})
	if attempts != 0 || !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context error before any attempt, got %v after %d", err, attempts)
	}
}
