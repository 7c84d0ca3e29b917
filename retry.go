package pgts

import "context"

// RetryOnSerialization runs fn until it succeeds, fails with an error that is
// not retryable (see IsRetryable), or has been attempted maxAttempts times.
// fn should run a whole transaction, so every attempt starts from BEGIN.
//
// Usage:
//
//	err := pgts.RetryOnSerialization(ctx, 3, func() error {
//	    return pool.WithConnection(ctx, func(ctx context.Context, conn *pgts.Connection) error {
//	        return conn.TransactionWithOptions(ctx, pgts.SerializableTxOptions(), transfer)
//	    })
//	})
func RetryOnSerialization(ctx context.Context, maxAttempts int, fn func() error) error {
	var lastErr error
	for i := 0; i < max(maxAttempts, 1); i++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}
