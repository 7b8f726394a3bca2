package db

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/vestora/internal/apperror"
)

const retryBackoff = 20 * time.Millisecond

// WithRetry runs fn until it succeeds, fails with a non-contention error, or
// the attempt budget is spent. An exhausted budget is reported as
// apperror.ErrConcurrencyConflict wrapping the last error.
func WithRetry(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !IsConcurrencyErr(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(time.Duration(attempt) * retryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", apperror.ErrConcurrencyConflict, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w: %w", apperror.ErrConcurrencyConflict, err)
}
