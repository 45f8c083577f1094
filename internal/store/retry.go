package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// retryBase is the first backoff delay; attempt n waits retryBase<<n.
var retryBase = 100 * time.Millisecond

// Retry runs op up to attempts times with exponential backoff (100ms,
// 200ms, 400ms...). Context errors and ErrChecksumMismatch/ErrVersionMismatch
// are not transient and end the loop immediately.
func Retry(ctx context.Context, attempts int, op func(context.Context) error) error {
	attempts = max(attempts, 1)
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) ||
			errors.Is(err, context.DeadlineExceeded) ||
			errors.Is(err, ErrChecksumMismatch) ||
			errors.Is(err, ErrVersionMismatch) ||
			errors.Is(err, ErrNoSnapshot) {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		retries.Inc()
		slog.Warn("store operation failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", attempts),
			slog.String("error", err.Error()))

		timer := time.NewTimer(retryBase << attempt)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("store operation failed after %d attempts: %w", attempts, lastErr)
}
