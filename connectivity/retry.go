package connectivity

import (
	"context"
	"log/slog"
	"time"
)

// WithTimeout bounds each call. Zero disables it.
func WithTimeout(d time.Duration) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			if d > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}
			return next(ctx, payload)
		}
	}
}

// WithRetry retries calls for which retryable returns true, doubling
// baseBackoff each time. A nil retryable retries every error.
func WithRetry(maxRetries int, baseBackoff time.Duration, retryable func(error) bool, logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			var lastErr error
			for attempt := 0; attempt <= maxRetries; attempt++ {
				resp, err := next(ctx, payload)
				if err == nil {
					return resp, nil
				}
				lastErr = err
				if ctx.Err() != nil || (retryable != nil && !retryable(err)) {
					return nil, err
				}
				if attempt == maxRetries {
					break
				}
				wait := baseBackoff << attempt
				if logger != nil {
					logger.WarnContext(ctx, "connectivity: retrying", "attempt", attempt+1, "backoff_ms", wait.Milliseconds(), "error", err)
				}
				select {
				case <-ctx.Done():
					return nil, lastErr
				case <-time.After(wait):
				}
			}
			return nil, lastErr
		}
	}
}
