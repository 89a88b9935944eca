package llm

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// retryTransient calls fn and re-issues it after delay while it fails with a
// dropped connection, up to retries extra attempts.
func retryTransient[T any](ctx context.Context, retries int, delay time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if !IsTransient(err) || attempt >= retries || ctx.Err() != nil {
			return zero, err
		}

		zap.L().Warn("llm: connection reset, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", retries),
			zap.Duration("delay", delay),
		)
		if err := SleepContext(ctx, delay); err != nil {
			return zero, err
		}
	}
}

// SleepContext sleeps for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
