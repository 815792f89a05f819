package attendance

import (
	"context"
	"time"
)

const DefaultStoreTimeout = 5 * time.Second

type boundedResult[T any] struct {
	value T
	err   error
}

// withTimeout races fn against a timer. When the timer wins the call is abandoned:
// its context is cancelled but its eventual result is discarded.
func withTimeout[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	callCtx, cancel := context.WithCancel(ctx)
	done := make(chan boundedResult[T], 1)
	go func() {
		value, err := fn(callCtx)
		done <- boundedResult[T]{value: value, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	var zero T
	select {
	case res := <-done:
		cancel()
		return res.value, res.err
	case <-timer.C:
		cancel()
		return zero, ErrStoreTimeout
	case <-ctx.Done():
		cancel()
		return zero, ctx.Err()
	}
}
