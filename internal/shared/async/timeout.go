// Package async provides the cancellable timeout race used around plugin,
// filter and handler execution.
package async

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when the work does not finish within its budget.
var ErrTimeout = errors.New("operation timed out")

type outcome[T any] struct {
	value T
	err   error
}

// WithTimeout runs fn and returns its result, or ErrTimeout once d elapses.
// The context passed to fn is cancelled as soon as WithTimeout returns, and
// the result channel is buffered so a late fn never blocks on send.
// A non-positive d disables the timer.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		var out outcome[T]
		defer func() {
			if r := recover(); r != nil {
				out.err = fmt.Errorf("panic: %v", r)
			}
			done <- out
		}()
		out.value, out.err = fn(runCtx)
	}()

	var timer <-chan time.Time
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timer = t.C
	}

	select {
	case out := <-done:
		return out.value, out.err
	case <-timer:
		return zero, fmt.Errorf("%w after %s", ErrTimeout, d)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
