// Package retry wraps fallible operations. Soft turns a failure into a logged,
// discarded Result; Retry re-runs an operation a fixed number of times; Delay
// waits before running it. The wrappers compose: Soft(Retry(Delay(fn))).
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	tlog "github.com/unkn0wn-root/taskcache/log"
)

// Func is an operation that may fail.
type Func[T any] func(ctx context.Context) (T, error)

// Result carries the outcome of a Soft call. Err is set when the failure was
// logged and swallowed; Value is then the zero value.
type Result[T any] struct {
	Value T
	Err   error
}

// Swallowed reports whether the wrapped call failed.
func (r Result[T]) Swallowed() bool { return r.Err != nil }

// ExhaustedError is returned by Retry after the last failed attempt.
type ExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: all %d attempts failed: %v", e.Op, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// PanicError is a recovered panic turned into an error.
type PanicError struct {
	Op    string
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("%s: panic: %v", e.Op, e.Value) }

// Soft runs fn and never propagates its failure. A failure (panics included)
// is logged once at error level with op and owner fields.
func Soft[T any](name, owner string, logger tlog.Logger, fn Func[T]) func(ctx context.Context) Result[T] {
	logger = tlog.OrNop(logger)
	return func(ctx context.Context) Result[T] {
		v, err := call(ctx, name, fn)
		if err != nil {
			logger.Error("operation failed", tlog.Fields{"op": name, "owner": owner, "err": err})
			var zero T
			return Result[T]{Value: zero, Err: err}
		}
		return Result[T]{Value: v}
	}
}

// Retry runs fn up to attempts times (at least once), sleeping delay between
// attempts. Each failed attempt is logged; exhausting them logs a warning and
// returns *ExhaustedError. Context cancellation stops early with ctx.Err().
func Retry[T any](name string, attempts int, delay time.Duration, logger tlog.Logger, fn Func[T]) Func[T] {
	if attempts < 1 {
		attempts = 1
	}
	logger = tlog.OrNop(logger)
	return func(ctx context.Context) (T, error) {
		var (
			zero T
			last error
		)
		for i := 1; i <= attempts; i++ {
			v, err := call(ctx, name, fn)
			if err == nil {
				return v, nil
			}
			last = err
			logger.Error("attempt failed", tlog.Fields{"op": name, "attempt": i, "of": attempts, "err": err})
			if i == attempts {
				break
			}
			if err := sleep(ctx, delay); err != nil {
				return zero, err
			}
		}
		logger.Warn("all attempts failed", tlog.Fields{"op": name, "attempts": attempts})
		return zero, &ExhaustedError{Op: name, Attempts: attempts, Last: last}
	}
}

// Delay waits d (honoring ctx) and then calls fn once.
func Delay[T any](d time.Duration, fn Func[T]) Func[T] {
	return func(ctx context.Context) (T, error) {
		if err := sleep(ctx, d); err != nil {
			var zero T
			return zero, err
		}
		return fn(ctx)
	}
}

// Go runs fns concurrently and waits for all of them. Errors are joined in
// argument order; a nil result means every fn succeeded.
func Go(ctx context.Context, fns ...func(context.Context) error) error {
	var g errgroup.Group
	errs := make([]error, len(fns))
	for i, fn := range fns {
		g.Go(func() error {
			_, errs[i] = call(ctx, "go", func(ctx context.Context) (struct{}, error) {
				return struct{}{}, fn(ctx)
			})
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func call[T any](ctx context.Context, name string, fn Func[T]) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Op: name, Value: r}
		}
	}()
	return fn(ctx)
}

func sleep(ctx context.Context, d time.Duration) error {
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
