// Package deadline races external calls against a timer so that a hung
// collaborator can never block shutdown or retry decisions.
package deadline

import (
	"context"
	"errors"
	"fmt"
	"time"

	werrors "github.com/wabot/wabot/pkg/errors"
)

// Result is the outcome of an operation run with a deadline: either the
// operation's own value and error, or TimedOut set when the timer won.
type Result[T any] struct {
	Value    T
	Err      error
	TimedOut bool

	panicked  bool
	recovered any
}

// Run executes fn with a child context bounded by d and waits for whichever
// comes first. fn keeps running in the background if it ignores ctx; its
// late result is dropped. A non-positive d means no deadline. A panic in fn
// is re-raised on the caller's goroutine unless the deadline already passed.
func Run[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) Result[T] {
	if d <= 0 {
		v, err := fn(ctx)
		return Result[T]{Value: v, Err: err}
	}

	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	ch := make(chan Result[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- Result[T]{panicked: true, recovered: r}
			}
		}()
		v, err := fn(cctx)
		ch <- Result[T]{Value: v, Err: err}
	}()

	select {
	case res := <-ch:
		if res.panicked {
			panic(res.recovered)
		}
		if errors.Is(res.Err, context.DeadlineExceeded) && ctx.Err() == nil {
			res.TimedOut = true
		}
		return res
	case <-cctx.Done():
		var zero T
		if ctx.Err() != nil {
			return Result[T]{Value: zero, Err: ctx.Err()}
		}
		return Result[T]{Value: zero, TimedOut: true}
	}
}

// Do is Run for operations without a value. A timeout is reported as a
// coded ErrCodeTimeout error naming op.
func Do(ctx context.Context, op string, d time.Duration, fn func(ctx context.Context) error) error {
	res := Run(ctx, d, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return res.error(op, d)
}

// Value is Run with the timeout folded into the returned error.
func Value[T any](ctx context.Context, op string, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	res := Run(ctx, d, fn)
	return res.Value, res.error(op, d)
}

func (r Result[T]) error(op string, d time.Duration) error {
	if r.TimedOut {
		return werrors.New(werrors.ErrCodeTimeout, op, fmt.Sprintf("timed out after %s", d), nil)
	}
	return r.Err
}

// Personal.AI order the ending
