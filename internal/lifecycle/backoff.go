package lifecycle

import (
	"context"
	"math"
	"time"
)

// Backoff returns the delay before retrying after the given failed attempt:
// base * 2^(attempt-1). Attempts below 1 yield no delay and the result
// saturates instead of overflowing.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 || base <= 0 {
		return 0
	}
	shift := attempt - 1
	if shift >= 63 || base > math.MaxInt64>>shift {
		return math.MaxInt64
	}
	return base << shift
}

// sleep waits for d unless ctx ends or shutdown begins first.
func (m *Manager) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return m.interrupted(ctx)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stopping:
		return errStopping
	}
}

func (m *Manager) interrupted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.ShuttingDown() {
		return errStopping
	}
	return nil
}

// Personal.AI order the ending
