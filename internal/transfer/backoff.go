package transfer

import (
	"context"
	"math/rand"
	"time"
)

const maxBackoffShift = 16

// retryDelay returns a full-jitter delay in [0, base*2^attempt).
func retryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt > maxBackoffShift {
		attempt = maxBackoffShift
	}
	ceiling := base << attempt
	return time.Duration(rand.Int63n(int64(ceiling)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
