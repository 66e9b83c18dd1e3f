package syncer

import (
	"context"
	"math/rand"
	"time"
)

const (
	retryAttempts = 3
	retryBase     = 200 * time.Millisecond
)

// withRetry runs fn up to retryAttempts times with exponential backoff and
// jitter. Context cancellation cuts the wait short and returns immediately.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == retryAttempts {
			break
		}
		delay := retryBase << (attempt - 1)
		delay += time.Duration(rand.Int63n(int64(delay/2) + 1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
