package pipeline

import (
	"context"
	"time"
)

// Retry runs op until it succeeds, ctx ends, or maxAttempts is reached
// (0 means no limit). It sleeps interval between attempts and returns the
// last error seen.
func Retry(ctx context.Context, interval time.Duration, maxAttempts int, op func(context.Context) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if maxAttempts > 0 && attempt >= maxAttempts {
			return err
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

// Permanent reports whether retrying err cannot help.
func Permanent(err error) bool {
	switch Classify(err) {
	case KindFormat, KindDuplicate, KindEncoder, KindLease, KindNotFound:
		return true
	}
	return false
}

// RetryTransient is Retry that gives up at the first permanent error.
func RetryTransient(ctx context.Context, interval time.Duration, maxAttempts int, op func(context.Context) error) error {
	var permanent error
	err := Retry(ctx, interval, maxAttempts, func(ctx context.Context) error {
		err := op(ctx)
		if err != nil && Permanent(err) {
			permanent = err
			return nil
		}
		return err
	})
	if permanent != nil {
		return permanent
	}
	return err
}
