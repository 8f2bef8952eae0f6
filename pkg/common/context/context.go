// Package context provides deadline helpers for store operations.
package context

import (
	"context"
	"errors"
	"time"
)

// WithOperationTimeout bounds ctx by timeout. When the parent already carries
// an earlier deadline, or timeout is not positive, the parent deadline wins.
func WithOperationTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	if deadline, ok := parent.Deadline(); ok && time.Until(deadline) <= timeout {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

// IsCanceled returns true if the context has been canceled
func IsCanceled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// IsDeadline reports whether err was caused by an expired deadline.
func IsDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// IsCallerCanceled reports whether err comes from the caller canceling ctx
// rather than from a deadline.
func IsCallerCanceled(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) && errors.Is(ctx.Err(), context.Canceled)
}
