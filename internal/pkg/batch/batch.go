// Package batch holds helpers shared by the one-shot binaries.
package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"
)

var ErrTimeout = errors.New("batch timed out")

// RunWithTimeout runs fn under a deadline. fn keeps running in the background after a timeout,
// so it must honour ctx.
func RunWithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- fn(ctx)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
}

// WithStack attaches the current goroutine stack to err.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w\nstack:\n%s", err, debug.Stack())
}
