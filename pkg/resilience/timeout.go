package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WithTimeout runs fn under a derived context that expires after timeout and
// waits for fn to return; fn must honour ctx. A deadline hit is reported as
// context.DeadlineExceeded annotated with name and the limit. A non-positive
// timeout runs fn with ctx unchanged.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := fn(timeoutCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: exceeded %v: %w", name, timeout, err)
	}
	return err
}
