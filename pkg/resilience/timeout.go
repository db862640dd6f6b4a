package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/geoquery/pkg/errors"
)

// TimeoutError reports that an external call (a record source load, a
// broker publish) ran past its limit. It matches both errors.ErrTimeout and
// context.DeadlineExceeded, and Transient classifies it as retryable.
type TimeoutError struct {
	Op    string
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %v", e.Op, e.Limit)
}

func (e *TimeoutError) Unwrap() []error {
	return []error{apperrors.ErrTimeout, context.DeadlineExceeded}
}

// WithTimeout runs fn under a context limited to limit. fn must honour its
// context; once it returns, an error caused by the derived deadline becomes
// a *TimeoutError and one caused by the parent context is passed through
// wrapped. A non-positive limit runs fn on ctx unchanged.
func WithTimeout(ctx context.Context, limit time.Duration, op string, fn func(ctx context.Context) error) error {
	if limit <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	err := fn(tctx)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("%s: %w", op, ctx.Err())
	case errors.Is(tctx.Err(), context.DeadlineExceeded):
		return &TimeoutError{Op: op, Limit: limit}
	}
	return err
}
