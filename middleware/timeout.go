package middleware

import (
	"context"
	"time"

	"github.com/xraph/herald/job"
)

// Timeout returns middleware that enforces a per-delivery deadline.
// When the deadline is exceeded the context is cancelled and the
// provider call should return context.DeadlineExceeded. A zero d
// disables the middleware.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *job.Job, next Handler) error {
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
