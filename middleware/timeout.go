package middleware

import (
	"context"
	"time"

	"github.com/sitewright/automation/intent"
)

// Timeout returns middleware that enforces a per-intent execution
// deadline. When the deadline is exceeded the context is cancelled and
// the handler should return context.DeadlineExceeded. A non-positive d
// disables the deadline.
func Timeout(d time.Duration) intent.Middleware {
	return func(ctx context.Context, in *intent.Intent, next intent.Next) error {
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
