package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/sitewright/automation/intent"
)

// Recover returns middleware that recovers from panics in the handler
// chain. Panics are converted to errors and logged with a stack trace,
// so one broken capability manager cannot take down the dispatcher.
func Recover(logger *slog.Logger) intent.Middleware {
	return func(ctx context.Context, in *intent.Intent, next intent.Next) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("intent handler panicked",
					slog.String("intent_name", in.Name),
					slog.String("intent_id", in.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = fmt.Errorf("panic in intent %s: %v", in.Name, r)
			}
		}()
		return next(ctx)
	}
}
