package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/sitewright/automation/intent"
)

// Logging returns middleware that logs intent start and completion.
func Logging(logger *slog.Logger) intent.Middleware {
	return func(ctx context.Context, in *intent.Intent, next intent.Next) error {
		logger.Debug("intent started",
			slog.String("intent_name", in.Name),
			slog.String("intent_id", in.ID.String()),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("intent failed",
				slog.String("intent_name", in.Name),
				slog.String("intent_id", in.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("intent completed",
				slog.String("intent_name", in.Name),
				slog.String("intent_id", in.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
