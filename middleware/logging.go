package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Logging returns middleware that logs body start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, info Info, next Handler) error {
		logger.Debug("locked body started",
			slog.String("lock", info.Lock),
			slog.String("kind", info.Kind),
			slog.Int("attempt", info.Attempt),
			slog.Bool("reentrant", info.Reentrant),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("locked body failed",
				slog.String("lock", info.Lock),
				slog.Int("attempt", info.Attempt),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Debug("locked body completed",
				slog.String("lock", info.Lock),
				slog.Int("attempt", info.Attempt),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
