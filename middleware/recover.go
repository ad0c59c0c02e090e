package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to errors and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, info Info, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("locked body panicked",
					slog.String("lock", info.Lock),
					slog.Int("attempt", info.Attempt),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("panic in locked body %s: %v", info.Lock, r)
			}
		}()
		return next(ctx)
	}
}
