// Package middleware provides composable wrappers around cluster lock
// bodies. Middleware wraps body calls synchronously and can observe or
// modify execution (recover from panics, log, trace, record metrics).
package middleware

import "context"

// Handler is the terminal function that runs a locked body.
type Handler func(ctx context.Context) error

// Info describes the body invocation being wrapped.
type Info struct {
	// Lock is the cluster lock name the body runs under.
	Lock string

	// Kind is "hard", "soft" or "combine".
	Kind string

	// Attempt is 1 for the first run and increments for every combine
	// re-run under the same acquisition.
	Attempt int

	// Reentrant is set when the lock was already held by the calling flow.
	Reentrant bool
}

// Middleware wraps a Handler with cross-cutting logic. Middleware MUST
// call next to continue the chain (unless short-circuiting on error).
type Middleware func(ctx context.Context, info Info, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover) executes as:
//
//	logging → recover → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, info Info, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, info, prev)
			}
		}
		return h(ctx)
	}
}
