package dispatch

// Middleware wraps a HandlerFunc with cross-cutting behaviour (logging, timeouts, ...).
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one:
//
//	Chain(A, B, C)(handler) → A(B(C(handler)))
//
// Execution order: A.before → B.before → C.before → handler → C.after → B.after → A.after
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
