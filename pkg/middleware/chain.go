package middleware

import "net/http"

// Handler is an HTTP handler that reports failure by returning an error.
// Only the Guard turns an error into a response.
type Handler func(w http.ResponseWriter, r *http.Request) error

// Middleware wraps a Handler
type Middleware func(Handler) Handler

// Chain applies mws to h. The first middleware is the outermost.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Stack applies plain http.Handler wrappers to h. The first wrapper is the
// outermost.
func Stack(h http.Handler, wrappers ...func(http.Handler) http.Handler) http.Handler {
	for i := len(wrappers) - 1; i >= 0; i-- {
		h = wrappers[i](h)
	}
	return h
}
