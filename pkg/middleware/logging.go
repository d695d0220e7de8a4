package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/logging"
)

// RequestIDHeader carries the request correlation ID
const RequestIDHeader = "X-Request-Id"

// AccessLog logs one line per request and tags the response with a request ID
func AccessLog(logger *logging.Logger) func(http.Handler) http.Handler {
	logger = logger.WithComponent("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)

			start := time.Now()
			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)

			logger.Info("Request completed", logging.Fields{
				"request_id": id,
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     rec.status,
				"bytes":      rec.bytes,
				"duration":   time.Since(start).String(),
			})
		})
	}
}
