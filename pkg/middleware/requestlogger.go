package middleware

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/cartengine/pkg/logger"
)

// RequestLogger stores a logger enriched with every context field
// (correlation, principal, trace) on the request context. Mount it after
// RequestLogging, Tracing and Identify.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
