package middleware

import (
	"net/http"

	"github.com/ashdown/promptgate/internal/observability"
)

// Trace creates a middleware that injects a trace ID into every request.
// The per-request id the pipeline reports is minted by the orchestrator;
// the trace id correlates everything around it, including failures before
// the pipeline starts.
func Trace() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			traceID := observability.GenerateTraceID()
			ctx = observability.WithTraceID(ctx, traceID)

			w.Header().Set("X-Trace-Id", traceID)

			contextLogger := observability.FromContext(ctx)
			contextLogger.Info("request started",
				observability.String("method", r.Method),
				observability.String("path", r.URL.Path),
				observability.String("remote_addr", r.RemoteAddr),
			)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
