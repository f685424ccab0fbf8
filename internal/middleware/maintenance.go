package middleware

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// MaintenanceChecker reports whether maintenance mode is on.
type MaintenanceChecker interface {
	Maintenance(ctx context.Context) (bool, error)
}

// Maintenance answers 503 to everyone but admins while maintenance mode is
// on. It must run after Optional so admins can be recognized. A failing
// lookup lets the request through.
func Maintenance(s MaintenanceChecker, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			on, err := s.Maintenance(r.Context())
			if err != nil {
				logger.Warn("maintenance lookup failed", zap.Error(err))
			}
			if on {
				if id, ok := IdentityFrom(r.Context()); !ok || !id.Admin {
					writeError(w, http.StatusServiceUnavailable, "Service is under maintenance. Please try again later.")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
