package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// access collects what inner handlers learn about a request. Auth runs in a
// derived context, so it reports the caller through this shared pointer.
type access struct {
	caller        Identity
	authenticated bool
}

// ZapRequestLogger writes one access entry per request after the response.
// Server errors log at error level and throttled calls at warn.
func ZapRequestLogger(logger *zap.Logger) func(next http.Handler) http.Handler {
	readable := logger.Core().Enabled(zapcore.DebugLevel)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			a := &access{}
			r = r.WithContext(context.WithValue(r.Context(), accessKey, a))

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				elapsed := time.Since(start)

				msg := "request completed"
				if readable {
					msg = fmt.Sprintf("%s %s %d %s", r.Method, r.URL.Path, status, elapsed)
				}
				if ce := logger.Check(accessLevel(status), msg); ce != nil {
					ce.Write(a.fields(r, status, ww.BytesWritten(), elapsed)...)
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func accessLevel(status int) zapcore.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case status == http.StatusTooManyRequests:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

func (a *access) fields(r *http.Request, status, bytes int, elapsed time.Duration) []zap.Field {
	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Int("bytes", bytes),
		zap.Duration("duration", elapsed),
		zap.String("remote_ip", r.RemoteAddr),
	}
	if reqID := middleware.GetReqID(r.Context()); reqID != "" {
		fields = append(fields, zap.String("request_id", reqID))
	}
	if a.authenticated {
		fields = append(fields, zap.Int64("user_id", a.caller.UserID), zap.Bool("admin", a.caller.Admin))
	}
	return fields
}
