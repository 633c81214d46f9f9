package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/appointly/booking-engine/internal/booking"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	actorKey     contextKey = "actor"
)

// RequestIDMiddleware adds a unique request ID to each request context
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware logs each request with method, path, status, duration
// and request ID.
func LoggingMiddleware(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", GetRequestID(r.Context())),
			)
		})
	}
}

// IdentityMiddleware reads the authenticated identity forwarded by the
// upstream credential service (X-User-ID, X-User-Roles). The engine trusts
// the identity itself but re-validates ownership and state rules on every
// operation.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawID := r.Header.Get("X-User-ID")
		if rawID == "" {
			next.ServeHTTP(w, r)
			return
		}

		userID, err := uuid.Parse(rawID)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_identity", "X-User-ID must be a valid UUID")
			return
		}

		var roles []booking.Role
		for _, raw := range strings.Split(r.Header.Get("X-User-Roles"), ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			role, err := booking.ParseRole(raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid_identity", "unknown role: "+raw)
				return
			}
			roles = append(roles, role)
		}

		actor := booking.Actor{ID: userID, Roles: roles}
		ctx := context.WithValue(r.Context(), actorKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

func actorFrom(r *http.Request) (booking.Actor, bool) {
	actor, ok := r.Context().Value(actorKey).(booking.Actor)
	return actor, ok
}

// requireActor writes a 401 and returns false when no identity was
// forwarded.
func requireActor(w http.ResponseWriter, r *http.Request) (booking.Actor, bool) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "identity_required", "X-User-ID header is required")
	}
	return actor, ok
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
