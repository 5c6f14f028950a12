package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type contextKey string

const requestIDKey contextKey = "request_id"

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

// LoggingMiddleware logs method, path, status, duration and request ID.
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

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// userLimiters hands out one token bucket per chat user. A bucket idle for
// longer than it takes to refill completely is indistinguishable from a new
// one, so such buckets are dropped on the next sweep.
type userLimiters struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
	limiters  map[string]*userLimiter
}

type userLimiter struct {
	*rate.Limiter
	lastSeen time.Time
}

func newUserLimiters(limit rate.Limit, burst int) *userLimiters {
	refill := time.Duration(float64(burst) / float64(limit) * float64(time.Second))
	return &userLimiters{
		limit:    limit,
		burst:    burst,
		idle:     max(refill, time.Minute),
		limiters: make(map[string]*userLimiter),
	}
}

// allow spends one token of userID's bucket at now.
func (u *userLimiters) allow(userID string, now time.Time) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	if now.Sub(u.lastSweep) >= u.idle {
		u.sweep(now)
	}

	l, ok := u.limiters[userID]
	if !ok {
		l = &userLimiter{Limiter: rate.NewLimiter(u.limit, u.burst)}
		u.limiters[userID] = l
	}
	l.lastSeen = now
	return l.AllowN(now, 1)
}

func (u *userLimiters) sweep(now time.Time) {
	for id, l := range u.limiters {
		if now.Sub(l.lastSeen) >= u.idle {
			delete(u.limiters, id)
		}
	}
	u.lastSweep = now
}

func (u *userLimiters) size() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.limiters)
}

// ChatRateLimit throttles chat turns per {userID} route param. A non-positive
// perMinute disables it. Must run after routing so the param is set.
func ChatRateLimit(perMinute, burst int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst <= 0 {
		burst = 1
	}
	limiters := newUserLimiters(rate.Limit(float64(perMinute)/60), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiters.allow(chi.URLParam(r, "userID"), time.Now()) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many messages, slow down")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
