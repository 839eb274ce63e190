package middleware

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/nijaru/yt-transcript/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestIDFromContext returns the ID assigned by RequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func Chain(handler http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		if middlewares[i] != nil {
			handler = middlewares[i](handler)
		}
	}
	return handler
}

// RateLimiter interface for rate limiting middleware
type RateLimiter interface {
	Allow() bool
	Middleware(http.Handler) http.Handler
}

// rateLimiter implements token bucket algorithm
type rateLimiter struct {
	limiter *rate.Limiter
}

func NewRateLimiter(requestsPerMinute int, burst int) RateLimiter {
	return &rateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerMinute)/60, burst),
	}
}

func (rl *rateLimiter) Allow() bool {
	return rl.limiter.Allow()
}

func (rl *rateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow() {
			utils.RespondJSON(w, http.StatusTooManyRequests, utils.ErrorResponse{
				Detail: "Rate limit exceeded",
				Code:   "rate_limited",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
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
}

func Recovery(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.WithFields(logrus.Fields{
						"error":      err,
						"stack":      string(debug.Stack()),
						"request_id": RequestIDFromContext(r.Context()),
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					w.Write([]byte(`{"detail":"Internal server error","code":"internal"}`))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Logging logs one entry per request. The query string is left out since
// callers may pass full video URLs there.
func Logging(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := newLoggingResponseWriter(w)

			next.ServeHTTP(lrw, r)

			entry := logger.WithFields(logrus.Fields{
				"request_id": RequestIDFromContext(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"remote_ip":  r.RemoteAddr,
				"status":     lrw.statusCode,
				"duration":   time.Since(start),
				"size":       lrw.size,
			})
			if lrw.statusCode >= http.StatusInternalServerError {
				entry.Warn("Request completed")
				return
			}
			entry.Info("Request completed")
		})
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int64
}

func newLoggingResponseWriter(w http.ResponseWriter) *loggingResponseWriter {
	return &loggingResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	size, err := lrw.ResponseWriter.Write(b)
	lrw.size += int64(size)
	return size, err
}

func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := lrw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("hijacking not supported")
}
