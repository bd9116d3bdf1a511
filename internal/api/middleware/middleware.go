// Package middleware provides HTTP middleware shared by the three
// deception-plane services: service-node tagging, JSON access logging,
// Prometheus instrumentation, and panic recovery.
package middleware

import (
	"context"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/deceptionops/deception-backend/internal/pkg/logger"
	"github.com/deceptionops/deception-backend/internal/pkg/metrics"
)

const (
	ServiceNodeHeader = "X-Service-Node"
	RequestIDHeader   = "X-Request-ID"
)

var accessLogOut io.Writer = os.Stdout

// responseWriter captures status code for logging.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// ServiceNode tags every response with the component name and assigns a
// request ID.
func ServiceNode(service string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(RequestIDHeader)
			if reqID == "" {
				reqID = uuid.New().String()
			}
			ctx := context.WithValue(r.Context(), logger.RequestIDKey, reqID)
			w.Header().Set(ServiceNodeHeader, service)
			w.Header().Set(RequestIDHeader, reqID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccessLog logs each request as a single JSON line and records the
// Prometheus request counters.
func AccessLog(service string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)
			duration := time.Since(start)

			logger.AccessLog(accessLogOut, service, r.Method, r.URL.Path, r.RemoteAddr, rw.status, duration)
			metrics.HTTPRequestTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rw.status)).Inc()
			metrics.HTTPRequestDurationSeconds.WithLabelValues(r.Method, r.URL.Path).Observe(duration.Seconds())
		})
	}
}

// Recover converts handler panics into 500 responses. No panic escapes a
// request handler.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"internal server error"}`))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
