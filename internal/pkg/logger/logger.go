// Package logger provides structured JSON logging shared by the three
// deception-plane processes. Every line carries the service name so the
// aggregated stream stays attributable; no request payloads are logged.
package logger

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"time"
)

type contextKey string

const RequestIDKey contextKey = "request_id"

// AccessEntry is the per-request JSON access log line. Written once after
// the response, from middleware.
type AccessEntry struct {
	Timestamp    string  `json:"timestamp"`
	Level        string  `json:"level"`
	Service      string  `json:"service"`
	Method       string  `json:"method"`
	Path         string  `json:"path"`
	SourceIP     string  `json:"source_ip"`
	ResponseCode int     `json:"response_code"`
	DurationMs   float64 `json:"duration_ms"`
}

// AccessLog writes a single JSON line for a completed HTTP request.
func AccessLog(out io.Writer, service, method, path, sourceIP string, status int, duration time.Duration) {
	level := "info"
	if status >= 500 {
		level = "error"
	} else if status >= 400 {
		level = "warn"
	}
	entry := AccessEntry{
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		Level:        level,
		Service:      service,
		Method:       method,
		Path:         path,
		SourceIP:     sourceIP,
		ResponseCode: status,
		DurationMs:   float64(duration.Microseconds()) / 1000.0,
	}
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(entry)
}

// FromContext returns the request ID from context, or empty string.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// New returns the application logger for a process. JSON to stdout, with
// the service name attached to every record.
func New(service string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if os.Getenv("LOG_LEVEL") == "debug" {
		opts.Level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts)).With("service", service)
}
