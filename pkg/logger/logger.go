// Package logger builds the structured slog.Logger the sync core uses
// everywhere, plus the request-id middleware internal/httpapi's debug
// surface mounts on every route.
package logger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ContextKey namespaces values this package stores on a context.Context.
type ContextKey string

// RequestIDKey is the context key LoggingMiddleware stores the per-request
// id under.
const RequestIDKey ContextKey = "request_id"

// Config drives NewLogger: which slog.Level, which encoding, and where
// output goes (stdout/stderr, or a lumberjack-rotated file for a
// long-running "run" process).
type Config struct {
	Level      string
	Format     string
	Output     string
	Filename   string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// NewLogger builds the process-wide logger from cfg. Debug level also
// turns on source locations, since that's the level someone reaches for
// when they're about to read a stack of call sites anyway.
func NewLogger(cfg Config) *slog.Logger {
	level := ParseLevel(cfg.Level)
	writer := SetupWriter(cfg)

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps a config string to a slog.Level, defaulting to Info for
// an empty or unrecognized value.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupWriter resolves cfg.Output to a destination. "file" rotates
// through lumberjack (MaxSize in megabytes, MaxAge in days) so a
// synccore run process left going for weeks doesn't fill the disk.
func SetupWriter(cfg Config) io.Writer {
	switch strings.ToLower(cfg.Output) {
	case "file":
		if cfg.Filename == "" {
			return os.Stdout
		}
		return &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
	case "stderr":
		return os.Stderr
	default:
		return os.Stdout
	}
}

// GenerateRequestID returns a short random id for correlating one HTTP
// request's log lines. Falls back to a timestamp if the CSPRNG is
// unavailable, rather than failing the request over a log field.
func GenerateRequestID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(buf)
}

// WithRequestID attaches a request id to ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID reads back the request id WithRequestID attached, or ""
// if none was set.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// LoggingMiddleware logs one line per request on internal/httpapi's debug
// surface: method, path, status, latency, and the request id (accepted
// from an incoming X-Request-ID header so a caller can correlate its own
// logs, or minted fresh otherwise). Since this surface is local-only
// (spec.md §6.3), remote address and user agent carry no operational
// value and are left out.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = GenerateRequestID()
			}
			r = r.WithContext(WithRequestID(r.Context(), requestID))
			w.Header().Set("X-Request-ID", requestID)

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration", time.Since(start),
				"request_id", requestID,
			)
		})
	}
}

// responseWriter captures the status code a handler wrote, since
// http.ResponseWriter doesn't expose it after the fact.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
