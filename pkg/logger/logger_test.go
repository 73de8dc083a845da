package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestSetupWriter(t *testing.T) {
	assert.Equal(t, os.Stdout, SetupWriter(Config{Output: "stdout"}))
	assert.Equal(t, os.Stderr, SetupWriter(Config{Output: "stderr"}))
	assert.Equal(t, os.Stdout, SetupWriter(Config{Output: ""}), "unrecognized output falls back to stdout")
	assert.Equal(t, os.Stdout, SetupWriter(Config{Output: "file"}), "file output with no filename falls back to stdout")
}

func TestNewLoggerJSONFormat(t *testing.T) {
	l := NewLogger(Config{Level: "info", Format: "json", Output: "stdout"})
	require.NotNil(t, l)
	l.Info("test message", "key", "value")
}

func TestNewLoggerDebugAddsSource(t *testing.T) {
	// File output lets the test read back what NewLogger itself wrote
	// without touching the real stdout.
	path := filepath.Join(t.TempDir(), "debug.log")
	cfg := Config{Level: "debug", Format: "json", Output: "file", Filename: path}
	writer := SetupWriter(cfg)
	require.NotEqual(t, os.Stdout, writer)

	NewLogger(cfg).Debug("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Contains(t, entry, "source")
}

func TestGenerateRequestID(t *testing.T) {
	id1 := GenerateRequestID()
	id2 := GenerateRequestID()

	assert.NotEqual(t, id1, id2)
	assert.True(t, strings.HasPrefix(id1, "req_"))
	assert.Greater(t, len(id1), len("req_"))
}

func TestWithRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "test-request-id")
	assert.Equal(t, "test-request-id", GetRequestID(ctx))
}

func TestGetRequestIDEmpty(t *testing.T) {
	assert.Equal(t, "", GetRequestID(context.Background()))
}

func TestLoggingMiddlewareGeneratesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	var sawID string
	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawID = GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))

	req := httptest.NewRequest("GET", "/sync/status", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, sawID)
	assert.Equal(t, sawID, w.Header().Get("X-Request-ID"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	for _, field := range []string{"method", "path", "status", "duration", "request_id"} {
		assert.Contains(t, entry, field)
	}
	assert.Equal(t, "GET", entry["method"])
	assert.Equal(t, "/sync/status", entry["path"])
	assert.Equal(t, float64(http.StatusOK), entry["status"])
	assert.Equal(t, sawID, entry["request_id"])

	// This surface is local-only; remote address and user agent carry no
	// operational value and are deliberately not logged.
	assert.NotContains(t, entry, "remote_addr")
	assert.NotContains(t, entry, "user_agent")
}

func TestLoggingMiddlewareHonorsExistingRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	const existingID = "existing-request-id"

	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, existingID, GetRequestID(r.Context()))
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", existingID)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, existingID, entry["request_id"])
}

func TestResponseWriter(t *testing.T) {
	w := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
	assert.Equal(t, http.StatusOK, rw.statusCode)

	rw.WriteHeader(http.StatusNotFound)
	assert.Equal(t, http.StatusNotFound, rw.statusCode)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
