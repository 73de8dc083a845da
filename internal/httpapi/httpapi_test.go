package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mytips/synccore/internal/core"
	"github.com/mytips/synccore/internal/dbmanager"
	"github.com/mytips/synccore/internal/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nil, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	bus := events.NewBus(testLogger())
	t.Cleanup(bus.Stop)

	manager := dbmanager.New(dir, bus, testLogger())
	cfg := dbmanager.DefaultConfig()
	cfg.Mode = dbmanager.Mode{Kind: dbmanager.ModeLocal, LocalPath: filepath.Join(dir, "mytips.db")}
	require.NoError(t, manager.Initialize(context.Background(), cfg))
	t.Cleanup(func() { manager.Shutdown() })

	c := core.New(manager, nil, nil, bus, testLogger())
	return New(manager, c, bus, testLogger())
}

func TestHandleStatusReportsSyncMode(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body, "mode")
}

func TestHandleDatabaseInfoReportsSeededCounts(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/database-info", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var info struct {
		CategoryCount int64 `json:"category_count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.Equal(t, int64(1), info.CategoryCount)
}

func TestHandleTestConnectionPingsActiveDatabase(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/test-connection", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleSyncNowReportsNoEngineAsConflict(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/sync-now", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
}
