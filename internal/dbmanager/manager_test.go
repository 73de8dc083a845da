package dbmanager

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mytips/synccore/internal/errs"
	"github.com/mytips/synccore/internal/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nil, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func TestGetConnectionBeforeInitializeReturnsErrNotConnected(t *testing.T) {
	bus := events.NewBus(testLogger())
	t.Cleanup(bus.Stop)
	m := New(t.TempDir(), bus, testLogger())

	_, err := m.GetConnection()
	require.ErrorIs(t, err, errs.ErrNotConnected)
}

func TestInitializeThenGetDatabaseInfoReportsLocalPath(t *testing.T) {
	bus := events.NewBus(testLogger())
	t.Cleanup(bus.Stop)
	dir := t.TempDir()
	m := New(dir, bus, testLogger())
	t.Cleanup(func() { m.Shutdown() })

	cfg := DefaultConfig()
	cfg.Mode = Mode{Kind: ModeLocal, LocalPath: filepath.Join(dir, "mytips.db")}
	require.NoError(t, m.Initialize(context.Background(), cfg))

	info, err := m.GetDatabaseInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, "local", info.Mode)
	require.True(t, info.Healthy)
}

func TestSwitchModeReplacesActiveConnection(t *testing.T) {
	bus := events.NewBus(testLogger())
	t.Cleanup(bus.Stop)
	dir := t.TempDir()
	m := New(dir, bus, testLogger())
	t.Cleanup(func() { m.Shutdown() })

	cfg := DefaultConfig()
	cfg.Mode = Mode{Kind: ModeLocal, LocalPath: filepath.Join(dir, "a.db")}
	require.NoError(t, m.Initialize(context.Background(), cfg))

	newCfg := DefaultConfig()
	newCfg.Mode = Mode{Kind: ModeLocal, LocalPath: filepath.Join(dir, "b.db")}
	require.NoError(t, m.SwitchMode(context.Background(), newCfg))

	mode, err := m.CurrentMode()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "b.db"), mode.LocalPath)
}

func TestTestConnectionPingsActiveDatabase(t *testing.T) {
	bus := events.NewBus(testLogger())
	t.Cleanup(bus.Stop)
	dir := t.TempDir()
	m := New(dir, bus, testLogger())
	t.Cleanup(func() { m.Shutdown() })

	cfg := DefaultConfig()
	cfg.Mode = Mode{Kind: ModeInMemory}
	require.NoError(t, m.Initialize(context.Background(), cfg))

	require.NoError(t, m.TestConnection(context.Background()))
}
