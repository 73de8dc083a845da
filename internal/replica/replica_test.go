package replica

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nil, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func TestBuildCreatesLocalFileOnFirstRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "replica.db")

	r, err := Build(context.Background(), Config{LocalPath: path}, testLogger())
	require.NoError(t, err)
	defer r.Close()

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
}

func TestBuildReusesHealthyExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "replica.db")

	r1, err := Build(context.Background(), Config{LocalPath: path}, testLogger())
	require.NoError(t, err)
	_, err = r1.Local().Exec(`CREATE TABLE marker (id INTEGER)`)
	require.NoError(t, err)
	require.NoError(t, r1.Close())

	r2, err := Build(context.Background(), Config{LocalPath: path}, testLogger())
	require.NoError(t, err)
	defer r2.Close()

	var name string
	err = r2.Local().QueryRow(`SELECT name FROM sqlite_master WHERE name = 'marker'`).Scan(&name)
	require.NoError(t, err, "reused file should still have the marker table from the previous generation")
}

func TestBuildRejectsPathTraversal(t *testing.T) {
	_, err := Build(context.Background(), Config{LocalPath: "../escape.db"}, testLogger())
	require.Error(t, err)
}

func TestRemoveSiblingFilesDeletesWALAndSHM(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "replica.db")
	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		require.NoError(t, os.WriteFile(path+suffix, []byte("x"), 0o600))
	}

	require.NoError(t, RemoveSiblingFiles(path))

	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		_, err := os.Stat(path + suffix)
		require.True(t, os.IsNotExist(err))
	}
}

func TestRemoveSiblingFilesToleratesMissingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, RemoveSiblingFiles(filepath.Join(dir, "never-existed.db")))
}

func TestRepairSchemaSucceedsImmediatelyWhenVerifyPasses(t *testing.T) {
	dir := t.TempDir()
	r, err := Build(context.Background(), Config{LocalPath: filepath.Join(dir, "replica.db")}, testLogger())
	require.NoError(t, err)
	defer r.Close()

	calls := 0
	err = r.RepairSchema(context.Background(), func(ctx context.Context, db *sql.DB) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestRepairSchemaExhaustsRetriesAndReturnsError(t *testing.T) {
	original := repairBackoff
	repairBackoff = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	t.Cleanup(func() { repairBackoff = original })

	dir := t.TempDir()
	r, err := Build(context.Background(), Config{LocalPath: filepath.Join(dir, "replica.db")}, testLogger())
	require.NoError(t, err)
	defer r.Close()

	persistent := errors.New("schema mismatch")
	err = r.RepairSchema(context.Background(), func(ctx context.Context, db *sql.DB) error {
		return persistent
	})
	require.Error(t, err)
}

func TestSupportsBuiltinSyncIsFalse(t *testing.T) {
	dir := t.TempDir()
	r, err := Build(context.Background(), Config{LocalPath: filepath.Join(dir, "replica.db")}, testLogger())
	require.NoError(t, err)
	defer r.Close()

	require.False(t, r.SupportsBuiltinSync())
	require.Error(t, r.SyncNow(context.Background()))
}
