package schema

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/require"

	"github.com/mytips/synccore/internal/model"
)

func openMigratedDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, RunMigrations(context.Background(), db))
	return db
}

func TestRunMigrationsCreatesCriticalTables(t *testing.T) {
	db := openMigratedDB(t)
	require.NoError(t, VerifyCriticalTables(context.Background(), db))
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	db := openMigratedDB(t)
	require.NoError(t, RunMigrations(context.Background(), db))
	require.NoError(t, VerifyCriticalTables(context.Background(), db))
}

func TestInitDefaultDataSeedsUncategorizedAndSyncConfig(t *testing.T) {
	db := openMigratedDB(t)
	ctx := context.Background()
	require.NoError(t, InitDefaultData(ctx, db))

	var name string
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT name FROM categories WHERE id = ?`, model.UncategorizedID).Scan(&name))
	require.Equal(t, "Uncategorized", name)

	var mode string
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT mode FROM sync_config WHERE id = ?`, model.SyncConfigID).Scan(&mode))
	require.Equal(t, "offline", mode)

	// Seeding twice must not violate the primary key, since ON CONFLICT DO
	// NOTHING makes this safe to call on every startup.
	require.NoError(t, InitDefaultData(ctx, db))
}

func TestPurgeExpiredClipboardEntriesDeletesOnlyStaleRows(t *testing.T) {
	db := openMigratedDB(t)
	ctx := context.Background()

	fresh := NewID()
	stale := NewID()
	now := time.Now()

	_, err := db.ExecContext(ctx,
		`INSERT INTO clipboard_entries (id, content, captured_at) VALUES (?, 'a', ?)`,
		fresh, now.AddDate(0, 0, -1).UnixMilli())
	require.NoError(t, err)
	_, err = db.ExecContext(ctx,
		`INSERT INTO clipboard_entries (id, content, captured_at) VALUES (?, 'b', ?)`,
		stale, now.AddDate(0, 0, -60).UnixMilli())
	require.NoError(t, err)

	deleted, err := PurgeExpiredClipboardEntries(ctx, db, 30)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)
}

func TestNewIDReturnsDistinctValues(t *testing.T) {
	require.NotEqual(t, NewID(), NewID())
}
