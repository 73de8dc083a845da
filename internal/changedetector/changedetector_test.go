package changedetector

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/require"

	"github.com/mytips/synccore/internal/model"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE sync_status (
			id TEXT PRIMARY KEY, table_name TEXT, record_id TEXT,
			operation TEXT, status TEXT, created_at INTEGER, updated_at INTEGER
		);
		CREATE TABLE data_versions (
			table_name TEXT, record_id TEXT, version INTEGER, content_hash TEXT, updated_at INTEGER,
			PRIMARY KEY (table_name, record_id)
		);
	`)
	require.NoError(t, err)
	return db
}

func TestPendingChangesReturnsOldestFirst(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	_, err := db.ExecContext(ctx, `INSERT INTO sync_status VALUES (?, 'tips', 'r1', 'insert', 'pending', ?, ?)`, "l1", now, now)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO sync_status VALUES (?, 'tips', 'r2', 'update', 'pending', ?, ?)`, "l2", now+10, now+10)
	require.NoError(t, err)

	d, err := New(db, HashSHA256, false, 16)
	require.NoError(t, err)

	changes, err := d.PendingChanges(ctx, "tips", 10)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	require.Equal(t, "r1", changes[0].RecordID)
}

func TestHasChangedDetectsContentDrift(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	d, err := New(db, HashSHA256, true, 16)
	require.NoError(t, err)

	changed, err := d.HasChanged(ctx, "tips", "r1", "hello")
	require.NoError(t, err)
	require.True(t, changed, "first observation should always report changed")

	changed, err = d.HasChanged(ctx, "tips", "r1", "hello")
	require.NoError(t, err)
	require.False(t, changed, "identical content should report unchanged once cached")

	changed, err = d.HasChanged(ctx, "tips", "r1", "goodbye")
	require.NoError(t, err)
	require.True(t, changed)
}

func TestHasChangedDisabledAlwaysReportsChanged(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	d, err := New(db, HashSHA256, false, 16)
	require.NoError(t, err)

	changed, err := d.HasChanged(ctx, "tips", "r1", "hello")
	require.NoError(t, err)
	require.True(t, changed)
	changed, err = d.HasChanged(ctx, "tips", "r1", "hello")
	require.NoError(t, err)
	require.True(t, changed, "hashing disabled means every call reports changed")
}

func TestRecordVersionPersistsAcrossCacheMiss(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	d1, err := New(db, HashSHA256, true, 16)
	require.NoError(t, err)
	require.NoError(t, d1.RecordVersion(ctx, "tips", "r1", d1.hash("hello"), 1, time.Now().UnixMilli()))

	// A fresh detector has no LRU entries and must fall back to data_versions.
	d2, err := New(db, HashSHA256, true, 16)
	require.NoError(t, err)
	changed, err := d2.HasChanged(ctx, "tips", "r1", "hello")
	require.NoError(t, err)
	require.False(t, changed)
}
