// Package schema owns table creation, migration execution, default-data
// seeding, and the clipboard retention sweep, grounded on the teacher's
// internal/database/migrations.go (goose wiring) and internal/storage/
// sqlite/sqlite_storage.go's initSchema.
package schema

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"

	"github.com/mytips/synccore/internal/errs"
	"github.com/mytips/synccore/internal/model"
)

//go:embed sql/*.sql
var embeddedMigrations embed.FS

// RunMigrations applies all pending goose migrations against db, using the
// sqlite3 dialect. Each migration additionally guards with
// CREATE TABLE IF NOT EXISTS, so goose's version table is an optimization
// for skipping work, not the source of truth for idempotence (spec.md §4.3).
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(embeddedMigrations)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("schema: set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "sql"); err != nil {
		return errs.NewDatabaseError("schema.RunMigrations", errs.SeverityCritical, "", err)
	}
	return nil
}

// MigrationStatus reports the applied/pending state of each migration.
func MigrationStatus(ctx context.Context, db *sql.DB) ([]*goose.MigrationStatus, error) {
	goose.SetBaseFS(embeddedMigrations)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, err
	}
	return goose.TableStatusContext(ctx, db, "sql", goose.TableStatusOptions{})
}

// VerifyCriticalTables checks that every table in model.CriticalTables
// exists, returning the first missing table's name as an error — the
// startup self-check named in spec.md §4.3.
func VerifyCriticalTables(ctx context.Context, db *sql.DB) error {
	for _, table := range model.CriticalTables {
		row := db.QueryRowContext(ctx,
			`SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?`, table)
		var one int
		if err := row.Scan(&one); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("schema: critical table %q missing: %w", table, errs.ErrSchemaRepairFailed)
			}
			return errs.NewDatabaseError("schema.VerifyCriticalTables", errs.SeverityCritical, table, err)
		}
	}
	return nil
}

// InitDefaultData seeds the rows every fresh database needs: the
// well-known "Uncategorized" category and a default offline sync_config
// singleton.
func InitDefaultData(ctx context.Context, db *sql.DB) error {
	now := time.Now().UnixMilli()

	_, err := db.ExecContext(ctx, `
		INSERT INTO categories (id, name, parent_id, created_at, updated_at, version)
		VALUES (?, 'Uncategorized', NULL, ?, ?, 1)
		ON CONFLICT(id) DO NOTHING`,
		model.UncategorizedID, now, now)
	if err != nil {
		return errs.NewDatabaseError("schema.InitDefaultData", errs.SeverityHigh, "categories", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO sync_config (id, mode, interval_seconds, is_online, auto_sync_enabled, created_at, updated_at)
		VALUES (?, 'offline', 300, 0, 0, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		model.SyncConfigID, now, now)
	if err != nil {
		return errs.NewDatabaseError("schema.InitDefaultData", errs.SeverityHigh, "sync_config", err)
	}

	return nil
}

// PurgeExpiredClipboardEntries deletes clipboard_entries older than
// retentionDays, the retention GC named in SPEC_FULL.md's SUPPLEMENTED
// FEATURES section. The synccore doctor subcommand calls it with a 30-day
// retention; nothing calls it on a schedule.
func PurgeExpiredClipboardEntries(ctx context.Context, db *sql.DB, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()
	res, err := db.ExecContext(ctx, `DELETE FROM clipboard_entries WHERE captured_at < ?`, cutoff)
	if err != nil {
		return 0, errs.NewDatabaseError("schema.PurgeExpiredClipboardEntries", errs.SeverityLow, "", err)
	}
	return res.RowsAffected()
}

// NewID returns a fresh random identifier for ledger rows, conflict
// batches, and transaction ids — the single id-generation entry point so
// every table uses the same uuid package (spec.md glossary: "record_id").
func NewID() string {
	return uuid.NewString()
}
