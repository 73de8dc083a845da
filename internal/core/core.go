// Package core is the single façade the UI shell calls into: every verb
// named in spec.md §6.3 (get_database_info, switch_database_mode,
// manual_sync, validate_consistency, ...) lives here, composing
// internal/dbmanager, internal/syncengine, and internal/txn instead of
// making callers reach into three packages directly. Grounded on the
// teacher's internal/config.DefaultConfigService: a thin struct wrapping
// collaborators behind an interface-shaped set of verbs.
package core

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/mytips/synccore/internal/dbmanager"
	"github.com/mytips/synccore/internal/errs"
	"github.com/mytips/synccore/internal/events"
	"github.com/mytips/synccore/internal/model"
	"github.com/mytips/synccore/internal/replica"
	"github.com/mytips/synccore/internal/syncengine"
	"github.com/mytips/synccore/internal/txn"
)

// Core wires the manager, sync engine, and transaction manager behind the
// operation set spec.md §6.3 describes. Any one of engine/txnMgr may be nil
// when the active mode doesn't support sync (Local, InMemory).
type Core struct {
	manager *dbmanager.Manager
	engine  *syncengine.Engine
	txnMgr  *txn.Manager
	bus     *events.Bus
	logger  *slog.Logger
}

// New builds a Core. engine and txnMgr may be nil for modes with no remote
// counterpart; the corresponding operations then return
// errs.ErrModeDoesNotSupport.
func New(manager *dbmanager.Manager, engine *syncengine.Engine, txnMgr *txn.Manager, bus *events.Bus, logger *slog.Logger) *Core {
	return &Core{manager: manager, engine: engine, txnMgr: txnMgr, bus: bus, logger: logger}
}

// GetCurrentDatabasePath returns the active local file, if any — Remote
// mode has none.
func (c *Core) GetCurrentDatabasePath(ctx context.Context) (string, error) {
	mode, err := c.manager.CurrentMode()
	if err != nil {
		return "", err
	}
	if mode.LocalPath != "" {
		return mode.LocalPath, nil
	}
	return mode.EmbeddedLocalPath, nil
}

// DatabaseInfo is the shape spec.md §6.3 names for get_database_info.
type DatabaseInfo struct {
	SizeStr         string `json:"size_str"`
	NoteCount       int64  `json:"note_count"`
	CategoryCount   int64  `json:"category_count"`
	LastModifiedISO string `json:"last_modified_iso"`
}

// GetDatabaseInfo reports size, note/category counts, and the most recent
// edit timestamp across the active connection.
func (c *Core) GetDatabaseInfo(ctx context.Context) (DatabaseInfo, error) {
	info, err := c.manager.GetDatabaseInfo(ctx)
	if err != nil {
		return DatabaseInfo{}, err
	}
	db, err := c.manager.GetConnection()
	if err != nil {
		return DatabaseInfo{}, err
	}

	var noteCount, categoryCount int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tips`).Scan(&noteCount); err != nil {
		return DatabaseInfo{}, errs.NewDatabaseError("core.GetDatabaseInfo", errs.SeverityLow, "tips", err)
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM categories`).Scan(&categoryCount); err != nil {
		return DatabaseInfo{}, errs.NewDatabaseError("core.GetDatabaseInfo", errs.SeverityLow, "categories", err)
	}

	var lastModified string
	var maxMillis sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(updated_at) FROM tips`).Scan(&maxMillis); err == nil && maxMillis.Valid {
		lastModified = time.UnixMilli(maxMillis.Int64).UTC().Format(time.RFC3339)
	}

	return DatabaseInfo{
		SizeStr:         info.SizeStr,
		NoteCount:       noteCount,
		CategoryCount:   categoryCount,
		LastModifiedISO: lastModified,
	}, nil
}

// SwitchDatabaseMode re-initializes the manager against a new backing
// mode (spec.md §4.1's switch_mode contract).
func (c *Core) SwitchDatabaseMode(ctx context.Context, cfg dbmanager.Config) error {
	return c.manager.SwitchMode(ctx, cfg)
}

// TestRemoteConnection probes a candidate remote without disturbing the
// active connection, by dialing a throwaway handle.
func (c *Core) TestRemoteConnection(ctx context.Context, url, token string) error {
	if url == "" {
		return fmt.Errorf("core: %w: empty url", errs.ErrInvalidBackingMode)
	}
	dsn := fmt.Sprintf("%s?authToken=%s", url, token)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return &errs.ConnectionError{Mode: "remote", Cause: err}
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return &errs.ConnectionError{Mode: "remote", Cause: err}
	}
	return nil
}

// GetSyncConfig reads the singleton sync_config row.
func (c *Core) GetSyncConfig(ctx context.Context) (model.SyncConfig, error) {
	db, err := c.manager.GetConnection()
	if err != nil {
		return model.SyncConfig{}, err
	}
	var sc model.SyncConfig
	row := db.QueryRowContext(ctx, `
		SELECT id, remote_url, auth_token, mode, interval_seconds, last_sync_at,
		       is_online, auto_sync_enabled, created_at, updated_at
		FROM sync_config WHERE id = ?`, model.SyncConfigID)
	if err := row.Scan(&sc.ID, &sc.RemoteURL, &sc.AuthToken, &sc.Mode, &sc.IntervalSeconds,
		&sc.LastSyncAt, &sc.IsOnline, &sc.AutoSyncEnabled, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
		return model.SyncConfig{}, errs.NewDatabaseError("core.GetSyncConfig", errs.SeverityLow, "sync_config", err)
	}
	return sc, nil
}

// SaveSyncConfig upserts the singleton sync_config row.
func (c *Core) SaveSyncConfig(ctx context.Context, sc model.SyncConfig) error {
	db, err := c.manager.GetConnection()
	if err != nil {
		return err
	}
	sc.ID = model.SyncConfigID
	sc.UpdatedAt = time.Now().UnixMilli()
	_, err = db.ExecContext(ctx, `
		INSERT INTO sync_config (id, remote_url, auth_token, mode, interval_seconds, last_sync_at,
		                          is_online, auto_sync_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			remote_url = excluded.remote_url, auth_token = excluded.auth_token,
			mode = excluded.mode, interval_seconds = excluded.interval_seconds,
			last_sync_at = excluded.last_sync_at, is_online = excluded.is_online,
			auto_sync_enabled = excluded.auto_sync_enabled, updated_at = excluded.updated_at`,
		sc.ID, sc.RemoteURL, sc.AuthToken, sc.Mode, sc.IntervalSeconds, sc.LastSyncAt,
		sc.IsOnline, sc.AutoSyncEnabled, sc.CreatedAt, sc.UpdatedAt)
	if err != nil {
		return errs.NewDatabaseError("core.SaveSyncConfig", errs.SeverityMedium, "sync_config", err)
	}
	return nil
}

// SyncStatus is the shape spec.md §6.3 names for get_sync_status.
type SyncStatus struct {
	IsEnabled    bool             `json:"is_enabled"`
	IsOnline     bool             `json:"is_online"`
	Mode         string           `json:"mode"`
	LastSyncTime *int64           `json:"last_sync_time,omitempty"`
	Stats        syncengine.Stats `json:"stats"`
}

// GetSyncStatus reports the current sync config and backing mode. Stats is
// left at its zero value: the engine keeps no record of past runs.
func (c *Core) GetSyncStatus(ctx context.Context) (SyncStatus, error) {
	sc, err := c.GetSyncConfig(ctx)
	if err != nil {
		return SyncStatus{}, err
	}
	mode, err := c.manager.CurrentMode()
	if err != nil {
		return SyncStatus{}, err
	}
	return SyncStatus{
		IsEnabled:    sc.AutoSyncEnabled,
		IsOnline:     sc.IsOnline,
		Mode:         mode.Name(),
		LastSyncTime: sc.LastSyncAt,
	}, nil
}

// ManualSync runs the hybrid sync once (spec.md §6.3's manual_sync).
func (c *Core) ManualSync(ctx context.Context) (syncengine.Stats, error) {
	if c.engine == nil {
		return syncengine.Stats{}, fmt.Errorf("core: %w: mode has no sync engine", errs.ErrModeDoesNotSupport)
	}
	return c.engine.RunHybrid(ctx)
}

// ClearSyncedRecords deletes ledger rows already marked synced, freeing the
// table for the next sync pass's scan.
func (c *Core) ClearSyncedRecords(ctx context.Context) (int64, error) {
	db, err := c.manager.GetConnection()
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, `DELETE FROM sync_status WHERE status = ?`, model.LedgerSynced)
	if err != nil {
		return 0, errs.NewDatabaseError("core.ClearSyncedRecords", errs.SeverityLow, "sync_status", err)
	}
	return res.RowsAffected()
}

// OptimizeWALFiles invokes WAL maintenance on demand.
func (c *Core) OptimizeWALFiles(ctx context.Context) error {
	return c.manager.OptimizeWALFiles(ctx)
}

// CleanupLocalDatabaseFiles force-deletes the replica file and its
// WAL/SHM/journal siblings, for the recovery path spec.md §6.3 names.
// Callers must have already closed or be about to rebuild the connection
// that owns path; this does not touch the active *sql.DB.
func (c *Core) CleanupLocalDatabaseFiles(path string) error {
	if path == "" {
		return fmt.Errorf("core: %w: empty path", errs.ErrInvalidBackingMode)
	}
	return replica.RemoveSiblingFiles(path)
}

// ValidateConsistency runs the cross-database consistency report for each
// of the named tables, stopping at the first table whose check fails without
// a report. A table whose ids differ yields a report with Consistent=false
// and the loop goes on; that mismatch error is not returned.
func (c *Core) ValidateConsistency(ctx context.Context, tables []string) ([]*txn.ConsistencyReport, error) {
	if c.txnMgr == nil {
		return nil, fmt.Errorf("core: %w: mode has no remote to validate against", errs.ErrModeDoesNotSupport)
	}
	reports := make([]*txn.ConsistencyReport, 0, len(tables))
	for _, table := range tables {
		report, err := c.txnMgr.ValidateConsistency(ctx, table)
		if err != nil && report == nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}
