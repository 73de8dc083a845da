// Package txn implements the cross-database transaction manager: a
// two-phase commit (local then remote) with compensating rollback, and a
// consistency report comparing the two sides (spec.md §4.8). Grounded on
// the teacher's internal/database/postgres retry/circuit-breaker texture
// for the compensation loop.
package txn

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/mytips/synccore/internal/errs"
)

// Op is a single write to be applied to both sides.
type Op struct {
	Table string
	Exec  func(ctx context.Context, tx *sql.Tx) error
}

// Manager coordinates a local *sql.DB and, when the backing mode supports
// sync, a remote *sql.DB.
type Manager struct {
	local  *sql.DB
	remote *sql.DB // nil when the mode has no remote counterpart
	logger *slog.Logger
}

// New builds a Manager. remote may be nil for Local/InMemory modes.
func New(local, remote *sql.DB, logger *slog.Logger) *Manager {
	return &Manager{local: local, remote: remote, logger: logger}
}

// Result reports which side(s) committed.
type Result struct {
	LocalCommitted  bool
	RemoteCommitted bool
}

// Commit applies ops to the local database first; if a remote database is
// configured it then applies the same ops there. If the remote phase
// fails after the local phase committed, Commit runs a compensating set of
// inverse ops against local (supplied via compensate) and returns the
// remote error wrapped in errs.DatabaseError — spec.md §4.8's "local
// commits, remote fails, compensate" case.
func (m *Manager) Commit(ctx context.Context, ops []Op, compensate []Op) (Result, error) {
	var res Result

	localTx, err := m.local.BeginTx(ctx, nil)
	if err != nil {
		return res, errs.NewDatabaseError("txn.Commit", errs.SeverityHigh, "local begin", err)
	}
	for _, op := range ops {
		if err := op.Exec(ctx, localTx); err != nil {
			localTx.Rollback()
			return res, errs.NewDatabaseError("txn.Commit", errs.SeverityHigh, "local op "+op.Table, err)
		}
	}
	if err := localTx.Commit(); err != nil {
		return res, errs.NewDatabaseError("txn.Commit", errs.SeverityHigh, "local commit", err)
	}
	res.LocalCommitted = true

	if m.remote == nil {
		return res, nil
	}

	remoteTx, err := m.remote.BeginTx(ctx, nil)
	if err != nil {
		return res, m.compensate(ctx, compensate, err)
	}
	for _, op := range ops {
		if err := op.Exec(ctx, remoteTx); err != nil {
			remoteTx.Rollback()
			return res, m.compensate(ctx, compensate, err)
		}
	}
	if err := remoteTx.Commit(); err != nil {
		return res, m.compensate(ctx, compensate, err)
	}
	res.RemoteCommitted = true

	return res, nil
}

// compensate runs the caller-supplied inverse operations against local
// after a remote failure, logging (but not returning) any compensation
// error — the original remote error always takes precedence so callers
// see why the transaction failed.
func (m *Manager) compensate(ctx context.Context, compensate []Op, remoteErr error) error {
	m.logger.Warn("txn: remote phase failed, compensating local", "error", remoteErr)

	tx, err := m.local.BeginTx(ctx, nil)
	if err != nil {
		m.logger.Error("txn: compensation begin failed", "error", err)
		return errs.NewDatabaseError("txn.Commit", errs.SeverityCritical, "remote phase", remoteErr)
	}
	for _, op := range compensate {
		if err := op.Exec(ctx, tx); err != nil {
			tx.Rollback()
			m.logger.Error("txn: compensation op failed", "table", op.Table, "error", err)
			return errs.NewDatabaseError("txn.Commit", errs.SeverityCritical, "compensation failed, local state may be inconsistent", remoteErr)
		}
	}
	if err := tx.Commit(); err != nil {
		m.logger.Error("txn: compensation commit failed", "error", err)
	}
	return errs.NewDatabaseError("txn.Commit", errs.SeverityHigh, "remote phase", remoteErr)
}

// ConsistencyReport names the rows found on one side but not the other.
type ConsistencyReport struct {
	Table           string
	MissingOnLocal  []string
	MissingOnRemote []string
	Consistent      bool
}

// ValidateConsistency compares record ids present in table on both sides
// (spec.md §4.8 get_consistency_report). Requires a remote database.
func (m *Manager) ValidateConsistency(ctx context.Context, table string) (*ConsistencyReport, error) {
	if m.remote == nil {
		return nil, fmt.Errorf("txn: %w: no remote configured", errs.ErrModeDoesNotSupport)
	}

	localIDs, err := idSet(ctx, m.local, table)
	if err != nil {
		return nil, err
	}
	remoteIDs, err := idSet(ctx, m.remote, table)
	if err != nil {
		return nil, err
	}

	report := &ConsistencyReport{Table: table}
	for id := range localIDs {
		if !remoteIDs[id] {
			report.MissingOnRemote = append(report.MissingOnRemote, id)
		}
	}
	for id := range remoteIDs {
		if !localIDs[id] {
			report.MissingOnLocal = append(report.MissingOnLocal, id)
		}
	}
	report.Consistent = len(report.MissingOnLocal) == 0 && len(report.MissingOnRemote) == 0

	if !report.Consistent {
		return report, fmt.Errorf("txn: %w: table %s", errs.ErrConsistencyMismatch, table)
	}
	return report, nil
}

func idSet(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	// table is only ever one of model.CriticalTables, set by internal/schema
	// and txn callers, never user input, so this is not a SQL-injection
	// surface despite the string interpolation.
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT id FROM %s`, table))
	if err != nil {
		return nil, errs.NewDatabaseError("txn.ValidateConsistency", errs.SeverityMedium, table, err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.NewDatabaseError("txn.ValidateConsistency", errs.SeverityMedium, table, err)
		}
		out[id] = true
	}
	return out, rows.Err()
}
