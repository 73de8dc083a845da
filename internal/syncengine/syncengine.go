// Package syncengine drives reconciliation between the local database and
// its remote counterpart. Three strategies are available (spec.md §4.4):
// Builtin (the embedded-replica client's own library sync), Incremental
// (ledger-driven, batched), and Full (table-compare, used for first sync
// or recovery). Hybrid dispatches to Builtin when available, else
// Incremental, falling back to Full when Incremental reports it cannot
// make progress.
package syncengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mytips/synccore/internal/changedetector"
	"github.com/mytips/synccore/internal/conflict"
	"github.com/mytips/synccore/internal/errs"
	"github.com/mytips/synccore/internal/events"
	"github.com/mytips/synccore/internal/metrics"
	"github.com/mytips/synccore/internal/model"
)

// Strategy is one of the three reconciliation algorithms.
type Strategy string

const (
	StrategyBuiltin     Strategy = "builtin"
	StrategyIncremental Strategy = "incremental"
	StrategyFull        Strategy = "full"
	StrategyHybrid      Strategy = "hybrid"
)

// Stats summarizes one sync run.
type Stats struct {
	Strategy       Strategy
	TablesProcessed int
	RecordsPushed  int
	RecordsPulled  int
	Conflicts      int
	Failed         int
	Duration       time.Duration
}

// BuiltinSyncer is satisfied by the embedded-replica client when its mode
// supports a library-native sync call (e.g. libSQL's own replica sync).
// internal/replica implements this for EmbeddedReplica mode.
type BuiltinSyncer interface {
	SyncNow(ctx context.Context) error
	SupportsBuiltinSync() bool
}

// processMu serializes every sync run, local or remote, across the whole
// process — spec.md §5's "one sync at a time to avoid WAL writer
// contention"; a second concurrent sync attempt fails fast instead of
// queuing.
var processMu sync.Mutex

// Engine runs sync passes against a local *sql.DB, optionally pushing to
// a remote *sql.DB, using the change detector and conflict resolver.
type Engine struct {
	local    *sql.DB
	remote   *sql.DB
	detector *changedetector.Detector
	resolver *conflict.Resolver
	bus      *events.Bus
	logger   *slog.Logger
	builtin  BuiltinSyncer // nil when the mode has no builtin path
	metrics  *metrics.Metrics // nil unless SetMetrics is called

	maxBatchSize int
}

// SetMetrics attaches Prometheus instrumentation. Optional: an Engine whose
// metrics field is nil (never SetMetrics-ed) simply skips recording.
func (e *Engine) SetMetrics(m *metrics.Metrics) { e.metrics = m }

// Config tunes one Engine.
type Config struct {
	MaxBatchSize int // spec.md §4.6 default 1000
}

// New builds an Engine. builtin may be nil.
func New(local, remote *sql.DB, detector *changedetector.Detector, resolver *conflict.Resolver, bus *events.Bus, builtin BuiltinSyncer, logger *slog.Logger, cfg Config) *Engine {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1000
	}
	return &Engine{
		local: local, remote: remote, detector: detector, resolver: resolver,
		bus: bus, logger: logger, builtin: builtin, maxBatchSize: cfg.MaxBatchSize,
	}
}

// RunHybrid is the entry point used by the background sync loop and the
// manual "sync now" operation (spec.md §6.2): try Builtin, else
// Incremental, falling back to Full if Incremental can't proceed (e.g.
// first sync, or the ledger looks corrupted).
func (e *Engine) RunHybrid(ctx context.Context) (Stats, error) {
	if !processMu.TryLock() {
		return Stats{}, errs.ErrSyncInProgress
	}
	defer processMu.Unlock()

	start := time.Now()
	e.bus.Publish(events.New(events.TypeSyncStarted, "syncengine", map[string]any{"strategy": StrategyHybrid}))

	stats, err := e.runHybridLocked(ctx)
	stats.Duration = time.Since(start)
	e.recordMetrics(stats, err)

	if err != nil {
		e.bus.Publish(events.New(events.TypeSyncFailed, "syncengine", map[string]any{"error": err.Error()}))
		return stats, err
	}
	e.bus.Publish(events.New(events.TypeSyncCompleted, "syncengine", map[string]any{
		"records_pushed": stats.RecordsPushed, "conflicts": stats.Conflicts,
	}))
	return stats, nil
}

func (e *Engine) recordMetrics(stats Stats, err error) {
	if e.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	strategy := string(stats.Strategy)
	e.metrics.SyncRunsTotal.WithLabelValues(strategy, outcome).Inc()
	e.metrics.SyncDuration.WithLabelValues(strategy).Observe(stats.Duration.Seconds())
	if stats.RecordsPushed > 0 {
		e.metrics.SyncRecordsTotal.WithLabelValues("all", "push").Add(float64(stats.RecordsPushed))
	}
}

func (e *Engine) runHybridLocked(ctx context.Context) (Stats, error) {
	if e.builtin != nil && e.builtin.SupportsBuiltinSync() {
		if err := e.builtin.SyncNow(ctx); err == nil {
			return Stats{Strategy: StrategyBuiltin}, nil
		} else {
			e.logger.Warn("syncengine: builtin sync failed, falling back to incremental", "error", err)
		}
	}

	stats, err := e.runIncremental(ctx)
	if err != nil {
		e.logger.Warn("syncengine: incremental sync failed, falling back to full", "error", err)
		return e.runFull(ctx)
	}
	return stats, nil
}

// runIncremental walks model.SyncTables in fixed order, pulling batches of
// pending ledger rows and pushing them to remote, yielding between batches
// so long syncs don't starve the caller's context (spec.md §5, and the
// original implementation's max_batch_size + wall-clock yield, captured
// in SPEC_FULL.md's SUPPLEMENTED FEATURES).
func (e *Engine) runIncremental(ctx context.Context) (Stats, error) {
	stats := Stats{Strategy: StrategyIncremental}

	for _, table := range model.SyncTables {
		for {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			default:
			}

			batch, err := e.detector.PendingChanges(ctx, table, e.maxBatchSize)
			if err != nil {
				return stats, err
			}
			if len(batch) == 0 {
				break
			}

			pushed, conflicts, err := e.pushBatch(ctx, table, batch)
			stats.RecordsPushed += pushed
			stats.Conflicts += conflicts
			if err != nil {
				stats.Failed += len(batch) - pushed
				return stats, err
			}

			e.bus.Publish(events.New(events.TypeSyncProgress, "syncengine", map[string]any{
				"table": table, "pushed": pushed,
			}))

			if len(batch) < e.maxBatchSize {
				break
			}
			// Yield between batches so a large backlog doesn't monopolize
			// the process; also gives ctx cancellation a checkpoint.
			select {
			case <-time.After(10 * time.Millisecond):
			case <-ctx.Done():
				return stats, ctx.Err()
			}
		}
		stats.TablesProcessed++
	}

	return stats, nil
}

// pushBatch marks each ledger row synced after a successful remote write,
// concurrently up to a small fan-out bound via errgroup, per SPEC_FULL.md's
// DOMAIN STACK note on errgroup-driven batch partitioning.
func (e *Engine) pushBatch(ctx context.Context, table string, batch []changedetector.PendingChange) (pushed, conflicts int, err error) {
	if e.remote == nil {
		return 0, 0, errs.ErrModeDoesNotSupport
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, change := range batch {
		change := change
		g.Go(func() error {
			ok, isConflict, perr := e.pushOne(gctx, table, change)
			mu.Lock()
			defer mu.Unlock()
			if ok {
				pushed++
			}
			if isConflict {
				conflicts++
			}
			return perr
		})
	}

	err = g.Wait()
	return pushed, conflicts, err
}

// tablesWithoutTimestamp lists sync tables with no updated_at column,
// which therefore never go through conflict detection: tip_tags is a pure
// join table (note_id, tag_id) — a link either exists on both sides or it
// doesn't, there is nothing to compare timestamps on.
var tablesWithoutTimestamp = map[string]bool{"tip_tags": true}

// pushOne applies one ledger row to the remote: a delete tombstones the
// remote row by key, otherwise the current local row is read and written
// to remote with INSERT OR REPLACE (spec.md §4.4 step 2c), after checking
// whether remote moved independently since the last sync.
func (e *Engine) pushOne(ctx context.Context, table string, change changedetector.PendingChange) (pushed, isConflict bool, err error) {
	if change.Operation == model.OpDelete {
		if err := e.deleteRemoteRow(ctx, table, change.RecordID); err != nil {
			return false, false, err
		}
	} else {
		if !tablesWithoutTimestamp[table] {
			isConflict, err = e.checkConflict(ctx, table, change.RecordID)
			if err != nil {
				return false, false, err
			}
		}
		if err := e.copyRowToRemote(ctx, table, change.RecordID); err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return false, isConflict, err
			}
			// local row vanished after the ledger entry was queued (e.g. a
			// later delete raced ahead of this push); nothing left to copy.
		}
	}

	_, err = e.local.ExecContext(ctx, `UPDATE sync_status SET status = ?, updated_at = ? WHERE id = ?`,
		model.LedgerSynced, time.Now().UnixMilli(), change.LedgerID)
	if err != nil {
		return false, isConflict, errs.NewDatabaseError("syncengine.pushOne", errs.SeverityMedium, table, err)
	}
	return true, isConflict, nil
}

// checkConflict compares local and remote updated_at for (table, id) and,
// if they diverge, runs the conflict pipeline. Reports whether a conflict
// was detected.
func (e *Engine) checkConflict(ctx context.Context, table, id string) (bool, error) {
	remoteUpdatedAt, hasRemote, err := e.remoteRowUpdatedAt(ctx, table, id)
	if err != nil {
		return false, err
	}
	if !hasRemote {
		return false, nil
	}
	localUpdatedAt, err := e.localRowUpdatedAt(ctx, table, id)
	if err != nil {
		return false, err
	}
	if localUpdatedAt == remoteUpdatedAt {
		return false, nil
	}
	return e.resolveConflict(ctx, table, id, localUpdatedAt, remoteUpdatedAt)
}

// remoteRowUpdatedAt reads the remote's updated_at for (table, id), if a
// row exists there at all (a brand-new local record has none yet).
func (e *Engine) remoteRowUpdatedAt(ctx context.Context, table, id string) (int64, bool, error) {
	var updatedAt int64
	err := e.remote.QueryRowContext(ctx, `SELECT updated_at FROM `+table+` WHERE id = ?`, id).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errs.NewDatabaseError("syncengine.remoteRowUpdatedAt", errs.SeverityLow, table, err)
	}
	return updatedAt, true, nil
}

func (e *Engine) localRowUpdatedAt(ctx context.Context, table, id string) (int64, error) {
	var updatedAt int64
	err := e.local.QueryRowContext(ctx, `SELECT updated_at FROM `+table+` WHERE id = ?`, id).Scan(&updatedAt)
	if err != nil {
		return 0, errs.NewDatabaseError("syncengine.localRowUpdatedAt", errs.SeverityLow, table, err)
	}
	return updatedAt, nil
}

// keyColumns is the primary-key column list for a sync table. Every table
// but tip_tags keys on a single "id"; tip_tags' composite key (note_id,
// tag_id) is encoded in a PendingChange.RecordID as "noteID:tagID".
func keyColumns(table string) []string {
	if table == "tip_tags" {
		return []string{"note_id", "tag_id"}
	}
	return []string{"id"}
}

func keyWhere(cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = c + " = ?"
	}
	return strings.Join(parts, " AND ")
}

func keyArgs(table, recordID string) []any {
	cols := keyColumns(table)
	if len(cols) == 1 {
		return []any{recordID}
	}
	parts := strings.SplitN(recordID, ":", len(cols))
	args := make([]any, len(cols))
	for i := range cols {
		if i < len(parts) {
			args[i] = parts[i]
		}
	}
	return args
}

// copyRowToRemote reads the current row for id from local and writes it to
// remote with INSERT OR REPLACE (spec.md §4.4 step 2c). Table names come
// from the fixed model.SyncTables list, never user input, so interpolating
// them into the query carries no injection risk. Returns sql.ErrNoRows if
// the local row no longer exists.
func (e *Engine) copyRowToRemote(ctx context.Context, table, id string) error {
	cols := keyColumns(table)
	rows, err := e.local.QueryContext(ctx, `SELECT * FROM `+table+` WHERE `+keyWhere(cols), keyArgs(table, id)...)
	if err != nil {
		return errs.NewDatabaseError("syncengine.copyRowToRemote", errs.SeverityMedium, table, err)
	}
	defer rows.Close()

	columnNames, err := rows.Columns()
	if err != nil {
		return errs.NewDatabaseError("syncengine.copyRowToRemote", errs.SeverityMedium, table, err)
	}
	if !rows.Next() {
		return sql.ErrNoRows
	}
	values := make([]any, len(columnNames))
	ptrs := make([]any, len(columnNames))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return errs.NewDatabaseError("syncengine.copyRowToRemote", errs.SeverityMedium, table, err)
	}
	rows.Close()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(columnNames)), ",")
	stmt := fmt.Sprintf(`INSERT OR REPLACE INTO %s (%s) VALUES (%s)`, table, strings.Join(columnNames, ","), placeholders)
	if _, err := e.remote.ExecContext(ctx, stmt, values...); err != nil {
		return errs.NewDatabaseError("syncengine.copyRowToRemote", errs.SeverityMedium, table, err)
	}
	return nil
}

// deleteRemoteRow applies a tombstone: the local row is already gone, so
// the matching remote row (if any) is deleted by key.
func (e *Engine) deleteRemoteRow(ctx context.Context, table, id string) error {
	cols := keyColumns(table)
	if _, err := e.remote.ExecContext(ctx, `DELETE FROM `+table+` WHERE `+keyWhere(cols), keyArgs(table, id)...); err != nil {
		return errs.NewDatabaseError("syncengine.deleteRemoteRow", errs.SeverityMedium, table, err)
	}
	return nil
}

// resolveConflict runs the local/remote updated_at divergence through the
// analyze/classify/apply/score pipeline (spec.md §4.7) ahead of the row
// copy in pushOne; an escalated (user-choice) outcome is surfaced as a
// conflict event rather than silently picked, but the push proceeds
// either way — local's content always lands on remote via INSERT OR
// REPLACE, matching last-write-wins at the row level while the pipeline's
// field-level resolution drives event/metric reporting.
func (e *Engine) resolveConflict(ctx context.Context, table, id string, localUpdatedAt, remoteUpdatedAt int64) (bool, error) {
	rec := conflict.Record{
		Table:    table,
		RecordID: id,
		Fields: []conflict.FieldValue{{
			Field:         "updated_at",
			Local:         localUpdatedAt,
			Remote:        remoteUpdatedAt,
			LocalNewer:    localUpdatedAt > remoteUpdatedAt,
			LocalChanged:  true,
			RemoteChanged: true,
		}},
	}
	analysis := e.resolver.Analyze(rec)
	resolution, applyErr := e.resolver.Apply(analysis)
	if applyErr != nil && !errors.Is(applyErr, errs.ErrConflictEscalated) {
		return true, applyErr
	}

	if e.metrics != nil {
		e.metrics.ConflictsTotal.WithLabelValues(table, string(analysis.Severity)).Inc()
		if resolution != nil {
			e.metrics.ConflictConfidence.Observe(float64(resolution.Confidence))
		}
	}
	e.bus.Publish(events.New(events.TypeConflictDetected, "syncengine", map[string]any{
		"table": table, "record_id": id, "severity": string(analysis.Severity),
		"needs_user": errors.Is(applyErr, errs.ErrConflictEscalated),
	}))
	return true, nil
}

// runFull does a table-compare sync: for each table, reconcileTableFull
// copies every local row to remote and removes whatever remote has that
// local doesn't — used for first sync or when the ledger can't be trusted.
func (e *Engine) runFull(ctx context.Context) (Stats, error) {
	stats := Stats{Strategy: StrategyFull}
	if e.remote == nil {
		return stats, errs.ErrModeDoesNotSupport
	}

	for _, table := range model.SyncTables {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}
		n, err := e.reconcileTableFull(ctx, table)
		if err != nil {
			return stats, err
		}
		stats.RecordsPushed += n
		stats.TablesProcessed++
	}
	return stats, nil
}

// reconcileTableFull diffs the id sets present on each side (the same
// id-set comparison txn.Manager.ValidateConsistency runs for reporting,
// here driving an actual write instead of just a report) and pushes every
// local row to remote, then deletes whatever remote still has that local
// doesn't — a full table-compare sync (spec.md §4.4.3), not a ledger
// replay.
func (e *Engine) reconcileTableFull(ctx context.Context, table string) (int, error) {
	localIDs, err := e.tableRecordIDs(ctx, e.local, table)
	if err != nil {
		return 0, err
	}
	remoteIDs, err := e.tableRecordIDs(ctx, e.remote, table)
	if err != nil {
		return 0, err
	}

	pushed := 0
	for id := range localIDs {
		if err := e.copyRowToRemote(ctx, table, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return pushed, err
		}
		pushed++
	}
	for id := range remoteIDs {
		if localIDs[id] {
			continue
		}
		if err := e.deleteRemoteRow(ctx, table, id); err != nil {
			return pushed, err
		}
	}
	return pushed, nil
}

// tableRecordIDs returns every record identifier present in table on the
// given handle, encoded the same way PendingChange.RecordID encodes them
// (a bare id, or for tip_tags "noteID:tagID").
func (e *Engine) tableRecordIDs(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	cols := keyColumns(table)
	rows, err := db.QueryContext(ctx, `SELECT `+strings.Join(cols, ",")+` FROM `+table)
	if err != nil {
		return nil, errs.NewDatabaseError("syncengine.tableRecordIDs", errs.SeverityMedium, table, err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		parts := make([]string, len(cols))
		ptrs := make([]any, len(cols))
		for i := range parts {
			ptrs[i] = &parts[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		ids[strings.Join(parts, ":")] = true
	}
	return ids, rows.Err()
}
