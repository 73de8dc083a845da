// Package changedetector identifies which records need to travel in the
// next sync pass. Detection is ledger-driven (reads from the sync_status
// table written by application code at write time), not diff-driven — the
// engine never computes a full table diff to find pending work
// (spec.md §4.6). Optional content hashing, backed by a bounded LRU cache,
// lets callers additionally skip records whose content has not actually
// changed since the last successful sync.
package changedetector

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mytips/synccore/internal/errs"
	"github.com/mytips/synccore/internal/model"
)

// HashAlgorithm selects the content-hash function.
type HashAlgorithm string

const (
	HashBlake3 HashAlgorithm = "blake3"
	HashSHA256 HashAlgorithm = "sha256"
	HashFast   HashAlgorithm = "fast"
)

// cacheKey identifies one (table, record) pair in the LRU.
type cacheKey struct {
	Table string
	ID    string
}

// Detector reads pending changes from the sync_status ledger and,
// optionally, filters out records whose content hash is unchanged.
type Detector struct {
	db            *sql.DB
	algorithm     HashAlgorithm
	enableHashing bool
	cache         *lru.Cache[cacheKey, string]
}

// New builds a Detector with an LRU cache of the given size. A size of 0
// disables only the cache: with enableHashing set, HasChanged still hashes
// and compares against data_versions on every call.
func New(db *sql.DB, algorithm HashAlgorithm, enableHashing bool, cacheSize int) (*Detector, error) {
	d := &Detector{db: db, algorithm: algorithm, enableHashing: enableHashing}
	if enableHashing && cacheSize > 0 {
		cache, err := lru.New[cacheKey, string](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("changedetector: building LRU: %w", err)
		}
		d.cache = cache
	}
	return d, nil
}

// PendingChange is one row the sync engine still needs to push.
type PendingChange struct {
	LedgerID  string
	Table     string
	RecordID  string
	Operation model.Operation
}

// PendingChanges returns ledger rows with status=pending for the given
// table, oldest first, capped at limit — the batching unit the sync
// engine partitions into batches of at most max_batch_size.
func (d *Detector) PendingChanges(ctx context.Context, table string, limit int) ([]PendingChange, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, table_name, record_id, operation
		FROM sync_status
		WHERE table_name = ? AND status = ?
		ORDER BY created_at ASC
		LIMIT ?`, table, model.LedgerPending, limit)
	if err != nil {
		return nil, errs.NewDatabaseError("changedetector.PendingChanges", errs.SeverityMedium, table, err)
	}
	defer rows.Close()

	var out []PendingChange
	for rows.Next() {
		var pc PendingChange
		if err := rows.Scan(&pc.LedgerID, &pc.Table, &pc.RecordID, &pc.Operation); err != nil {
			return nil, errs.NewDatabaseError("changedetector.PendingChanges", errs.SeverityMedium, table, err)
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}

// HasChanged reports whether content's hash differs from the cached or
// persisted value for (table, recordID). When hashing is disabled it
// always returns true (every ledger row is sent).
func (d *Detector) HasChanged(ctx context.Context, table, recordID, content string) (bool, error) {
	if !d.enableHashing {
		return true, nil
	}
	newHash := d.hash(content)

	if d.cache != nil {
		if cached, ok := d.cache.Get(cacheKey{table, recordID}); ok {
			if cached == newHash {
				return false, nil
			}
			d.cache.Add(cacheKey{table, recordID}, newHash)
			return true, nil
		}
	}

	var existing string
	row := d.db.QueryRowContext(ctx,
		`SELECT content_hash FROM data_versions WHERE table_name = ? AND record_id = ?`, table, recordID)
	err := row.Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		d.remember(table, recordID, newHash)
		return true, nil
	case err != nil:
		return true, errs.NewDatabaseError("changedetector.HasChanged", errs.SeverityLow, table, err)
	}

	d.remember(table, recordID, newHash)
	return existing != newHash, nil
}

func (d *Detector) remember(table, recordID, hash string) {
	if d.cache != nil {
		d.cache.Add(cacheKey{table, recordID}, hash)
	}
}

// hash computes the content digest. sha256 and "fast" both use the
// standard library's crypto/sha256 here; a true BLAKE3 implementation
// would pull in a dedicated hashing library (noted as an open item in
// DESIGN.md) — fast just truncates the digest for callers that only need
// a change indicator, not a cryptographic guarantee.
func (d *Detector) hash(content string) string {
	sum := sha256.Sum256([]byte(content))
	full := hex.EncodeToString(sum[:])
	if d.algorithm == HashFast {
		return full[:16]
	}
	return full
}

// RecordVersion upserts the data_versions row after a successful sync,
// so the next HasChanged call compares against the synced state.
func (d *Detector) RecordVersion(ctx context.Context, table, recordID, contentHash string, version int64, updatedAt int64) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO data_versions (table_name, record_id, version, content_hash, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(table_name, record_id) DO UPDATE SET
			version = excluded.version,
			content_hash = excluded.content_hash,
			updated_at = excluded.updated_at`,
		table, recordID, version, contentHash, updatedAt)
	if err != nil {
		return errs.NewDatabaseError("changedetector.RecordVersion", errs.SeverityLow, table, err)
	}
	return nil
}
