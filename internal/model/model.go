// Package model defines the domain entities persisted by the sync core:
// notes, categories, tags, the sync ledger, and the singleton sync config.
package model

import "time"

// NoteType distinguishes markdown prose from code snippets.
type NoteType string

const (
	NoteTypeMarkdown NoteType = "markdown"
	NoteTypeCode     NoteType = "code"
)

// Note is a single piece of content, optionally encrypted.
type Note struct {
	ID               string   `json:"id" db:"id" validate:"required,uuid4"`
	Title            string   `json:"title" db:"title" validate:"required"`
	Content          string   `json:"content" db:"content"`
	Type             NoteType `json:"type" db:"type" validate:"required,oneof=markdown code"`
	Language         *string  `json:"language,omitempty" db:"language"`
	CategoryID       *string  `json:"category_id,omitempty" db:"category_id" validate:"omitempty,uuid4"`
	CreatedAt        int64    `json:"created_at" db:"created_at"`
	UpdatedAt        int64    `json:"updated_at" db:"updated_at"`
	Version          int64    `json:"version" db:"version"`
	LastSyncedAt     *int64   `json:"last_synced_at,omitempty" db:"last_synced_at"`
	SyncHash         *string  `json:"sync_hash,omitempty" db:"sync_hash"`
	IsEncrypted      bool     `json:"is_encrypted" db:"is_encrypted"`
	EncryptionKeyID  *string  `json:"encryption_key_id,omitempty" db:"encryption_key_id"`
	EncryptedContent *string  `json:"encrypted_content,omitempty" db:"encrypted_content"`
}

// ContentInvariantOK reports whether exactly one of content/encrypted_content holds,
// per spec.md §3.2: "Note content is either in content OR in encrypted_content — never both".
func (n *Note) ContentInvariantOK() bool {
	hasContent := n.Content != ""
	hasEncrypted := n.EncryptedContent != nil && *n.EncryptedContent != ""
	return hasContent != hasEncrypted
}

// Category is a node in the acyclic category forest.
type Category struct {
	ID              string  `json:"id" db:"id" validate:"required,uuid4"`
	Name            string  `json:"name" db:"name" validate:"required"`
	ParentID        *string `json:"parent_id,omitempty" db:"parent_id" validate:"omitempty,uuid4"`
	CreatedAt       int64   `json:"created_at" db:"created_at"`
	UpdatedAt       int64   `json:"updated_at" db:"updated_at"`
	Version         int64   `json:"version" db:"version"`
	LastSyncedAt    *int64  `json:"last_synced_at,omitempty" db:"last_synced_at"`
	SyncHash        *string `json:"sync_hash,omitempty" db:"sync_hash"`
	IsEncrypted     bool    `json:"is_encrypted" db:"is_encrypted"`
	EncryptionKeyID *string `json:"encryption_key_id,omitempty" db:"encryption_key_id"`
}

// UncategorizedID is the well-known id seeded by internal/schema.InitDefaultData.
const UncategorizedID = "00000000-0000-0000-0000-000000000001"

// Tag is a unique, user-visible label.
type Tag struct {
	ID        string `json:"id" db:"id" validate:"required,uuid4"`
	Name      string `json:"name" db:"name" validate:"required"`
	CreatedAt int64  `json:"created_at" db:"created_at"`
	UpdatedAt int64  `json:"updated_at" db:"updated_at"`
}

// NoteTag is an edge in the many-to-many note/tag relation.
type NoteTag struct {
	NoteID string `json:"note_id" db:"note_id" validate:"required,uuid4"`
	TagID  string `json:"tag_id" db:"tag_id" validate:"required,uuid4"`
}

// ClipboardEntry is a captured clipboard snapshot, subject to retention GC.
type ClipboardEntry struct {
	ID          string  `json:"id" db:"id" validate:"required,uuid4"`
	Content     string  `json:"content" db:"content"`
	SourceApp   *string `json:"source_app,omitempty" db:"source_app"`
	CapturedAt  int64   `json:"captured_at" db:"captured_at"`
}

// AppSetting is a single key/value row in app_settings.
type AppSetting struct {
	Key   string `json:"key" db:"key" validate:"required"`
	Value string `json:"value" db:"value"`
}

// SyncMode selects how aggressively the engine keeps the replica current.
type SyncMode string

const (
	SyncModeOffline SyncMode = "offline"
	SyncModeManual  SyncMode = "manual"
	SyncModeAuto    SyncMode = "auto"
)

// SyncConfigID is the fixed primary key of the singleton sync_config row.
const SyncConfigID = "default"

// SyncConfig is the singleton row describing the active sync policy.
// Per SPEC_FULL.md, `database_config.json` (see internal/config) is authoritative
// for backing-mode selection; this row is the UI-facing convenience snapshot.
type SyncConfig struct {
	ID               string   `json:"id" db:"id"`
	RemoteURL        *string  `json:"remote_url,omitempty" db:"remote_url" validate:"omitempty,url"`
	AuthToken        *string  `json:"auth_token,omitempty" db:"auth_token"`
	Mode             SyncMode `json:"mode" db:"mode" validate:"required,oneof=offline manual auto"`
	IntervalSeconds  int64    `json:"interval_seconds" db:"interval_seconds"`
	LastSyncAt       *int64   `json:"last_sync_at,omitempty" db:"last_sync_at"`
	IsOnline         bool     `json:"is_online" db:"is_online"`
	AutoSyncEnabled  bool     `json:"auto_sync_enabled" db:"auto_sync_enabled"`
	CreatedAt        int64    `json:"created_at" db:"created_at"`
	UpdatedAt        int64    `json:"updated_at" db:"updated_at"`
}

// Operation is the CRUD verb a ledger row describes.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// LedgerStatus is the sync state of a ledger row.
type LedgerStatus string

const (
	LedgerPending  LedgerStatus = "pending"
	LedgerSynced   LedgerStatus = "synced"
	LedgerFailed   LedgerStatus = "failed"
	LedgerConflict LedgerStatus = "conflict"
)

// SyncStatusRecord is a row of the sync_status ledger: the authoritative
// record of what still needs to reach the remote.
type SyncStatusRecord struct {
	ID        string       `json:"id" db:"id" validate:"required,uuid4"`
	TableName string       `json:"table_name" db:"table_name" validate:"required"`
	RecordID  string       `json:"record_id" db:"record_id" validate:"required"`
	Operation Operation    `json:"operation" db:"operation" validate:"required,oneof=insert update delete"`
	Status    LedgerStatus `json:"status" db:"status" validate:"required,oneof=pending synced failed conflict"`
	CreatedAt int64        `json:"created_at" db:"created_at"`
	UpdatedAt int64        `json:"updated_at" db:"updated_at"`
}

// DataVersion is the optional auxiliary hash-based change-detection row.
type DataVersion struct {
	RecordID    string `json:"record_id" db:"record_id" validate:"required"`
	TableName   string `json:"table_name" db:"table_name" validate:"required"`
	Version     int64  `json:"version" db:"version"`
	ContentHash string `json:"content_hash" db:"content_hash"`
	UpdatedAt   int64  `json:"updated_at" db:"updated_at"`
}

// NowMillis returns the current time as milliseconds since epoch, the
// timestamp unit used throughout the data model (spec.md §3.1).
func NowMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// SyncTables is the fixed table order the incremental sync engine walks,
// per spec.md §4.4 ("For each table in fixed order").
var SyncTables = []string{"categories", "tags", "tips", "tip_tags"}

// CriticalTables is the set that must exist on every backing store,
// per spec.md §4.3.
var CriticalTables = []string{
	"categories", "tags", "tips", "tip_tags", "tip_images",
	"ai_roles", "ai_conversations", "ai_messages",
	"app_settings", "sync_config", "sync_status", "data_versions",
	"clipboard_entries",
}
