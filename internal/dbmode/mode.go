// Package dbmode defines the backing-mode descriptor (Local, Remote,
// EmbeddedReplica, InMemory) and its PRAGMA/config rules, split out from
// internal/dbmanager so that internal/pool can depend on the mode shape
// without importing the manager that depends on pool. Grounded on the
// teacher's internal/storage/factory.go profile switch and on
// original_source/src-tauri/src/db/manager.rs's DatabaseMode.
package dbmode

import (
	"fmt"
	"time"
)

// Kind is the tag of a backing mode.
type Kind string

const (
	ModeLocal          Kind = "local"
	ModeRemote         Kind = "remote"
	ModeEmbeddedReplica Kind = "embedded_replica"
	ModeInMemory       Kind = "in_memory"
)

// Mode is a tagged variant describing where and how the data lives. Only
// the fields relevant to Kind are populated; this mirrors the original
// Rust enum's per-variant payload instead of a virtual-dispatch interface,
// per spec.md §9 ("branch only at the three call sites that care").
type Mode struct {
	Kind Kind `json:"kind" mapstructure:"kind"`

	// Local
	LocalPath string `json:"local_path,omitempty" mapstructure:"local_path"`

	// Remote
	RemoteURL string `json:"remote_url,omitempty" mapstructure:"remote_url"`
	AuthToken string `json:"auth_token,omitempty" mapstructure:"auth_token"`

	// EmbeddedReplica
	EmbeddedLocalPath  string         `json:"embedded_local_path,omitempty" mapstructure:"embedded_local_path"`
	EmbeddedRemoteURL  string         `json:"embedded_remote_url,omitempty" mapstructure:"embedded_remote_url"`
	EmbeddedAuthToken  string         `json:"embedded_auth_token,omitempty" mapstructure:"embedded_auth_token"`
	SyncInterval       *time.Duration `json:"sync_interval,omitempty" mapstructure:"sync_interval"`
	ReadYourWrites     bool           `json:"read_your_writes,omitempty" mapstructure:"read_your_writes"`
}

// IsLocal reports whether m is the Local variant.
func (m Mode) IsLocal() bool { return m.Kind == ModeLocal }

// IsRemote reports whether m is the Remote variant.
func (m Mode) IsRemote() bool { return m.Kind == ModeRemote }

// IsEmbeddedReplica reports whether m is the EmbeddedReplica variant.
func (m Mode) IsEmbeddedReplica() bool { return m.Kind == ModeEmbeddedReplica }

// IsInMemory reports whether m is the InMemory variant.
func (m Mode) IsInMemory() bool { return m.Kind == ModeInMemory }

// SupportsSync reports whether this mode has a remote counterpart to
// reconcile against — the first of the three call sites spec.md §9 calls
// out explicitly.
func (m Mode) SupportsSync() bool {
	return m.Kind == ModeEmbeddedReplica || m.Kind == ModeRemote
}

// Name returns a short, stable, human-readable name for logs and the
// get_database_info operation (spec.md §6.3).
func (m Mode) Name() string {
	switch m.Kind {
	case ModeLocal:
		return "local"
	case ModeRemote:
		return "remote"
	case ModeEmbeddedReplica:
		return "embedded_replica"
	case ModeInMemory:
		return "in_memory"
	default:
		return "unknown"
	}
}

// Validate checks that the fields required by Kind are present.
func (m Mode) Validate() error {
	switch m.Kind {
	case ModeLocal:
		if m.LocalPath == "" {
			return fmt.Errorf("dbmode: local mode requires local_path")
		}
	case ModeRemote:
		if m.RemoteURL == "" {
			return fmt.Errorf("dbmode: remote mode requires remote_url")
		}
	case ModeEmbeddedReplica:
		if m.EmbeddedLocalPath == "" || m.EmbeddedRemoteURL == "" {
			return fmt.Errorf("dbmode: embedded_replica mode requires embedded_local_path and embedded_remote_url")
		}
	case ModeInMemory:
		// no required fields
	default:
		return fmt.Errorf("dbmode: unknown mode kind %q", m.Kind)
	}
	return nil
}

// PragmaWhitelist returns the PRAGMA statements this mode is permitted to
// apply, the second of the three mode-aware call sites (spec.md §4.9).
// EmbeddedReplica omits PRAGMAs that would fight libSQL's own WAL
// management (journal_mode, synchronous are controlled by the replica
// client instead).
func (m Mode) PragmaWhitelist() []string {
	common := []string{"foreign_keys", "cache_size", "temp_store", "mmap_size", "busy_timeout"}
	switch m.Kind {
	case ModeEmbeddedReplica:
		return common
	default:
		return append(common, "journal_mode", "synchronous")
	}
}
