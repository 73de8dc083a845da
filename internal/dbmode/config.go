package dbmode

// Config is the full backing-mode descriptor persisted to
// database_config.json, extended with the original Rust implementation's
// operator escape hatches (connection/query timeouts, max_connections,
// enable_wal, enable_foreign_keys, pragma_settings) that spec.md's prose
// leaves implicit but original_source/src-tauri/src/db/manager.rs always
// threads through. See SPEC_FULL.md's SUPPLEMENTED FEATURES section.
type Config struct {
	Mode Mode `json:"mode" mapstructure:"mode"`

	ConnectionTimeout uint64 `json:"connection_timeout" mapstructure:"connection_timeout"`
	QueryTimeout      uint64 `json:"query_timeout" mapstructure:"query_timeout"`
	MaxConnections    uint32 `json:"max_connections" mapstructure:"max_connections"`
	EnableWAL         bool   `json:"enable_wal" mapstructure:"enable_wal"`
	EnableForeignKeys bool   `json:"enable_foreign_keys" mapstructure:"enable_foreign_keys"`

	// PragmaSettings layers operator overrides on top of Mode.PragmaWhitelist.
	PragmaSettings []PragmaSetting `json:"pragma_settings" mapstructure:"pragma_settings"`
}

// PragmaSetting is a single (name, value) PRAGMA override.
type PragmaSetting struct {
	Name  string `json:"name" mapstructure:"name"`
	Value string `json:"value" mapstructure:"value"`
}

// DefaultConfig returns the defaults carried from the original
// implementation: synchronous=NORMAL, cache_size=-2000 (2000 KiB), temp_store
// in memory, 256MiB mmap.
func DefaultConfig() Config {
	return Config{
		ConnectionTimeout: 30,
		QueryTimeout:      30,
		MaxConnections:    8,
		EnableWAL:         true,
		EnableForeignKeys: true,
		PragmaSettings: []PragmaSetting{
			{Name: "synchronous", Value: "NORMAL"},
			{Name: "cache_size", Value: "-2000"},
			{Name: "temp_store", Value: "MEMORY"},
			{Name: "mmap_size", Value: "268435456"},
		},
	}
}

// ResolvedPragmas merges Mode.PragmaWhitelist() with PragmaSettings,
// dropping any override whose name is not whitelisted for this mode — the
// third of the three mode-aware call sites named in spec.md §9.
func (c Config) ResolvedPragmas() []PragmaSetting {
	allowed := make(map[string]bool, len(c.Mode.PragmaWhitelist()))
	for _, name := range c.Mode.PragmaWhitelist() {
		allowed[name] = true
	}

	out := make([]PragmaSetting, 0, len(c.PragmaSettings))
	if c.EnableForeignKeys && allowed["foreign_keys"] {
		out = append(out, PragmaSetting{Name: "foreign_keys", Value: "ON"})
	}
	if c.EnableWAL && allowed["journal_mode"] {
		out = append(out, PragmaSetting{Name: "journal_mode", Value: "WAL"})
	}
	for _, p := range c.PragmaSettings {
		if p.Name == "foreign_keys" || p.Name == "journal_mode" {
			continue
		}
		if allowed[p.Name] {
			out = append(out, p)
		}
	}
	return out
}
