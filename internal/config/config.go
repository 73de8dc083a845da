// Package config loads and validates the sync core's configuration: the
// backing-mode descriptor persisted to database_config.json, the local data
// directory pointer in database_path.txt, and ambient settings (logging,
// pool sizing, sync cadence) layered from defaults, a config file, and
// environment variables via viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/mytips/synccore/internal/dbmode"
	"github.com/mytips/synccore/pkg/logger"
)

// Config is the fully resolved, validated configuration for one process.
type Config struct {
	Logger  logger.Config  `mapstructure:"logger"`
	Pool    PoolConfig     `mapstructure:"pool"`
	Sync    SyncConfig     `mapstructure:"sync"`
	Backing dbmode.Config `mapstructure:"-"`

	// DataDir is the directory holding database_config.json and
	// database_path.txt, mirroring spec.md §6.1.
	DataDir string `mapstructure:"data_dir" validate:"required"`
}

// PoolConfig tunes internal/pool, grounded on spec.md §4.1's defaults.
type PoolConfig struct {
	MaxOpen         int           `mapstructure:"max_open" validate:"gte=1"`
	MinIdle         int           `mapstructure:"min_idle" validate:"gte=0"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
	AcquireTimeout  time.Duration `mapstructure:"acquire_timeout"`
	HealthInterval  time.Duration `mapstructure:"health_interval"`
}

// SyncConfig tunes internal/syncengine defaults (spec.md §4.4, §4.6).
type SyncConfig struct {
	MaxBatchSize   int           `mapstructure:"max_batch_size" validate:"gte=1"`
	DefaultInterval time.Duration `mapstructure:"default_interval"`
	EnableHashing  bool          `mapstructure:"enable_hashing"`
	HashAlgorithm  string        `mapstructure:"hash_algorithm" validate:"omitempty,oneof=blake3 sha256 fast"`
}

func defaults() *Config {
	return &Config{
		DataDir: "./data",
		Logger: logger.Config{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Pool: PoolConfig{
			MaxOpen:        8,
			MinIdle:        2,
			IdleTimeout:    120 * time.Second,
			MaxLifetime:    600 * time.Second,
			AcquireTimeout: 20 * time.Second,
			HealthInterval: 60 * time.Second,
		},
		Sync: SyncConfig{
			MaxBatchSize:    1000,
			DefaultInterval: 5 * time.Minute,
			EnableHashing:   true,
			HashAlgorithm:   "blake3",
		},
	}
}

// Load reads defaults, then configPath (if non-empty and present), then
// SYNCCORE_-prefixed environment variables, validates the result, and
// additionally loads the backing-mode descriptor from dataDir.
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix("SYNCCORE")
	v.AutomaticEnv()
	setDefaultsOnViper(v, cfg)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: reading %s: %w", configPath, err)
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	backing, err := LoadBackingMode(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	cfg.Backing = backing

	return cfg, nil
}

func setDefaultsOnViper(v *viper.Viper, cfg *Config) {
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("logger.level", cfg.Logger.Level)
	v.SetDefault("logger.format", cfg.Logger.Format)
	v.SetDefault("logger.output", cfg.Logger.Output)
	v.SetDefault("pool.max_open", cfg.Pool.MaxOpen)
	v.SetDefault("pool.min_idle", cfg.Pool.MinIdle)
	v.SetDefault("pool.idle_timeout", cfg.Pool.IdleTimeout)
	v.SetDefault("pool.max_lifetime", cfg.Pool.MaxLifetime)
	v.SetDefault("pool.acquire_timeout", cfg.Pool.AcquireTimeout)
	v.SetDefault("pool.health_interval", cfg.Pool.HealthInterval)
	v.SetDefault("sync.max_batch_size", cfg.Sync.MaxBatchSize)
	v.SetDefault("sync.default_interval", cfg.Sync.DefaultInterval)
	v.SetDefault("sync.enable_hashing", cfg.Sync.EnableHashing)
	v.SetDefault("sync.hash_algorithm", cfg.Sync.HashAlgorithm)
}

// databaseConfigFilename and databasePathFilename are the two files spec.md
// §6.1 names explicitly: the backing-mode descriptor and a plain-text
// pointer to the active local database file.
const (
	databaseConfigFilename = "database_config.json"
	databasePathFilename   = "database_path.txt"
)

// LoadBackingMode reads database_config.json from dataDir, falling back to
// a Local mode rooted at database_path.txt (or dataDir/mytips.db) when no
// config file exists yet — the first-run case.
func LoadBackingMode(dataDir string) (dbmode.Config, error) {
	v := viper.New()
	v.SetConfigFile(filepath.Join(dataDir, databaseConfigFilename))
	v.SetConfigType("json")

	var bc dbmode.Config
	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			return bc, fmt.Errorf("config: reading %s: %w", databaseConfigFilename, err)
		}
		return defaultLocalBackingMode(dataDir)
	}

	if err := v.Unmarshal(&bc); err != nil {
		return bc, fmt.Errorf("config: unmarshal backing mode: %w", err)
	}
	if bc.Mode.Kind == "" {
		return defaultLocalBackingMode(dataDir)
	}
	return bc, nil
}

func defaultLocalBackingMode(dataDir string) (dbmode.Config, error) {
	path := filepath.Join(dataDir, "mytips.db")
	if b, err := os.ReadFile(filepath.Join(dataDir, databasePathFilename)); err == nil {
		if p := string(b); p != "" {
			path = p
		}
	}
	cfg := dbmode.DefaultConfig()
	cfg.Mode = dbmode.Mode{Kind: dbmode.ModeLocal, LocalPath: path}
	return cfg, nil
}

// SaveBackingMode persists the backing-mode descriptor to
// dataDir/database_config.json and records the active local path (if any)
// to database_path.txt, per spec.md §6.1.
func SaveBackingMode(dataDir string, bc dbmode.Config) error {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("config: creating data dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("json")
	v.Set("mode", bc.Mode)
	v.Set("connection_timeout", bc.ConnectionTimeout)
	v.Set("query_timeout", bc.QueryTimeout)
	v.Set("max_connections", bc.MaxConnections)
	v.Set("enable_wal", bc.EnableWAL)
	v.Set("enable_foreign_keys", bc.EnableForeignKeys)
	v.Set("pragma_settings", bc.PragmaSettings)

	path := filepath.Join(dataDir, databaseConfigFilename)
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("config: writing %s: %w", databaseConfigFilename, err)
	}

	localPath := bc.Mode.LocalPath
	if localPath == "" {
		localPath = bc.Mode.EmbeddedLocalPath
	}
	if localPath != "" {
		if err := os.WriteFile(filepath.Join(dataDir, databasePathFilename), []byte(localPath), 0o600); err != nil {
			return fmt.Errorf("config: writing %s: %w", databasePathFilename, err)
		}
	}
	return nil
}
