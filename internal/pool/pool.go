// Package pool implements a bounded, health-checked connection pool over
// database/sql, grounded on the teacher's internal/database/postgres/pool.go
// and health.go, reworked against modernc.org/sqlite instead of pgx.
package pool

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mytips/synccore/internal/dbmode"
	"github.com/mytips/synccore/internal/errs"
)

// Settings tunes pool sizing and health-check cadence. Defaults mirror
// spec.md §4.1: max 8, min 2, idle 120s, lifetime 600s, acquire 20s,
// health 60s.
type Settings struct {
	MaxOpen        int
	MinIdle        int
	IdleTimeout    time.Duration
	MaxLifetime    time.Duration
	AcquireTimeout time.Duration
	HealthInterval time.Duration
}

// DefaultSettings returns the spec.md §4.1 defaults.
func DefaultSettings() Settings {
	return Settings{
		MaxOpen:        8,
		MinIdle:        2,
		IdleTimeout:    120 * time.Second,
		MaxLifetime:    600 * time.Second,
		AcquireTimeout: 20 * time.Second,
		HealthInterval: 60 * time.Second,
	}
}

// Stats mirrors database/sql.DBStats plus the pool's own health gauge.
type Stats struct {
	OpenConnections int
	InUse           int
	Idle            int
	WaitCount       int64
	WaitDuration    time.Duration
	Healthy         bool
	LastHealthCheck time.Time
}

// Pool wraps *sql.DB with mode-aware PRAGMA application and a background
// health-check loop, following the teacher's PostgresPool lifecycle:
// Connect spawns the periodic checker, Close tears it down.
type Pool struct {
	db       *sql.DB
	dsn      string
	mode     dbmode.Mode
	settings Settings
	logger   *slog.Logger

	healthy    atomic.Bool
	lastHealth atomic.Value // time.Time

	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
}

// Open builds the *sql.DB, applies the resolved PRAGMA whitelist, and
// starts the background health checker.
func Open(ctx context.Context, dsn string, mode dbmode.Mode, cfg dbmode.Config, settings Settings, logger *slog.Logger) (*Pool, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errs.NewDatabaseError("pool.Open", errs.SeverityHigh, dsn, err)
	}

	db.SetMaxOpenConns(settings.MaxOpen)
	db.SetMaxIdleConns(settings.MinIdle)
	db.SetConnMaxIdleTime(settings.IdleTimeout)
	db.SetConnMaxLifetime(settings.MaxLifetime)

	p := &Pool{
		db:       db,
		dsn:      dsn,
		mode:     mode,
		settings: settings,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
	p.lastHealth.Store(time.Time{})

	if err := p.applyPragmas(ctx, cfg); err != nil {
		db.Close()
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, settings.AcquireTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, &errs.ConnectionError{Mode: mode.Name(), Cause: err}
	}
	p.healthy.Store(true)
	p.lastHealth.Store(time.Now())

	go p.healthLoop()

	return p, nil
}

func (p *Pool) applyPragmas(ctx context.Context, cfg dbmode.Config) error {
	for _, pragma := range cfg.ResolvedPragmas() {
		stmt := fmt.Sprintf("PRAGMA %s = %s", pragma.Name, pragma.Value)
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return errs.NewDatabaseError("pool.applyPragmas", errs.SeverityMedium, pragma.Name, err)
		}
	}
	return nil
}

// DB returns the underlying *sql.DB for callers that need raw access
// (internal/schema migrations, internal/syncengine batch writers).
func (p *Pool) DB() *sql.DB { return p.db }

// Acquire blocks up to settings.AcquireTimeout for a usable connection,
// returning errs.ErrPoolExhausted on timeout — callers that just need the
// shared *sql.DB should prefer DB() since database/sql pools internally;
// Acquire exists for callers that want an explicit, bounded wait with a
// typed timeout error (e.g. the sync engine's per-batch checkout).
func (p *Pool) Acquire(ctx context.Context) (*sql.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, p.settings.AcquireTimeout)
	defer cancel()

	conn, err := p.db.Conn(acquireCtx)
	if err != nil {
		if acquireCtx.Err() != nil {
			return nil, &errs.TimeoutError{Op: "pool.Acquire", Timeout: p.settings.AcquireTimeout.String(), Cause: errs.ErrPoolExhausted}
		}
		return nil, errs.NewDatabaseError("pool.Acquire", errs.SeverityMedium, "", err)
	}
	return conn, nil
}

// Stats reports current pool utilization and health.
func (p *Pool) Stats() Stats {
	s := p.db.Stats()
	last, _ := p.lastHealth.Load().(time.Time)
	return Stats{
		OpenConnections: s.OpenConnections,
		InUse:           s.InUse,
		Idle:            s.Idle,
		WaitCount:       s.WaitCount,
		WaitDuration:    s.WaitDuration,
		Healthy:         p.healthy.Load(),
		LastHealthCheck: last,
	}
}

// Healthy reports the result of the most recent background health check.
func (p *Pool) Healthy() bool { return p.healthy.Load() }

func (p *Pool) healthLoop() {
	ticker := time.NewTicker(p.settings.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.checkHealth()
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) checkHealth() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := p.db.PingContext(ctx)
	p.lastHealth.Store(time.Now())
	wasHealthy := p.healthy.Swap(err == nil)

	if err != nil {
		p.logger.Warn("pool health check failed", "mode", p.mode.Name(), "error", err)
	} else if !wasHealthy {
		p.logger.Info("pool health recovered", "mode", p.mode.Name())
	}
}

// Close stops the health loop and closes the underlying *sql.DB.
func (p *Pool) Close() error {
	p.stopOnce.Do(func() { close(p.stopCh) })
	return p.db.Close()
}
