// Package app opens the configured substrate and builds every persistent
// component on top of it.
package app

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/stash/internal/cache"
	"github.com/hpungsan/stash/internal/config"
	"github.com/hpungsan/stash/internal/db"
	"github.com/hpungsan/stash/internal/errors"
	"github.com/hpungsan/stash/internal/kv"
	"github.com/hpungsan/stash/internal/logging"
	"github.com/hpungsan/stash/internal/popularity"
	"github.com/hpungsan/stash/internal/syslog"
	"github.com/hpungsan/stash/internal/vault"
)

// JournalRetention is how long system log entries survive maintenance.
const JournalRetention = 14 * 24 * time.Hour

// App holds the components of one opened profile.
type App struct {
	Config  *config.Config
	BaseDir string
	Logger  *zap.Logger

	Vault         *vault.Vault
	Tracker       *popularity.Tracker
	Journal       *syslog.Journal
	APICache      *cache.ExpiringCache[json.RawMessage]
	VelocityCache *cache.ExpiringCache[json.RawMessage]

	store  kv.Substrate
	closer io.Closer
	now    func() time.Time
}

// Option customizes Open.
type Option func(*App)

// WithClock replaces time.Now for every component.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// WithStore skips backend selection and uses store directly.
func WithStore(store kv.Substrate) Option {
	return func(a *App) { a.store = store }
}

// MaintenanceResult reports what a maintenance pass removed.
type MaintenanceResult struct {
	Pruned         popularity.PruneResult `json:"pruned"`
	Purged         vault.PurgeResult      `json:"purged"`
	JournalTrimmed int                    `json:"journal_trimmed"`
}

// Open validates cfg, opens the backend it selects under baseDir and wires
// the components.
func Open(cfg *config.Config, baseDir string, logger *zap.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}

	a := &App{
		Config:  cfg,
		BaseDir: baseDir,
		Logger:  logging.OrNop(logger),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.store == nil {
		if err := a.openStore(); err != nil {
			return nil, err
		}
	}

	a.Vault = vault.New(a.store, vault.Options{
		MaxCapacity:            cfg.MaxCapacity,
		WarningThreshold:       cfg.WarningThreshold,
		TrashRetention:         cfg.TrashRetention(),
		DataMinimizationWindow: cfg.DataMinimizationWindow(),
		Now:                    a.now,
		Logger:                 a.Logger,
	})
	a.Tracker = popularity.New(a.store, popularity.Options{
		MaxQueries:     cfg.MaxQueries,
		PruneThreshold: cfg.PruneThreshold(),
		Now:            a.now,
		Logger:         a.Logger,
	})
	a.Journal = syslog.New(a.store, a.now, a.Logger)
	a.APICache = cache.New[json.RawMessage](a.store, cache.NamespaceAPI,
		cache.WithClock(a.now), cache.WithLogger(a.Logger))
	a.VelocityCache = cache.New[json.RawMessage](a.store, cache.NamespaceVelocity,
		cache.WithClock(a.now), cache.WithLogger(a.Logger))

	return a, nil
}

func (a *App) openStore() error {
	switch a.Config.Backend {
	case config.BackendBolt:
		b, err := kv.OpenBolt(filepath.Join(a.BaseDir, "stash.bolt"), kv.BoltOptions{
			MaxBytes: a.Config.StorageQuotaBytes,
		})
		if err != nil {
			return errors.NewInternal(fmt.Errorf("open bolt store: %w", err))
		}
		a.store, a.closer = b, b
	case config.BackendMemory:
		a.store = kv.NewMemory(a.Config.StorageQuotaBytes)
	default:
		database, err := db.Init(a.BaseDir)
		if err != nil {
			return errors.NewInternal(fmt.Errorf("open database: %w", err))
		}
		db.ConfigurePool(database, a.Config)
		a.store, a.closer = db.NewStore(database, a.Config.StorageQuotaBytes), database
	}
	a.Logger.Debug("store opened", zap.String("backend", a.Config.Backend), zap.String("base_dir", a.BaseDir))
	return nil
}

// Now returns the current time on the app clock.
func (a *App) Now() time.Time {
	return a.now()
}

// Store returns the underlying substrate.
func (a *App) Store() kv.Substrate {
	return a.store
}

// Cache returns the JSON cache for a caller-visible namespace.
func (a *App) Cache(namespace string) (*cache.ExpiringCache[json.RawMessage], error) {
	switch namespace {
	case cache.NamespaceAPI:
		return a.APICache, nil
	case cache.NamespaceVelocity:
		return a.VelocityCache, nil
	default:
		return nil, errors.NewInvalidRequest("namespace must be one of: api, velocity")
	}
}

// Maintain prunes the query tracker, purges expired artifacts and trims the
// journal. It is cheap when there is nothing to do and safe to call before
// every read. A non-empty pass is recorded in the journal.
func (a *App) Maintain(now time.Time) (*MaintenanceResult, error) {
	res := &MaintenanceResult{}

	pruned, err := a.Tracker.Prune()
	if err != nil {
		a.journalFailure("query prune failed", err)
		return nil, err
	}
	res.Pruned = pruned

	purged, err := a.Vault.PurgeExpired(now)
	if err != nil {
		a.journalFailure("vault purge failed", err)
		return nil, err
	}
	res.Purged = purged

	trimmed, err := a.Journal.Trim(JournalRetention)
	if err != nil {
		return nil, err
	}
	res.JournalTrimmed = trimmed

	if pruned.Aged+pruned.Overflow+purged.Total() > 0 {
		fields := map[string]any{
			"queries_aged":        pruned.Aged,
			"queries_overflow":    pruned.Overflow,
			"artifacts_trash":     purged.TrashExpired,
			"artifacts_minimized": purged.Minimized,
		}
		if _, err := a.Journal.Append(syslog.LevelInfo, "maintenance", fields); err != nil {
			a.Logger.Warn("journal append failed", zap.Error(err))
		}
	}
	return res, nil
}

func (a *App) journalFailure(msg string, cause error) {
	if _, err := a.Journal.Append(syslog.LevelError, msg, map[string]any{"error": cause.Error()}); err != nil {
		a.Logger.Warn("journal append failed", zap.Error(err))
	}
}

// Close releases the backend.
func (a *App) Close() error {
	if a.closer == nil {
		return nil
	}
	c := a.closer
	a.closer = nil
	return c.Close()
}
