package server

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/nicktill/trafficwatch/pkg/aggregation"
	"github.com/nicktill/trafficwatch/pkg/audit"
	"github.com/nicktill/trafficwatch/pkg/config"
	"github.com/nicktill/trafficwatch/pkg/export"
	"github.com/nicktill/trafficwatch/pkg/ingest"
	"github.com/nicktill/trafficwatch/pkg/logger"
	"github.com/nicktill/trafficwatch/pkg/notify"
	"github.com/nicktill/trafficwatch/pkg/scheduler"
	"github.com/nicktill/trafficwatch/pkg/server/monitor"
	"github.com/nicktill/trafficwatch/pkg/storage"
	"github.com/nicktill/trafficwatch/pkg/storage/badger"
	"github.com/nicktill/trafficwatch/pkg/storage/memory"
	"github.com/nicktill/trafficwatch/pkg/storage/postgres"
	"github.com/nicktill/trafficwatch/pkg/storage/sqlite"
	"github.com/nicktill/trafficwatch/pkg/upstream"
)

// InitializeStorage opens the configured Store backend.
func InitializeStorage(ctx context.Context, cfg config.StorageConfig, l *logger.Logger) (storage.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		l.Warning("using in-memory storage, data is lost on restart")
		return memory.New(), nil

	case "badger":
		if err := os.MkdirAll(cfg.BadgerPath, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := badger.New(badger.Config{
			Path:        cfg.BadgerPath,
			MaxMemoryMB: cfg.MaxMemoryMB,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open badger at %s: %w", cfg.BadgerPath, err)
		}
		l.Info("badger storage initialized", map[string]any{"path": cfg.BadgerPath, "max_memory_mb": cfg.MaxMemoryMB})
		return store, nil

	case "sqlite":
		store, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite at %s: %w", cfg.SQLitePath, err)
		}
		l.Info("sqlite storage initialized", map[string]any{"path": cfg.SQLitePath})
		return store, nil

	case "postgres":
		connectCtx, cancel := context.WithTimeout(ctx, config.StorageOpTimeout)
		defer cancel()
		store, err := postgres.New(connectCtx, postgres.Config{
			DSN:      cfg.PostgresDSN,
			MaxConns: cfg.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		l.Info("postgres storage initialized", map[string]any{"max_conns": cfg.MaxConns})
		return store, nil
	}
	return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, cfg.Backend)
}

// DataPath returns the on-disk location of a file-backed backend, or "".
func DataPath(cfg config.StorageConfig) string {
	switch cfg.Backend {
	case "badger":
		return cfg.BadgerPath
	case "sqlite":
		if cfg.SQLitePath == sqlite.MemoryPath {
			return ""
		}
		return cfg.SQLitePath
	}
	return ""
}

// App holds the jobs and monitors that the HTTP surface and background tasks share.
type App struct {
	Store      storage.Store
	Ingester   *ingest.Ingester
	Aggregator *aggregation.Aggregator
	Gate       *scheduler.Gate
	Jobs       *monitor.JobMonitor
	Disk       *monitor.DiskMonitor // nil for backends without a data path
	Export     *export.Handler
	Notifier   notify.Notifier
	Logger     *logger.Logger

	Location      *time.Location
	RetentionDays int
	Port          string
	StartedAt     time.Time
}

// NewApp wires the pipeline around an already opened store.
func NewApp(ctx context.Context, cfg *config.Config, store storage.Store, l *logger.Logger) (*App, error) {
	loc := cfg.Location()

	notifier, err := notify.New(ctx, cfg.Notifier, l)
	if err != nil {
		return nil, err
	}

	fetcher := upstream.NewClient(cfg.Upstream, loc, nil, l)
	if cfg.Upstream.BaseURL == "" {
		l.Warning("UPSTREAM_BASE_URL is not set, ingestion jobs will fail")
	}

	recorder := audit.NewRecorder(store, l)
	app := &App{
		Store:         store,
		Ingester:      ingest.New(fetcher, store, recorder, notifier, l),
		Aggregator:    aggregation.New(store, recorder, l, loc),
		Jobs:          monitor.NewJobMonitor(scheduler.BranchLive, scheduler.BranchHourly, scheduler.BranchDaily),
		Export:        export.NewHandler(store, loc, l),
		Notifier:      notifier,
		Logger:        l,
		Location:      loc,
		RetentionDays: cfg.RetentionDays,
		Port:          cfg.Port,
		StartedAt:     time.Now(),
	}

	if path := DataPath(cfg.Storage); path != "" {
		app.Disk = monitor.NewDiskMonitor(path, cfg.Storage.MaxDiskMB*1024*1024)
	}

	app.Gate = scheduler.NewGate(scheduler.Jobs{
		Live: func(ctx context.Context) (any, error) {
			return app.Ingester.IngestLive(ctx)
		},
		Hourly: func(ctx context.Context) (any, error) {
			return app.Ingester.IngestHourly(ctx, "")
		},
		Daily: func(ctx context.Context) (any, error) {
			return app.Aggregator.AggregateDay(ctx, app.Aggregator.Yesterday())
		},
	}, loc, app.Jobs, l)

	l.Info("pipeline ready", map[string]any{
		"timezone":       loc.String(),
		"notifier":       notifier.Name(),
		"retention_days": cfg.RetentionDays,
	})
	return app, nil
}

// SweepRetention deletes rows older than days from every table.
func (a *App) SweepRetention(ctx context.Context, days int) (int64, time.Time, error) {
	before := time.Now().In(a.Location).AddDate(0, 0, -days)

	ctx, cancel := context.WithTimeout(ctx, config.RetentionSweepTimeout)
	defer cancel()

	deleted, err := a.Store.DeleteBefore(ctx, storage.DeleteOptions{Before: before})
	if err != nil {
		return 0, before, fmt.Errorf("retention sweep failed: %w", err)
	}
	a.Logger.Info("retention sweep completed", map[string]any{
		"days":    days,
		"before":  before.Format(time.RFC3339),
		"deleted": deleted,
	})
	return deleted, before, nil
}

// Close releases the notifier. The store is closed by its owner.
func (a *App) Close() error {
	return a.Notifier.Close()
}
