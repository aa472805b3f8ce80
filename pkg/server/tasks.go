package server

import (
	"context"
	"sync"
	"time"

	"github.com/nicktill/trafficwatch/pkg/config"
	"github.com/nicktill/trafficwatch/pkg/logger"
	"github.com/nicktill/trafficwatch/pkg/scheduler"
	"github.com/nicktill/trafficwatch/pkg/storage"
	"github.com/nicktill/trafficwatch/pkg/storage/badger"
)

// RunScheduler evaluates the gate every interval until ctx is done. It does
// the same work as an external cron calling GET /v1/jobs/tick.
func RunScheduler(ctx context.Context, gate *scheduler.Gate, interval time.Duration, l *logger.Logger, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.Info("scheduler started", map[string]any{"interval": interval.String()})

	for {
		select {
		case <-ticker.C:
			tickCtx, cancel := context.WithTimeout(ctx, config.TickTimeout)
			// Failures are already logged and recorded by the gate.
			_, _ = gate.Run(tickCtx)
			cancel()
		case <-ctx.Done():
			l.Info("stopping scheduler")
			return
		}
	}
}

// sweeper is the part of App that RunRetention needs.
type sweeper interface {
	SweepRetention(ctx context.Context, days int) (int64, time.Time, error)
}

// RunRetention deletes rows older than days once at startup and then every
// interval, retrying a failed sweep with exponential backoff.
func RunRetention(ctx context.Context, s sweeper, days int, interval time.Duration, l *logger.Logger, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runWithRetry := func() {
		for attempt := 0; attempt <= config.RetentionMaxRetries; attempt++ {
			if attempt > 0 {
				delay := config.RetentionRetryDelay * time.Duration(1<<(attempt-1)) // 30s, 60s, 120s
				l.Info("retrying retention sweep", map[string]any{
					"delay":   delay.String(),
					"attempt": attempt + 1,
				})
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}

			_, _, err := s.SweepRetention(ctx, days)
			if err == nil {
				return
			}
			l.Error(err, map[string]any{"attempt": attempt + 1, "max_attempts": config.RetentionMaxRetries + 1})
		}
		l.Warning("retention sweep failed after all attempts, will retry on next schedule")
	}

	runWithRetry()

	for {
		select {
		case <-ticker.C:
			runWithRetry()
		case <-ctx.Done():
			l.Info("stopping retention scheduler")
			return
		}
	}
}

// RunBadgerGC runs BadgerDB value log GC periodically to reclaim disk space.
// Other backends return immediately.
func RunBadgerGC(ctx context.Context, store storage.Store, l *logger.Logger, wg *sync.WaitGroup) {
	defer wg.Done()

	badgerStore, ok := store.(*badger.Storage)
	if !ok {
		l.Debug("storage is not BadgerDB, skipping GC")
		return
	}

	ticker := time.NewTicker(config.BadgerGCInterval)
	defer ticker.Stop()

	l.Info("BadgerDB GC scheduler started", map[string]any{"interval": config.BadgerGCInterval.String()})

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			// One RunValueLogGC pass per tick to avoid blocking writers
			if err := badgerStore.RunGC(config.BadgerGCDiscardRatio); err != nil {
				l.Error(err, map[string]any{"task": "badger_gc"})
				continue
			}
			l.Debug("BadgerDB GC completed", map[string]any{"elapsed": time.Since(start).Round(time.Millisecond).String()})
		case <-ctx.Done():
			l.Info("stopping BadgerDB GC scheduler")
			return
		}
	}
}
