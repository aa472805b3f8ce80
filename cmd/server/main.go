package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/nicktill/trafficwatch/pkg/config"
	"github.com/nicktill/trafficwatch/pkg/httpx"
	"github.com/nicktill/trafficwatch/pkg/logger"
	"github.com/nicktill/trafficwatch/pkg/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	l := logger.NewZapLogger(cfg.AppName, logger.Options{
		Env:      cfg.Env,
		Level:    cfg.LogLevel,
		Location: cfg.Location(),
	})
	defer func() { _ = l.Stop() }()
	httpx.SetLogger(l)

	l.Info("starting trafficwatch", map[string]any{
		"port":      cfg.Port,
		"backend":   cfg.Storage.Backend,
		"timezone":  cfg.Timezone,
		"scheduler": cfg.Scheduler.Enabled,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := server.InitializeStorage(ctx, cfg.Storage, l)
	if err != nil {
		l.Fatal("failed to initialize storage", map[string]any{"error": err.Error()})
	}
	defer func() {
		if err := store.Close(); err != nil {
			l.Error(err, map[string]any{"reason": "failed to close storage"})
		}
	}()

	app, err := server.NewApp(ctx, cfg, store, l)
	if err != nil {
		l.Fatal("failed to build pipeline", map[string]any{"error": err.Error()})
	}
	defer func() { _ = app.Close() }()

	var wg sync.WaitGroup

	// In-process tick loop, for deployments without an external cron
	if cfg.Scheduler.Enabled {
		wg.Add(1)
		go server.RunScheduler(ctx, app.Gate, cfg.Scheduler.Interval, l, &wg)
	}

	wg.Add(1)
	go server.RunRetention(ctx, app, cfg.RetentionDays, config.RetentionInterval, l, &wg)

	// Reclaims badger value log space; a no-op for other backends
	wg.Add(1)
	go server.RunBadgerGC(ctx, store, l, &wg)

	router := mux.NewRouter()
	server.SetupRoutes(router, app)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
	}

	go func() {
		l.Info("server listening", map[string]any{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal("server failed to start", map[string]any{"error": err.Error()})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	l.Info("shutdown signal received")

	// Cancel first so background loops exit before wg.Wait
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Warning("server shutdown warning", map[string]any{"error": err.Error()})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.Info("background tasks stopped cleanly")
	case <-time.After(5 * time.Second):
		l.Warning("some background tasks did not stop in time, forcing exit")
	}

	l.Info("trafficwatch exited")
}
