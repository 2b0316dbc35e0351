package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/yourorg/dspace-bridge/http"
	httpv1 "github.com/yourorg/dspace-bridge/http/v1"
	"github.com/yourorg/dspace-bridge/internal/app"
	"github.com/yourorg/dspace-bridge/internal/bridge"
	"github.com/yourorg/dspace-bridge/internal/config"
	"github.com/yourorg/dspace-bridge/internal/refresh"
)

func main() {
	if err := run(); err != nil {
		slog.Error("dspace-bridge exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("BRIDGE_CONFIG"))
	if err != nil {
		return err
	}
	logger := config.SetupLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	tracker := &bridge.Tracker{Logger: logger}
	if a.Redis != nil {
		tracker.KV = a.Redis
	}
	go tracker.Follow(ctx, a.Pub)

	queue := refresh.New(ctx, cfg.Job.QueueSize, 1, cfg.Job.LockTTL, func(ctx context.Context, j refresh.Job) {
		if _, err := a.Job().RunFor(ctx, j.Day); err != nil {
			logger.Error("requested run failed", "day", j.Key(), "error", err)
		}
	})

	if cfg.Job.Interval > 0 {
		go func() {
			if err := a.Job().Run(ctx); err != nil {
				logger.Error("scheduled job stopped", "error", err)
			}
		}()
	} else {
		logger.Info("scheduled harvest disabled; runs only on request")
	}

	runs := httpapi.RunsDeps{Queue: queue, Latest: tracker}
	if a.Store != nil {
		runs.Runs = a.Store
	}
	docs := httpv1.DocumentDeps{
		Fetch:       a.Document,
		CacheTTL:    cfg.Server.CacheTTL,
		NegativeTTL: cfg.Server.NegativeTTL,
		Logger:      logger,
	}
	if a.Redis != nil {
		docs.Redis = a.Redis
	} else {
		docs.Local = httpv1.NewLocalCache(cfg.Server.CacheSize, cfg.Server.CacheTTL)
	}
	checks := map[string]Check{}
	if a.Store != nil {
		checks["postgres"] = a.Store.Ping
	}
	if a.Redis != nil {
		checks["redis"] = a.Redis.Ping
	}
	router := BuildRouter(RouterDeps{
		Logger:            logger,
		Checks:            checks,
		RequestsPerMinute: cfg.Server.RequestsPerMinute,
		Runs:              runs,
		Items:             httpapi.ItemsDeps{Preview: a.Preview},
		Transform:         httpapi.TransformDeps{Transform: a.Transform},
		Document:          docs,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("dspace-bridge listening", "addr", srv.Addr, "version", config.Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	queue.Wait()
	return nil
}
