// Package app builds the long-lived components shared by the service and the
// harvest command from one loaded configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/yourorg/dspace-bridge/dspace"
	"github.com/yourorg/dspace-bridge/internal/bridge"
	"github.com/yourorg/dspace-bridge/internal/config"
	"github.com/yourorg/dspace-bridge/internal/events"
	"github.com/yourorg/dspace-bridge/internal/redisx"
	"github.com/yourorg/dspace-bridge/internal/search"
	"github.com/yourorg/dspace-bridge/internal/store"
	"github.com/yourorg/dspace-bridge/internal/transform"
)

type App struct {
	Config *config.Config
	Logger *slog.Logger
	Store  *store.Store
	Redis  *redisx.Client
	Index  *search.Client
	Pub    events.Publisher
}

// New connects the optional backing services. Postgres and redis are only
// opened when configured; a configured backend that cannot be reached is an error.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger, Pub: events.NewInMemory(64)}

	if cfg.Search.Host != "" && cfg.Search.Index != "" {
		a.Index = search.NewClient(search.Options{
			Host:     cfg.Search.Host,
			Index:    cfg.Search.Index,
			Username: cfg.Search.Username,
			Password: cfg.Search.Password,
			Timeout:  cfg.Search.Timeout,
		})
	}

	if cfg.Postgres.DSN != "" {
		st, err := store.Open(cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("store open: %w", err)
		}
		pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := st.Ping(pctx); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("postgres ping: %w", err)
		}
		if err := st.Migrate(pctx); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("postgres migrate: %w", err)
		}
		a.Store = st
		logger.Info("run ledger enabled")
	}

	if cfg.Redis.Addr != "" {
		rc := redisx.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rc.Ping(rctx); err != nil {
			_ = rc.Close()
			a.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.Redis = rc
		logger.Info("redis enabled", "addr", cfg.Redis.Addr)
	}
	return a, nil
}

func (a *App) Close() {
	if a.Store != nil {
		_ = a.Store.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
}

// DSpace returns a client with its own session.
func (a *App) DSpace() *dspace.Client {
	c := a.Config.DSpace
	return dspace.NewClient(dspace.Options{
		BaseURL:        c.BaseURL,
		Email:          c.Email,
		Password:       c.Password,
		VerifySSL:      c.VerifySSL,
		RetryMax:       c.RetryMax,
		RetryWait:      c.RetryWait,
		PolicyDelay:    c.PolicyDelay,
		RequestTimeout: c.RequestTimeout,
		MaxBodyBytes:   c.MaxBodyBytes,
		Logger:         a.Logger.With("component", "dspace"),
	})
}

// Job wires a harvest job around a fresh DSpace session.
func (a *App) Job() *bridge.Job {
	src := a.DSpace()
	job := &bridge.Job{
		Source:      src,
		Transformer: transform.New(src),
		Sink:        &bridge.Sink{DryRun: a.Config.Job.DryRun},
		Pub:         a.Pub,
		Logger:      a.Logger,
		Config: bridge.Config{
			PageSize:   a.Config.DSpace.PageSize,
			MaxPages:   a.Config.Job.MaxPages,
			PagePause:  a.Config.Job.PagePause,
			Expand:     a.Config.DSpace.Expand,
			QueryField: a.Config.DSpace.QueryField,
			QueryOp:    a.Config.DSpace.QueryOp,
			Workers:    a.Config.Job.Workers,
			Strict:     a.Config.Job.Strict,
			DryRun:     a.Config.Job.DryRun,
			Interval:   a.Config.Job.Interval,
			LockTTL:    a.Config.Job.LockTTL,
		},
	}
	// Typed nils must not leak into the interfaces.
	if a.Index != nil {
		job.Sink.Index = a.Index
	}
	if a.Store != nil {
		job.Ledger = a.Store
	}
	if a.Redis != nil {
		job.Locker = a.Redis
	}
	return job
}

// Preview runs a read-only page through a job on its own session.
func (a *App) Preview(ctx context.Context, day time.Time, limit, offset int) ([]bridge.PreviewItem, error) {
	return a.Job().Preview(ctx, day, limit, offset)
}

// Transform flattens item. A session is opened only when some bitstream has
// no attached policies.
func (a *App) Transform(ctx context.Context, item dspace.Item) (*transform.Document, error) {
	if !needsPolicies(item) {
		return transform.New(nil).Transform(ctx, item)
	}
	src := a.DSpace()
	if _, err := src.Login(ctx); err != nil {
		return nil, err
	}
	defer a.logout(ctx, src)
	return transform.New(src).Transform(ctx, item)
}

// Document fetches one item by uuid and flattens it.
func (a *App) Document(ctx context.Context, id string) (*transform.Document, error) {
	src := a.DSpace()
	if _, err := src.Login(ctx); err != nil {
		return nil, err
	}
	defer a.logout(ctx, src)
	item, err := src.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	return transform.New(src).Transform(ctx, item)
}

func (a *App) logout(ctx context.Context, src *dspace.Client) {
	if err := src.Logout(context.WithoutCancel(ctx)); err != nil {
		a.Logger.Warn("logout failed", "error", err)
	}
}

func needsPolicies(item dspace.Item) bool {
	for _, b := range item.Bitstreams {
		if b.Policies == nil {
			return true
		}
	}
	return false
}
