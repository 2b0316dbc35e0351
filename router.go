package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpapi "github.com/yourorg/dspace-bridge/http"
	httpv1 "github.com/yourorg/dspace-bridge/http/v1"
	"github.com/yourorg/dspace-bridge/internal/config"
	"github.com/yourorg/dspace-bridge/internal/metrics"
)

// Check reports whether one backing service is reachable.
type Check func(ctx context.Context) error

type RouterDeps struct {
	Logger            *slog.Logger
	Checks            map[string]Check
	RequestsPerMinute int
	Runs              httpapi.RunsDeps
	Items             httpapi.ItemsDeps
	Transform         httpapi.TransformDeps
	Document          httpv1.DocumentDeps
}

func BuildRouter(d RouterDeps) http.Handler {
	if d.RequestsPerMinute <= 0 {
		d.RequestsPerMinute = 100
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(httpapi.RequestLogger(d.Logger))
	r.Use(metrics.Middleware)

	// Scrape and health endpoints stay outside the rate limit.
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 3*time.Second)
		defer cancel()
		body := map[string]any{"ok": true, "version": config.Version}
		for name, check := range d.Checks {
			if err := check(ctx); err != nil {
				body["ok"] = false
				body[name] = err.Error()
				continue
			}
			body[name] = "ok"
		}
		if body["ok"] == false {
			render.Status(req, http.StatusServiceUnavailable)
		}
		render.JSON(w, req, body)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(d.RequestsPerMinute, 1*time.Minute))
		r.Use(render.SetContentType(render.ContentTypeJSON))
		httpapi.RegisterRuns(r, d.Runs)
		httpapi.RegisterItems(r, d.Items)
		httpapi.RegisterTransform(r, d.Transform)
		httpv1.RegisterDocument(r, d.Document)
	})
	return r
}
