package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/yourorg/dspace-bridge/internal/bridge"
	"github.com/yourorg/dspace-bridge/internal/events"
	"github.com/yourorg/dspace-bridge/internal/refresh"
	"github.com/yourorg/dspace-bridge/internal/store"
)

type Enqueuer interface {
	Enqueue(j refresh.Job) refresh.Result
}

type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]store.RunRecord, error)
}

type LatestRun interface {
	Latest(ctx context.Context) (events.RunCompleted, bool)
}

type RunsDeps struct {
	Queue  Enqueuer
	Runs   RunLister
	Latest LatestRun
	Now    func() time.Time
}

type RunRequest struct {
	Date string `json:"date,omitempty"`
}

func RegisterRuns(r chi.Router, d RunsDeps) {
	now := d.Now
	if now == nil {
		now = time.Now
	}

	// POST: trigger a harvest for one day, yesterday by default.
	r.Post("/runs", func(w http.ResponseWriter, req *http.Request) {
		if d.Queue == nil {
			writeError(w, req, http.StatusNotImplemented, "runs_disabled", "")
			return
		}
		var body RunRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, req, http.StatusBadRequest, "invalid_json", err.Error())
			return
		}
		day, err := parseDay(body.Date, bridge.Yesterday(now()))
		if err != nil {
			writeError(w, req, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		job := refresh.Job{Day: day}
		switch d.Queue.Enqueue(job) {
		case refresh.Accepted:
			render.Status(req, http.StatusAccepted)
			render.JSON(w, req, map[string]any{"ok": true, "day": job.Key()})
		case refresh.Duplicate:
			writeError(w, req, http.StatusConflict, "run_in_progress", job.Key())
		default:
			writeError(w, req, http.StatusServiceUnavailable, "queue_full", "")
		}
	})

	r.Get("/runs", func(w http.ResponseWriter, req *http.Request) {
		if d.Runs == nil {
			writeError(w, req, http.StatusNotImplemented, "ledger_disabled", "postgres is not configured")
			return
		}
		limit := defInt(req.URL.Query().Get("limit"), 20)
		if limit < 1 || limit > 500 {
			limit = 20
		}
		runs, err := d.Runs.ListRuns(req.Context(), limit)
		if err != nil {
			writeError(w, req, http.StatusInternalServerError, "ledger_error", err.Error())
			return
		}
		render.JSON(w, req, map[string]any{"ok": true, "count": len(runs), "runs": runs})
	})

	r.Get("/runs/latest", func(w http.ResponseWriter, req *http.Request) {
		if d.Latest == nil {
			writeError(w, req, http.StatusNotFound, "no_runs", "")
			return
		}
		evt, ok := d.Latest.Latest(req.Context())
		if !ok {
			writeError(w, req, http.StatusNotFound, "no_runs", "")
			return
		}
		render.JSON(w, req, map[string]any{"ok": true, "run": evt})
	})
}
