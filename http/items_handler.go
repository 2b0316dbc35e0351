package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/yourorg/dspace-bridge/dspace"
	"github.com/yourorg/dspace-bridge/internal/bridge"
)

// PreviewFunc fetches and transforms one page without uploading.
type PreviewFunc func(ctx context.Context, day time.Time, limit, offset int) ([]bridge.PreviewItem, error)

type ItemsDeps struct {
	Preview PreviewFunc
	Now     func() time.Time
}

func RegisterItems(r chi.Router, d ItemsDeps) {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	r.Get("/items", func(w http.ResponseWriter, req *http.Request) {
		if d.Preview == nil {
			writeError(w, req, http.StatusNotImplemented, "preview_disabled", "")
			return
		}
		q := req.URL.Query()
		day, err := parseDay(q.Get("date"), bridge.Yesterday(now()))
		if err != nil {
			writeError(w, req, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		limit := defInt(q.Get("limit"), 10)
		if limit < 1 || limit > 100 {
			limit = 10
		}
		offset := defInt(q.Get("offset"), 0)
		if offset < 0 {
			offset = 0
		}
		items, err := d.Preview(req.Context(), day, limit, offset)
		if err != nil {
			var ae *dspace.AuthError
			if errors.As(err, &ae) {
				writeError(w, req, http.StatusBadGateway, "upstream_auth", err.Error())
				return
			}
			writeError(w, req, http.StatusBadGateway, "upstream_error", err.Error())
			return
		}
		render.JSON(w, req, map[string]any{
			"ok":     true,
			"day":    day.Format("2006-01-02"),
			"offset": offset,
			"count":  len(items),
			"items":  items,
		})
	})
}
