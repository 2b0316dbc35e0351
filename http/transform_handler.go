package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/yourorg/dspace-bridge/dspace"
	"github.com/yourorg/dspace-bridge/internal/transform"
)

type TransformFunc func(ctx context.Context, item dspace.Item) (*transform.Document, error)

type TransformDeps struct {
	Transform TransformFunc
	MaxBytes  int64
}

// RegisterTransform exposes the flattening step for a posted item payload.
func RegisterTransform(r chi.Router, d TransformDeps) {
	limit := d.MaxBytes
	if limit <= 0 {
		limit = 8 << 20
	}
	r.Post("/transform", func(w http.ResponseWriter, req *http.Request) {
		if d.Transform == nil {
			writeError(w, req, http.StatusNotImplemented, "transform_disabled", "")
			return
		}
		raw, err := io.ReadAll(io.LimitReader(req.Body, limit))
		if err != nil {
			writeError(w, req, http.StatusBadRequest, "read_error", err.Error())
			return
		}
		item, err := dspace.MapItemPayload(raw)
		if err != nil {
			writeError(w, req, http.StatusBadRequest, "invalid_json", err.Error())
			return
		}
		doc, err := d.Transform(req.Context(), item)
		if err != nil {
			var fe *dspace.FetchError
			var ae *dspace.AuthError
			if errors.As(err, &fe) || errors.As(err, &ae) {
				writeError(w, req, http.StatusBadGateway, "upstream_error", err.Error())
				return
			}
			if transform.IsTransformError(err) {
				writeError(w, req, http.StatusUnprocessableEntity, "transform_error", err.Error())
				return
			}
			writeError(w, req, http.StatusInternalServerError, "transform_error", err.Error())
			return
		}
		render.JSON(w, req, doc)
	})
}
