package v1

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/yourorg/dspace-bridge/dspace"
	"github.com/yourorg/dspace-bridge/internal/transform"
)

// Cache is the redis surface used by the document endpoint. *redisx.Client implements it.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, val string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) error
}

type DocumentDeps struct {
	// Redis is preferred when set; Local serves single-replica deployments.
	Redis Cache
	Local *expirable.LRU[string, []byte]
	Fetch func(ctx context.Context, id string) (*transform.Document, error)

	CacheTTL    time.Duration
	NegativeTTL time.Duration
	Logger      *slog.Logger
}

type cachedDocument struct {
	Document  json.RawMessage `json:"document"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// NewLocalCache builds the in-process fallback cache.
func NewLocalCache(size int, ttl time.Duration) *expirable.LRU[string, []byte] {
	if size <= 0 {
		size = 512
	}
	return expirable.NewLRU[string, []byte](size, nil, ttl)
}

func RegisterDocument(r chi.Router, d DocumentDeps) {
	if d.CacheTTL <= 0 {
		d.CacheTTL = time.Hour
	}
	if d.NegativeTTL <= 0 {
		d.NegativeTTL = 5 * time.Minute
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	r.Route("/v1/items", func(r chi.Router) {
		r.Get("/{uuid}/document", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "uuid")
			if _, err := uuid.Parse(id); err != nil {
				writeError(w, req, http.StatusBadRequest, "invalid_uuid", id)
				return
			}
			document(w, req, d, id)
		})
	})
}

func document(w http.ResponseWriter, req *http.Request, d DocumentDeps, id string) {
	ctx := req.Context()
	missKey := "dspace-bridge:doc:miss:" + id
	cacheKey := "dspace-bridge:doc:" + id

	if d.Redis != nil {
		if ok, _ := d.Redis.Exists(ctx, missKey); ok {
			render.Status(req, http.StatusNotFound)
			render.JSON(w, req, map[string]any{"error": "not_found", "uuid": id, "cache_miss_cooldown": true})
			return
		}
		if val, err := d.Redis.Get(ctx, cacheKey); err == nil && val != "" {
			var c cachedDocument
			if json.Unmarshal([]byte(val), &c) == nil {
				respond(w, req, id, "cache", c)
				return
			}
		}
		// Only one replica builds a given document at a time.
		token := uuid.NewString()
		lockKey := "dspace-bridge:doc:lock:" + id
		ok, err := d.Redis.Acquire(ctx, lockKey, token, 30*time.Second)
		switch {
		case err != nil:
			// Build unlocked while redis is unavailable.
			d.Logger.Warn("document lock unavailable", "uuid", id, "error", err)
		case !ok:
			render.Status(req, http.StatusAccepted)
			render.JSON(w, req, map[string]any{"ok": false, "in_progress": true, "uuid": id})
			return
		default:
			defer func() { _ = d.Redis.Release(context.WithoutCancel(ctx), lockKey, token) }()
		}
	} else if d.Local != nil {
		if until, ok := d.Local.Get(missKey); ok && localMissActive(until) {
			render.Status(req, http.StatusNotFound)
			render.JSON(w, req, map[string]any{"error": "not_found", "uuid": id, "cache_miss_cooldown": true})
			return
		}
		if raw, ok := d.Local.Get(cacheKey); ok {
			var c cachedDocument
			if json.Unmarshal(raw, &c) == nil {
				respond(w, req, id, "cache", c)
				return
			}
		}
	}

	if d.Fetch == nil {
		writeError(w, req, http.StatusNotImplemented, "fetch_disabled", "")
		return
	}
	doc, err := d.Fetch(ctx, id)
	if err != nil {
		if dspace.IsNotFound(err) {
			d.remember(ctx, missKey, []byte(time.Now().Add(d.NegativeTTL).Format(time.RFC3339Nano)), d.NegativeTTL)
			writeError(w, req, http.StatusNotFound, "not_found", id)
			return
		}
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
		writeError(w, req, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	raw, err := doc.MarshalJSON()
	if err != nil {
		writeError(w, req, http.StatusInternalServerError, "encode_error", err.Error())
		return
	}
	c := cachedDocument{Document: raw, FetchedAt: time.Now().UTC()}
	if b, err := json.Marshal(c); err == nil {
		d.remember(ctx, cacheKey, b, d.CacheTTL)
	}
	respond(w, req, id, "fresh", c)
}

func (d DocumentDeps) remember(ctx context.Context, key string, val []byte, ttl time.Duration) {
	if d.Redis != nil {
		if err := d.Redis.Set(ctx, key, string(val), ttl); err != nil {
			d.Logger.Warn("document cache write failed", "key", key, "error", err)
		}
		return
	}
	if d.Local != nil {
		d.Local.Add(key, val)
	}
}

// localMissActive reports whether a negative entry in the local cache, which
// stores its own expiry, is still in force.
func localMissActive(until []byte) bool {
	t, err := time.Parse(time.RFC3339Nano, string(until))
	return err == nil && time.Now().Before(t)
}

func respond(w http.ResponseWriter, req *http.Request, id, source string, c cachedDocument) {
	render.JSON(w, req, map[string]any{
		"ok":         true,
		"source":     source,
		"uuid":       id,
		"fetched_at": c.FetchedAt,
		"document":   c.Document,
	})
}

func writeError(w http.ResponseWriter, req *http.Request, status int, code, detail string) {
	body := map[string]any{"error": code}
	if detail != "" {
		body["detail"] = detail
	}
	render.Status(req, status)
	render.JSON(w, req, body)
}
