package v1

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/dspace-bridge/dspace"
	"github.com/yourorg/dspace-bridge/internal/redisx"
	"github.com/yourorg/dspace-bridge/internal/transform"
)

const knownID = "2f1c9c1e-6f0a-4c3e-9a53-1b2b0d8a4f10"

type countingFetch struct {
	calls int
}

func (c *countingFetch) fetch(_ context.Context, id string) (*transform.Document, error) {
	c.calls++
	if id != knownID {
		return nil, &dspace.FetchError{Op: "item", Attempts: 1, Err: fmt.Errorf("%w: %s", dspace.ErrNotFound, id)}
	}
	doc := transform.NewDocument()
	doc.Set(transform.FieldUUID, id)
	return doc, nil
}

func get(t *testing.T, r http.Handler, id string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/items/"+id+"/document", nil))
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func TestDocumentCachedInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redisx.New(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = rc.Close() })
	f := &countingFetch{}
	r := chi.NewRouter()
	RegisterDocument(r, DocumentDeps{Redis: rc, Fetch: f.fetch, CacheTTL: time.Minute, NegativeTTL: time.Minute})

	code, out := get(t, r, knownID)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "fresh", out["source"])
	assert.Equal(t, map[string]any{"uuid": knownID}, out["document"])

	code, out = get(t, r, knownID)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "cache", out["source"])
	assert.Equal(t, 1, f.calls)
	assert.False(t, mr.Exists("dspace-bridge:doc:lock:"+knownID))
}

func TestDocumentNegativeCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redisx.New(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = rc.Close() })
	f := &countingFetch{}
	r := chi.NewRouter()
	RegisterDocument(r, DocumentDeps{Redis: rc, Fetch: f.fetch, NegativeTTL: time.Minute})

	missing := "00000000-0000-0000-0000-000000000000"
	code, _ := get(t, r, missing)
	assert.Equal(t, http.StatusNotFound, code)
	code, out := get(t, r, missing)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, true, out["cache_miss_cooldown"])
	assert.Equal(t, 1, f.calls)

	mr.FastForward(2 * time.Minute)
	code, _ = get(t, r, missing)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, 2, f.calls)
}

func TestDocumentInProgress(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redisx.New(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = rc.Close() })
	require.NoError(t, mr.Set("dspace-bridge:doc:lock:"+knownID, "someone"))
	f := &countingFetch{}
	r := chi.NewRouter()
	RegisterDocument(r, DocumentDeps{Redis: rc, Fetch: f.fetch})

	code, out := get(t, r, knownID)
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, true, out["in_progress"])
	assert.Zero(t, f.calls)
}

func TestDocumentBuiltWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redisx.New(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = rc.Close() })
	mr.Close()

	f := &countingFetch{}
	r := chi.NewRouter()
	RegisterDocument(r, DocumentDeps{Redis: rc, Fetch: f.fetch})

	code, out := get(t, r, knownID)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "fresh", out["source"])
	assert.Equal(t, 1, f.calls)
}

func TestDocumentLocalFallback(t *testing.T) {
	f := &countingFetch{}
	r := chi.NewRouter()
	RegisterDocument(r, DocumentDeps{Local: NewLocalCache(8, time.Minute), Fetch: f.fetch, NegativeTTL: time.Minute})

	code, _ := get(t, r, knownID)
	require.Equal(t, http.StatusOK, code)
	code, out := get(t, r, knownID)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "cache", out["source"])

	missing := "00000000-0000-0000-0000-000000000000"
	get(t, r, missing)
	code, out = get(t, r, missing)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, true, out["cache_miss_cooldown"])
	assert.Equal(t, 2, f.calls)
}

func TestDocumentRejectsBadUUID(t *testing.T) {
	r := chi.NewRouter()
	RegisterDocument(r, DocumentDeps{})
	code, out := get(t, r, "not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_uuid", out["error"])
}
