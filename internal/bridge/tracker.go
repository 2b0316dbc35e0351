package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/yourorg/dspace-bridge/internal/events"
)

// LatestRunKey holds the most recent RunCompleted event in redis.
const LatestRunKey = "dspace-bridge:run:latest"

// KV is the slice of redis the tracker needs. *redisx.Client implements it.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// Tracker remembers the last finished run so the ops API can report it
// without a database. When KV is set the value is shared across replicas.
type Tracker struct {
	KV     KV
	Logger *slog.Logger

	mu     sync.RWMutex
	latest *events.RunCompleted
}

// Follow drains the publisher until ctx is done.
func (t *Tracker) Follow(ctx context.Context, pub events.Publisher) {
	ch := pub.SubscribeRunCompleted()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			t.Record(ctx, evt)
		}
	}
}

func (t *Tracker) Record(ctx context.Context, evt events.RunCompleted) {
	t.mu.Lock()
	t.latest = &evt
	t.mu.Unlock()
	if t.KV == nil {
		return
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := t.KV.Set(ctx, LatestRunKey, string(b), 0); err != nil {
		t.logger().Warn("latest run not cached", "run_id", evt.RunID, "error", err)
	}
}

// Latest returns the last recorded run, preferring the shared copy. ok is
// false when no run has finished yet.
func (t *Tracker) Latest(ctx context.Context) (events.RunCompleted, bool) {
	if t.KV != nil {
		if s, err := t.KV.Get(ctx, LatestRunKey); err == nil && s != "" {
			var evt events.RunCompleted
			if json.Unmarshal([]byte(s), &evt) == nil {
				return evt, true
			}
		}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.latest == nil {
		return events.RunCompleted{}, false
	}
	return *t.latest, true
}

func (t *Tracker) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}
