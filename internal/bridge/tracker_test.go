package bridge

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/dspace-bridge/internal/events"
	"github.com/yourorg/dspace-bridge/internal/redisx"
)

func TestTrackerSharesLatestThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redisx.New(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = rc.Close() })

	ctx := context.Background()
	writer := &Tracker{KV: rc}
	writer.Record(ctx, events.RunCompleted{RunID: "r2", Day: "2024-03-14", Summary: []byte(`{"uploaded":3}`)})
	assert.True(t, mr.Exists(LatestRunKey))

	reader := &Tracker{KV: rc}
	evt, ok := reader.Latest(ctx)
	require.True(t, ok)
	assert.Equal(t, "r2", evt.RunID)
	assert.JSONEq(t, `{"uploaded":3}`, string(evt.Summary))
}
