package refresh

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueCollapsesDuplicates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	started := make(chan string, 4)

	r := New(ctx, 2, 1, time.Minute, func(_ context.Context, j Job) {
		started <- j.Key()
		<-release
	})
	t.Cleanup(func() {
		cancel()
		r.Wait()
	})

	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, Accepted, r.Enqueue(Job{Day: day}))
	assert.Equal(t, "2024-01-02", <-started)
	assert.True(t, r.InFlight("2024-01-02"))
	assert.Equal(t, Duplicate, r.Enqueue(Job{Day: day}))

	close(release)
	require.Eventually(t, func() bool { return !r.InFlight("2024-01-02") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, Accepted, r.Enqueue(Job{Day: day}))
}

func TestEnqueueSaturated(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	r := New(ctx, 1, 1, time.Minute, func(context.Context, Job) {
		started <- struct{}{}
		<-block
	})
	t.Cleanup(func() {
		close(block)
		cancel()
		r.Wait()
	})

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, Accepted, r.Enqueue(Job{Day: base}))
	<-started
	require.Equal(t, Accepted, r.Enqueue(Job{Day: base.AddDate(0, 0, 1)}))
	assert.Equal(t, Saturated, r.Enqueue(Job{Day: base.AddDate(0, 0, 2)}))
	assert.False(t, r.InFlight("2024-01-03"))
}
