// Package refresh runs on-demand harvest requests on a small worker pool,
// collapsing duplicate requests for the same day.
package refresh

import (
	"context"
	"sync"
	"time"
)

type Job struct {
	Day time.Time
}

// Key identifies duplicate jobs.
func (j Job) Key() string { return j.Day.Format("2006-01-02") }

type Result int

const (
	Accepted Result = iota
	Duplicate
	Saturated
)

type Refresher struct {
	ch      chan Job
	inFly   sync.Map // key -> struct{}
	Do      func(ctx context.Context, j Job)
	Timeout time.Duration
	wg      sync.WaitGroup
}

func New(ctx context.Context, capacity int, workerCount int, timeout time.Duration, do func(ctx context.Context, j Job)) *Refresher {
	if capacity <= 0 {
		capacity = 4
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	if timeout <= 0 {
		timeout = 6 * time.Hour
	}
	r := &Refresher{ch: make(chan Job, capacity), Do: do, Timeout: timeout}
	for i := 0; i < workerCount; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
	return r
}

// Enqueue schedules j unless the same day is already queued or running, or the queue is full.
func (r *Refresher) Enqueue(j Job) Result {
	if _, exists := r.inFly.LoadOrStore(j.Key(), struct{}{}); exists {
		return Duplicate
	}
	select {
	case r.ch <- j:
		return Accepted
	default:
		r.inFly.Delete(j.Key())
		return Saturated
	}
}

// InFlight reports whether a job for key is queued or running.
func (r *Refresher) InFlight(key string) bool {
	_, ok := r.inFly.Load(key)
	return ok
}

// Wait blocks until every worker has exited after ctx is cancelled.
func (r *Refresher) Wait() { r.wg.Wait() }

func (r *Refresher) worker(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-r.ch:
			r.run(ctx, j)
		}
	}
}

func (r *Refresher) run(parent context.Context, j Job) {
	ctx, cancel := context.WithTimeout(parent, r.Timeout)
	defer func() {
		r.inFly.Delete(j.Key())
		cancel()
	}()
	if r.Do != nil {
		r.Do(ctx, j)
	}
}
