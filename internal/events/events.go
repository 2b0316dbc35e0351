package events

import (
	"context"
	"encoding/json"
	"time"
)

// RunCompleted is published once per finished harvest run, successful or not.
type RunCompleted struct {
	RunID      string          `json:"run_id"`
	Day        string          `json:"day"`
	Err        string          `json:"error,omitempty"`
	Summary    json.RawMessage `json:"summary"`
	FinishedAt time.Time       `json:"finished_at"`
}

type Publisher interface {
	PublishRunCompleted(ctx context.Context, evt RunCompleted)
	SubscribeRunCompleted() <-chan RunCompleted
}

type inMemory struct{ ch chan RunCompleted }

func NewInMemory(buffer int) Publisher {
	if buffer <= 0 {
		buffer = 16
	}
	return &inMemory{ch: make(chan RunCompleted, buffer)}
}

// PublishRunCompleted never blocks; events are dropped when nobody drains the buffer.
func (m *inMemory) PublishRunCompleted(_ context.Context, evt RunCompleted) {
	select {
	case m.ch <- evt:
	default:
	}
}

func (m *inMemory) SubscribeRunCompleted() <-chan RunCompleted { return m.ch }
