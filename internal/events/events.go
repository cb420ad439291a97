// Package events provides the in-process event bus used to broadcast
// pipeline lifecycle events to interested subscribers (the websocket stream,
// tests).
package events

import (
	"sync"
	"time"
)

// EventType identifies what happened
type EventType string

const (
	JobStarted       EventType = "job_started"
	JobCompleted     EventType = "job_completed"
	JobFailed        EventType = "job_failed"
	ModelActivated   EventType = "model_activated"
	PredictionsReady EventType = "predictions_ready"
	EvaluationsReady EventType = "evaluations_ready"
)

// Event is a single pipeline lifecycle notification
type Event struct {
	Type      EventType              `json:"type"`
	RunID     string                 `json:"run_id,omitempty"`
	Job       string                 `json:"job,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Bus is a fan-out publish/subscribe hub. Publish never blocks: subscribers
// that fall behind lose events rather than stalling the pipeline.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBus creates an empty event bus
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber. The returned cancel function must be
// called to release the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, 64)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to all current subscribers
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			// Subscriber buffer full, drop
		}
	}
}
