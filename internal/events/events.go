// Package events provides a small in-process event bus for job lifecycle
// notifications. The pipeline publishes; the websocket layer subscribes.
package events

import (
	"sync"
	"time"
)

// Type identifies a kind of job event.
type Type string

const (
	EventJobQueued        Type = "job.queued"
	EventJobStarted       Type = "job.started"
	EventJobProgress      Type = "job.progress"
	EventJobRungCompleted Type = "job.rung_completed"
	EventJobCompleted     Type = "job.completed"
	EventJobFailed        Type = "job.failed"
	EventThumbnailSkipped Type = "job.thumbnail_skipped"
)

// Event describes one job lifecycle change.
type Event struct {
	Type      Type      `json:"type"`
	JobID     string    `json:"job_id"`
	Progress  int       `json:"progress"`
	Rung      string    `json:"rung,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus fans events out to subscribers. Publishing never blocks: a subscriber
// that cannot keep up misses events rather than stalling a worker.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener with the given channel buffer. The second
// return value unsubscribes and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber that has buffer space.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Slow subscriber; drop rather than block the pipeline.
		}
	}
}
