// Package audit publishes action lifecycle events to subscribers and records
// them durably. The queue and registry publish; UI and control-plane layers
// are external subscribers, never core dependencies.
package audit

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/weft-dev/weft/internal/models"
)

// EventStore is the durable sink for events. Implemented by the sqlite store.
type EventStore interface {
	RecordEvent(ev *models.ActionEvent) error
}

// Recorder fans events out to subscribers and writes them through to the
// store. Safe for concurrent use.
type Recorder struct {
	store EventStore // optional

	mu   sync.Mutex
	subs map[int]chan models.ActionEvent
	next int
}

// NewRecorder creates a recorder. store may be nil for in-memory-only use.
func NewRecorder(store EventStore) *Recorder {
	return &Recorder{
		store: store,
		subs:  make(map[int]chan models.ActionEvent),
	}
}

// Publish emits one lifecycle event. Slow subscribers are skipped rather
// than allowed to stall the execution path.
func (r *Recorder) Publish(ev models.ActionEvent) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	if r.store != nil {
		if err := r.store.RecordEvent(&ev); err != nil {
			log.Printf("Failed to record event %s: %v", ev.ID, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a buffered event channel and an unsubscribe function.
func (r *Recorder) Subscribe() (<-chan models.ActionEvent, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.next
	r.next++
	ch := make(chan models.ActionEvent, 64)
	r.subs[id] = ch

	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if sub, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(sub)
		}
	}
}
