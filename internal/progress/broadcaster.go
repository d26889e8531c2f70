// Package progress broadcasts pipeline run events to interested observers.
// The pipeline runs to completion correctly with zero observers attached.
package progress

import (
	"sort"
	"sync"
	"time"
)

// EventType categorizes a notification.
type EventType string

const (
	EventStatusUpdate EventType = "status_update"
	EventStageUpdate  EventType = "stage_update"
	EventCompleted    EventType = "completed"
	EventError        EventType = "error"
)

// StageStatus describes one stage transition inside a stage_update event.
type StageStatus string

const (
	StageStarted   StageStatus = "started"
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// Event is one snapshot delivered to observers. Delivery order matches the
// order stages complete.
type Event struct {
	RunID       string      `json:"run_id"`
	Type        EventType   `json:"type"`
	Status      string      `json:"status,omitempty"`
	Stage       string      `json:"stage,omitempty"`
	StageStatus StageStatus `json:"stage_status,omitempty"`
	Progress    float64     `json:"progress"`
	Message     string      `json:"message,omitempty"`
	Error       string      `json:"error,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Observer receives events. A returned error means the observer is gone and
// will be silently dropped; it is never surfaced to the pipeline.
type Observer interface {
	Notify(Event) error
}

// ObserverFunc adapts a function into an Observer.
type ObserverFunc func(Event) error

func (f ObserverFunc) Notify(e Event) error { return f(e) }

// Hub fans events out to all attached observers. Observers may attach and
// detach while notifications are being delivered; the observer list is the
// only mutable state shared across concurrent runs.
type Hub struct {
	// deliverMu serializes whole Notify calls so deliveries stay FIFO;
	// mu guards only the observer map, so observers may attach or detach
	// from inside their own Notify without deadlocking.
	deliverMu sync.Mutex
	mu        sync.Mutex
	observers map[int]Observer
	nextID    int
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{observers: make(map[int]Observer)}
}

// Attach registers an observer and returns a detach function.
func (h *Hub) Attach(o Observer) (detach func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.observers[id] = o
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.observers, id)
	}
}

// Len reports the current observer count.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}

// Notify delivers the event to every observer in attach order. Deliveries
// run against a snapshot taken outside the map lock, so an observer may
// detach itself (or attach another) from inside Notify. Observers that error
// or panic are dropped without disturbing the others.
func (h *Hub) Notify(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	h.mu.Lock()
	ids := make([]int, 0, len(h.observers))
	for id := range h.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	targets := make([]Observer, len(ids))
	for i, id := range ids {
		targets[i] = h.observers[id]
	}
	h.mu.Unlock()

	var dead []int
	for i, o := range targets {
		if !deliver(o, e) {
			dead = append(dead, ids[i])
		}
	}
	if len(dead) > 0 {
		h.mu.Lock()
		for _, id := range dead {
			delete(h.observers, id)
		}
		h.mu.Unlock()
	}
}

func deliver(o Observer, e Event) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return o.Notify(e) == nil
}
