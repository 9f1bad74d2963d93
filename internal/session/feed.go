package session

import (
	"sync"
	"time"
)

// EventType classifies messages emitted during chunk processing.
type EventType string

const (
	EventTypeStatus   EventType = "status"
	EventTypeFragment EventType = "fragment"
	EventTypeError    EventType = "error"
)

// Event is a sequenced payload consumed by UI subscribers.
type Event struct {
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	ChunkSeq  uint64    `json:"chunkNumber,omitempty"`
	Message   string    `json:"message,omitempty"`
	Text      string    `json:"text,omitempty"`
	Language  string    `json:"language,omitempty"`
}

// Feed stores recent events and provides incremental reads.
type Feed struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
}

// NewFeed creates a bounded in-memory event buffer.
func NewFeed(maxEvents int) *Feed {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &Feed{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

// Publish appends one event and assigns sequence and timestamp.
func (f *Feed) Publish(event Event) Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextSeq++
	event.Seq = f.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	f.events = append(f.events, event)
	if len(f.events) > f.maxEvents {
		trim := len(f.events) - f.maxEvents
		f.events = append([]Event(nil), f.events[trim:]...)
	}

	return event
}

// Since returns events with sequence strictly greater than seq.
func (f *Feed) Since(seq int64) []Event {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if len(f.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(f.events))
	for _, event := range f.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}
