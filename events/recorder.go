package events

import (
	"context"
	"sync"
)

// Recorder is an in-memory Publisher for tests.
type Recorder struct {
	mu        sync.Mutex
	published []RecordedEvent
}

type RecordedEvent struct {
	Topic string
	Event Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(ctx context.Context, topic string, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, RecordedEvent{Topic: topic, Event: event})
	return nil
}

func (r *Recorder) Close() error { return nil }

// Published returns a copy of everything published so far.
func (r *Recorder) Published() []RecordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordedEvent, len(r.published))
	copy(out, r.published)
	return out
}

// ByType filters published events by event type.
func (r *Recorder) ByType(eventType string) []RecordedEvent {
	var out []RecordedEvent
	for _, rec := range r.Published() {
		if rec.Event.EventType == eventType {
			out = append(out, rec)
		}
	}
	return out
}
