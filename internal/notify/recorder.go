package notify

import (
	"context"
	"sync"
)

// Delivery is one captured notifier call. Exactly one of UserID and Topic is set.
type Delivery struct {
	UserID  string
	Topic   string
	Event   Event
	Payload any
}

// Recorder is an in-memory Notifier that keeps every delivery. Fail, when set, is returned
// from every call after recording.
type Recorder struct {
	mu   sync.Mutex
	log  []Delivery
	Fail error
}

func (r *Recorder) SendToUser(_ context.Context, userID string, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, Delivery{UserID: userID, Event: ev})
	return r.Fail
}

func (r *Recorder) Broadcast(_ context.Context, topic string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, Delivery{Topic: topic, Payload: payload})
	return r.Fail
}

// All returns a copy of the log.
func (r *Recorder) All() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.log...)
}

// Events returns unicast events for userID, optionally filtered by type.
func (r *Recorder) Events(userID string, types ...EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, d := range r.log {
		if d.Event == nil || d.UserID != userID {
			continue
		}
		if len(types) > 0 && !hasType(types, d.Event.EventType()) {
			continue
		}
		out = append(out, d.Event)
	}
	return out
}

// Unicasts counts unicast deliveries to anyone.
func (r *Recorder) Unicasts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, d := range r.log {
		if d.Event != nil {
			n++
		}
	}
	return n
}

// Topic returns payloads broadcast on topic, oldest first.
func (r *Recorder) Topic(topic string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, d := range r.log {
		if d.Event == nil && d.Topic == topic {
			out = append(out, d.Payload)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.log = nil
	r.mu.Unlock()
}

func hasType(types []EventType, t EventType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}
