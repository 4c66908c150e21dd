package trace

import (
	"sync"
	"time"
)

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	now    func() time.Time
	events []Event
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{now: time.Now}
}

// Record stores e, stamping it if it carries no time.
func (r *Recorder) Record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.Time.IsZero() {
		e.Time = r.now()
	}
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Written returns the values of all KindWrite events in order.
func (r *Recorder) Written() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []byte
	for _, e := range r.events {
		if e.Kind == KindWrite {
			out = append(out, e.Value)
		}
	}
	return out
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
