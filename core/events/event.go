package events

import "sync"

// Event represents a structured state change emitted by the protocol.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (journal, streams).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Record is the flattened representation persisted by journals and pushed to
// stream subscribers.
type Record struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

type attributer interface {
	Attributes() map[string]string
}

// Flatten converts an event into its record form. Events without attributes
// yield an empty attribute map.
func Flatten(evt Event) Record {
	if evt == nil {
		return Record{}
	}
	rec := Record{Type: evt.EventType()}
	if a, ok := evt.(attributer); ok {
		rec.Attributes = a.Attributes()
	}
	if rec.Attributes == nil {
		rec.Attributes = map[string]string{}
	}
	return rec
}

// Buffer accumulates events until they are flushed to a downstream emitter.
type Buffer struct {
	events []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.events = append(b.events, evt)
}

// Events returns the buffered events in emission order.
func (b *Buffer) Events() []Event {
	if b == nil {
		return nil
	}
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// FlushTo forwards all buffered events and resets the buffer.
func (b *Buffer) FlushTo(dst Emitter) {
	if b == nil {
		return
	}
	if dst != nil {
		for _, evt := range b.events {
			dst.Emit(evt)
		}
	}
	b.events = nil
}

// Fanout forwards each event to every registered emitter.
type Fanout struct {
	mu    sync.RWMutex
	sinks []Emitter
}

// NewFanout constructs a fan-out emitter over the supplied sinks.
func NewFanout(sinks ...Emitter) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		f.Add(s)
	}
	return f
}

// Add registers an additional sink.
func (f *Fanout) Add(sink Emitter) {
	if f == nil || sink == nil {
		return
	}
	f.mu.Lock()
	f.sinks = append(f.sinks, sink)
	f.mu.Unlock()
}

// Emit implements the Emitter interface.
func (f *Fanout) Emit(evt Event) {
	if f == nil || evt == nil {
		return
	}
	f.mu.RLock()
	sinks := append([]Emitter(nil), f.sinks...)
	f.mu.RUnlock()
	for _, s := range sinks {
		s.Emit(evt)
	}
}
