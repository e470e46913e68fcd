package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"usvprotocol/core/events"
)

// EventMetrics counts committed protocol events.
type EventMetrics struct {
	emitted   *prometheus.CounterVec
	journaled prometheus.Counter
	dropped   *prometheus.CounterVec
}

var (
	eventOnce     sync.Once
	eventRegistry *EventMetrics
)

// Events returns the registry tracking protocol events.
func Events() *EventMetrics {
	eventOnce.Do(func() {
		eventRegistry = &EventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "usv",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Committed protocol events by type.",
			}, []string{"type"}),
			journaled: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "usv",
				Subsystem: "events",
				Name:      "journaled_total",
				Help:      "Events appended to the journal.",
			}),
			dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "usv",
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Events not delivered, by sink.",
			}, []string{"sink"}),
		}
		prometheus.MustRegister(eventRegistry.emitted, eventRegistry.journaled, eventRegistry.dropped)
	})
	return eventRegistry
}

func (m *EventMetrics) RecordEmitted(eventType string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.emitted.WithLabelValues(eventType).Inc()
}

func (m *EventMetrics) RecordJournaled() {
	if m == nil {
		return
	}
	m.journaled.Inc()
}

// RecordDropped counts an event a sink could not take, e.g. a slow stream
// subscriber.
func (m *EventMetrics) RecordDropped(sink string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(sink).Inc()
}

// Emit counts evt by type. It lets the registry sit in an events.Fanout next
// to the real sinks.
func (m *EventMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	m.RecordEmitted(evt.EventType())
}
