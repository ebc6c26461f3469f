package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	journaled   *prometheus.CounterVec
	subscribers prometheus.Gauge
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking journaled escrow events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			journaled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "earnescrow",
				Subsystem: "events",
				Name:      "journaled_total",
				Help:      "Count of events written to the journal segmented by type.",
			}, []string{"type"}),
			subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "earnescrow",
				Subsystem: "events",
				Name:      "stream_subscribers",
				Help:      "Number of connected event stream subscribers.",
			}),
		}
		prometheus.MustRegister(eventRegistry.journaled, eventRegistry.subscribers)
	})
	return eventRegistry
}

// RecordJournaled increments the journal counter for the supplied event type.
func (m *eventMetrics) RecordJournaled(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToLower(eventType))
	if normalized == "" {
		normalized = "unknown"
	}
	m.journaled.WithLabelValues(normalized).Inc()
}

// SetSubscribers records the number of connected stream subscribers.
func (m *eventMetrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}
