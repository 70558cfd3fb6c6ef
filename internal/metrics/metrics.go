package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace prefixes every lessonsync metric
const DefaultNamespace = "lessonsync"

// Metrics holds the Prometheus collectors for the event pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	eventsTotal      *prometheus.CounterVec
	eventDuration    *prometheus.HistogramVec
	protocolErrors   *prometheus.CounterVec
	authFailures     prometheus.Counter
	connections      prometheus.Gauge
	emissionsDropped prometheus.Counter
}

// New registers the collectors on the given registerer
func New(namespace string, registry prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of inbound events handled, by event and outcome",
		}, []string{"event", "outcome"}),

		eventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_duration_seconds",
			Help:      "Inbound event handling duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		}, []string{"event"}),

		protocolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Total protocol violations reported to senders, by kind",
		}, []string{"kind"}),

		authFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Total connections refused at handshake",
		}),

		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Number of open authenticated connections",
		}),

		emissionsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emissions_dropped_total",
			Help:      "Total outbound events dropped because the target was closed or too slow",
		}),
	}
}

// ObserveEvent records one handled inbound event
func (m *Metrics) ObserveEvent(event string, failed bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	m.eventsTotal.WithLabelValues(event, outcome).Inc()
	m.eventDuration.WithLabelValues(event).Observe(duration.Seconds())
}

// ProtocolError records a violation reported back to a sender
func (m *Metrics) ProtocolError(kind string) {
	if m == nil {
		return
	}
	m.protocolErrors.WithLabelValues(kind).Inc()
}

// AuthFailure records a refused handshake
func (m *Metrics) AuthFailure() {
	if m == nil {
		return
	}
	m.authFailures.Inc()
}

// ConnectionOpened increments the open connection gauge
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

// ConnectionClosed decrements the open connection gauge
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

// EmissionDropped records an outbound event that could not be queued,
// either because the send buffer was full or the connection was closing
func (m *Metrics) EmissionDropped() {
	if m == nil {
		return
	}
	m.emissionsDropped.Inc()
}
