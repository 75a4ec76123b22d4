// Package metrics exposes Prometheus collectors for the bus, push streams and
// counter ingestion. All methods are safe on a nil *Metrics, which records
// nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rubiojr/pulse/pkg/core"
)

const namespace = "pulse"

type Metrics struct {
	registry *prometheus.Registry

	subscribers     prometheus.Gauge
	published       *prometheus.CounterVec
	delivered       prometheus.Counter
	slowSubscribers prometheus.Counter
	streams         *prometheus.GaugeVec
	streamsRejected *prometheus.CounterVec
	ingestBatches   prometheus.Counter
	impressions     prometheus.Counter
	rejectedIDs     prometheus.Counter
	profileViews    *prometheus.CounterVec
}

// New registers all collectors, plus the Go and process collectors, on a
// private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "bus", Name: "subscribers",
			Help: "Active bus subscriptions.",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus", Name: "events_published_total",
			Help: "Events published on the bus by type.",
		}, []string{"type"}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus", Name: "events_delivered_total",
			Help: "Events handed to subscriber buffers.",
		}),
		slowSubscribers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus", Name: "overflows_total",
			Help: "Events dropped or subscriptions closed because a buffer was full.",
		}),
		streams: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "stream", Name: "connections",
			Help: "Open push connections by transport.",
		}, []string{"transport"}),
		streamsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stream", Name: "rejected_total",
			Help: "Push connections refused by reason.",
		}, []string{"reason"}),
		ingestBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "batches_total",
			Help: "Impression batches received.",
		}),
		impressions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "impressions_total",
			Help: "Post impressions recorded.",
		}),
		rejectedIDs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "rejected_ids_total",
			Help: "Malformed ids dropped from impression batches.",
		}),
		profileViews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "profile_views_total",
			Help: "Profile view requests by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.subscribers, m.published, m.delivered, m.slowSubscribers,
		m.streams, m.streamsRejected,
		m.ingestBatches, m.impressions, m.rejectedIDs, m.profileViews,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Subscribed implements bus.Observer.
func (m *Metrics) Subscribed(active int) {
	if m != nil {
		m.subscribers.Set(float64(active))
	}
}

// Unsubscribed implements bus.Observer.
func (m *Metrics) Unsubscribed(active int) {
	if m != nil {
		m.subscribers.Set(float64(active))
	}
}

// Published implements bus.Observer.
func (m *Metrics) Published(t core.EventType, delivered int) {
	if m != nil {
		m.published.WithLabelValues(string(t)).Inc()
		m.delivered.Add(float64(delivered))
	}
}

// Dropped implements bus.Observer.
func (m *Metrics) Dropped(string) {
	if m != nil {
		m.slowSubscribers.Inc()
	}
}

func (m *Metrics) StreamOpened(transport string) {
	if m != nil {
		m.streams.WithLabelValues(transport).Inc()
	}
}

func (m *Metrics) StreamClosed(transport string) {
	if m != nil {
		m.streams.WithLabelValues(transport).Dec()
	}
}

// StreamRejected counts a refused connection; reason is "auth" or "capacity".
func (m *Metrics) StreamRejected(reason string) {
	if m != nil {
		m.streamsRejected.WithLabelValues(reason).Inc()
	}
}

// IngestBatch records one impression batch.
func (m *Metrics) IngestBatch(recorded, rejected int) {
	if m != nil {
		m.ingestBatches.Inc()
		m.impressions.Add(float64(recorded))
		m.rejectedIDs.Add(float64(rejected))
	}
}

// ProfileView records a profile view outcome: "recorded" or "skipped".
func (m *Metrics) ProfileView(outcome string) {
	if m != nil {
		m.profileViews.WithLabelValues(outcome).Inc()
	}
}
