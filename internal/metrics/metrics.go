// Package metrics exposes pipeline and delivery counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rewired-gh/quakesentinel/internal/models"
)

const metricPrefix = "quakesentinel_"

// Metrics bundles the service metrics. It satisfies the pipeline and
// dispatcher observer interfaces.
type Metrics struct {
	registry *prometheus.Registry

	EventsTotal           *prometheus.CounterVec
	IngestErrors          *prometheus.CounterVec
	AftershockProbability prometheus.Histogram
	QueueDepth            prometheus.Gauge
	PipelineLatency       prometheus.Histogram
	NotificationsTotal    *prometheus.CounterVec
	DeliveryLatency       *prometheus.HistogramVec
	DispatchSkips         *prometheus.CounterVec
}

// New constructs the metrics on a dedicated registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_total",
				Help: "Total classified events by type",
			},
			[]string{"event_type"},
		),
		IngestErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total rejected or failed samples by reason",
			},
			[]string{"reason"},
		),
		AftershockProbability: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "aftershock_probability_percent",
			Help:    "Distribution of computed aftershock probabilities",
			Buckets: prometheus.LinearBuckets(10, 10, 10),
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "pipeline_queue_depth",
			Help: "Events waiting for estimation and dispatch",
		}),
		PipelineLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "pipeline_latency_seconds",
			Help:    "Time from sample receipt to completed dispatch",
			Buckets: prometheus.DefBuckets,
		}),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_total",
				Help: "Total notification deliveries by channel and status",
			},
			[]string{"channel", "status"},
		),
		DeliveryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "delivery_latency_seconds",
				Help:    "Per-recipient delivery latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"channel"},
		),
		DispatchSkips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "dispatch_skips_total",
				Help: "Total skipped dispatches by event type and reason",
			},
			[]string{"event_type", "reason"},
		),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.EventsTotal,
		m.IngestErrors,
		m.AftershockProbability,
		m.QueueDepth,
		m.PipelineLatency,
		m.NotificationsTotal,
		m.DeliveryLatency,
		m.DispatchSkips,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveEvent(eventType models.EventType) {
	m.EventsTotal.WithLabelValues(string(eventType)).Inc()
}

func (m *Metrics) ObserveIngestError(reason string) {
	m.IngestErrors.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveAnalysis(probability float64) {
	m.AftershockProbability.Observe(probability)
}

func (m *Metrics) ObserveQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

func (m *Metrics) ObserveLatency(elapsed time.Duration) {
	m.PipelineLatency.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveDelivery(channel models.Channel, status models.NotificationStatus, elapsed time.Duration) {
	m.NotificationsTotal.WithLabelValues(string(channel), string(status)).Inc()
	m.DeliveryLatency.WithLabelValues(string(channel)).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveDispatch(eventType models.EventType, outcome models.DispatchOutcome) {
	if outcome.Skipped {
		m.DispatchSkips.WithLabelValues(string(eventType), outcome.Reason).Inc()
	}
}
