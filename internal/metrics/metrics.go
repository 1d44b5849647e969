// Package metrics exposes the service's Prometheus instrumentation on
// a private registry, served at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the counters and gauges the pipelines update.
type Metrics struct {
	registry *prometheus.Registry

	FramesProcessed     *prometheus.CounterVec
	IncidentsConfirmed  *prometheus.CounterVec
	IncidentsSuppressed prometheus.Counter
	DetectorErrors      prometheus.Counter
	ReportFailures      prometheus.Counter
	QueueDepth          prometheus.Gauge
}

// New creates the metric set on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		FramesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "collision_frames_processed_total",
			Help: "Frames analyzed, by ingestion source.",
		}, []string{"source"}),
		IncidentsConfirmed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "collision_incidents_confirmed_total",
			Help: "Incidents confirmed after the streak threshold, by severity.",
		}, []string{"severity", "source"}),
		IncidentsSuppressed: factory.NewCounter(prometheus.CounterOpts{
			Name: "collision_incidents_suppressed_total",
			Help: "Confirmed incidents suppressed by the per-camera cooldown.",
		}),
		DetectorErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "collision_detector_errors_total",
			Help: "Detector sidecar calls that returned an error.",
		}),
		ReportFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "collision_report_failures_total",
			Help: "Incident report deliveries that failed and were queued.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "collision_report_queue_depth",
			Help: "Undelivered incident reports awaiting retry.",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
