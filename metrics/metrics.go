// Package metrics - Prometheus collectors for the region swap service.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics.
type Metrics struct {
	// InFlight counts requests currently being processed.
	InFlight atomic.Int64

	requests      *prometheus.CounterVec
	requestTime   *prometheus.HistogramVec
	images        *prometheus.CounterVec
	detections    *prometheus.CounterVec
	collaborators *prometheus.HistogramVec
	collabErrors  *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regionswap_requests_total",
			Help: "Requests handled, by transport and status",
		}, []string{"transport", "status"}),
		requestTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "regionswap_request_duration_seconds",
			Help:    "End to end request duration",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"transport"}),
		images: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regionswap_images_total",
			Help: "Images processed, by outcome",
		}, []string{"outcome"}),
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regionswap_detections_total",
			Help: "Detections processed, by outcome",
		}, []string{"outcome"}),
		collaborators: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "regionswap_collaborator_duration_seconds",
			Help:    "Detection and segmentation call latency",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"op"}),
		collabErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regionswap_collaborator_errors_total",
			Help: "Failed detection and segmentation calls",
		}, []string{"op"}),
	}

	m.registry.MustRegister(
		m.requests,
		m.requestTime,
		m.images,
		m.detections,
		m.collaborators,
		m.collabErrors,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "regionswap_requests_in_flight",
			Help: "Requests currently being processed",
		}, func() float64 { return float64(m.InFlight.Load()) }),
	)
	return m
}

// ObserveRequest records one finished request.
func (m *Metrics) ObserveRequest(transport, status string, elapsed time.Duration) {
	m.requests.WithLabelValues(transport, status).Inc()
	m.requestTime.WithLabelValues(transport).Observe(elapsed.Seconds())
}

// ImageDone records the outcome of one image, e.g. "ok" or "detection_failed".
func (m *Metrics) ImageDone(outcome string) {
	m.images.WithLabelValues(outcome).Inc()
}

// DetectionDone records the outcome of one detection, e.g. "composited" or
// "no_foreground".
func (m *Metrics) DetectionDone(outcome string) {
	m.detections.WithLabelValues(outcome).Inc()
}

// ObserveCollaborator records a detection or segmentation call. Its signature
// matches inference.Observer.
func (m *Metrics) ObserveCollaborator(op string, elapsed time.Duration, err error) {
	m.collaborators.WithLabelValues(op).Observe(elapsed.Seconds())
	if err != nil {
		m.collabErrors.WithLabelValues(op).Inc()
	}
}

// Registry returns the registry backing the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
