// Package metrics exposes Prometheus metrics for the sensing daemon
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "goecho"

// Metrics contains all Prometheus metrics for the sensing daemon
type Metrics struct {
	registry *prometheus.Registry

	// Capture metrics
	FramesProcessed prometheus.Counter
	ReadTimeouts    prometheus.Counter
	StreamErrors    prometheus.Counter
	Restarts        prometheus.Counter
	Listening       prometheus.Gauge

	// Analysis metrics
	AnalysisDuration prometheus.Histogram
	SoundEvents      *prometheus.CounterVec
	Obstacles        prometheus.Counter
	ObstacleDistance prometheus.Histogram
	Classifications  *prometheus.CounterVec
	PowerDB          prometheus.Gauge
	Narrations       prometheus.Counter

	// WebSocket metrics
	StreamClients prometheus.Gauge
}

// New creates all metrics on a dedicated registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// Capture metrics
		FramesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_processed_total",
			Help:      "Total number of audio frames analyzed",
		}),
		ReadTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_timeouts_total",
			Help:      "Total number of frame pulls that timed out",
		}),
		StreamErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_errors_total",
			Help:      "Total number of capture stream failures",
		}),
		Restarts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_restarts_total",
			Help:      "Total number of capture restarts after a stream failure",
		}),
		Listening: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capture_listening",
			Help:      "1 while the capture session is listening",
		}),

		// Analysis metrics
		AnalysisDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Time spent analyzing one frame",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12), // 100µs to ~200ms
		}),
		SoundEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sound_events_total",
			Help:      "Total number of sound events by kind",
		}, []string{"kind"}),
		Obstacles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "obstacle_warnings_total",
			Help:      "Total number of obstacles reported inside the warning distance",
		}),
		ObstacleDistance: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "obstacle_distance_meters",
			Help:      "Distance of reported obstacle candidates",
			Buckets:   prometheus.LinearBuckets(0.25, 0.25, 12), // 0.25m to 3m
		}),
		Classifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Total number of classified frames by primary label",
		}, []string{"label"}),
		PowerDB: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "power_db",
			Help:      "Average power of the recent frame window in dBFS",
		}),
		Narrations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "narrations_total",
			Help:      "Total number of narration lines published",
		}),

		// WebSocket metrics
		StreamClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_clients",
			Help:      "Current number of sensing stream WebSocket clients",
		}),
	}
}

// Registry returns the registry holding these metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordFrame records one analyzed frame
func (m *Metrics) RecordFrame(durationSeconds, powerDB float64) {
	m.FramesProcessed.Inc()
	m.AnalysisDuration.Observe(durationSeconds)
	m.PowerDB.Set(powerDB)
}

// RecordEvent increments the sound events counter for kind
func (m *Metrics) RecordEvent(kind string) {
	m.SoundEvents.WithLabelValues(kind).Inc()
}

// RecordObstacle records an obstacle candidate
func (m *Metrics) RecordObstacle(distanceMeters float64, warning bool) {
	m.ObstacleDistance.Observe(distanceMeters)
	if warning {
		m.Obstacles.Inc()
	}
}

// RecordClassification increments the classification counter for label
func (m *Metrics) RecordClassification(label string) {
	m.Classifications.WithLabelValues(label).Inc()
}

// RecordNarration increments the narration counter
func (m *Metrics) RecordNarration() {
	m.Narrations.Inc()
}

// RecordReadTimeout increments the read timeout counter
func (m *Metrics) RecordReadTimeout() {
	m.ReadTimeouts.Inc()
}

// RecordStreamError increments the stream error counter
func (m *Metrics) RecordStreamError() {
	m.StreamErrors.Inc()
}

// RecordRestart increments the restart counter
func (m *Metrics) RecordRestart() {
	m.Restarts.Inc()
}

// SetListening sets the listening gauge
func (m *Metrics) SetListening(listening bool) {
	if listening {
		m.Listening.Set(1)
		return
	}
	m.Listening.Set(0)
}

// SetStreamClients sets the current number of WebSocket clients
func (m *Metrics) SetStreamClients(count int) {
	m.StreamClients.Set(float64(count))
}
