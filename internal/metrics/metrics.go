// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Capture scheduler
	FramesCaptured atomic.Uint64
	TicksDropped   atomic.Uint64 // request already in flight
	TicksSkipped   atomic.Uint64 // paused, disabled or source not ready
	CaptureErrors  atomic.Uint64

	// Detection requests
	DetectionRequests  atomic.Uint64
	DetectionFailures  atomic.Uint64
	DetectionLatencyMs atomic.Uint64 // latency of the last completed request

	// Statistics polling
	StatsPolls        atomic.Uint64
	StatsPollFailures atomic.Uint64

	// Overlay rendering
	RedrawPasses        atomic.Uint64
	StaleDecodesDropped atomic.Uint64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	gauges := []struct {
		name string
		help string
		v    *atomic.Uint64
	}{
		{"stationeye_frames_captured_total", "Frames extracted from the active source", &m.FramesCaptured},
		{"stationeye_ticks_dropped_total", "Capture ticks dropped because a request was in flight", &m.TicksDropped},
		{"stationeye_ticks_skipped_total", "Capture ticks skipped while paused, disabled or not ready", &m.TicksSkipped},
		{"stationeye_capture_errors_total", "Frame extraction failures", &m.CaptureErrors},
		{"stationeye_detection_requests_total", "Detection requests sent", &m.DetectionRequests},
		{"stationeye_detection_failures_total", "Detection requests that failed", &m.DetectionFailures},
		{"stationeye_detection_latency_ms", "Latency of the last detection request in milliseconds", &m.DetectionLatencyMs},
		{"stationeye_stats_polls_total", "Statistics polls attempted", &m.StatsPolls},
		{"stationeye_stats_poll_failures_total", "Statistics polls that failed", &m.StatsPollFailures},
		{"stationeye_redraw_passes_total", "Overlay redraw passes started", &m.RedrawPasses},
		{"stationeye_stale_decodes_dropped_total", "Annotated image decodes discarded because a newer pass started", &m.StaleDecodesDropped},
	}

	for _, g := range gauges {
		v := g.v
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return float64(v.Load()) },
		))
	}
}

// ObserveDetectionLatency records the duration of the last detection request.
func (m *Metrics) ObserveDetectionLatency(d time.Duration) {
	m.DetectionLatencyMs.Store(uint64(d.Milliseconds()))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
