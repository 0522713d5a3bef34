// Package metrics holds the Prometheus collectors for the frame pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "streetvision"

type Metrics struct {
	framesRead        prometheus.Counter
	framesProcessed   prometheus.Counter
	framesThrottled   prometheus.Counter
	detectionFailures prometheus.Counter
	reconnects        prometheus.Counter
	processing        prometheus.Histogram
	state             *prometheus.GaugeVec
	historyLength     prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		framesRead: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "frames_read_total",
			Help:      "Frames delivered by the source.",
		}),
		framesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "frames_processed_total",
			Help:      "Frames that went through detection.",
		}),
		framesThrottled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "frames_throttled_total",
			Help:      "Frames skipped by the throttler.",
		}),
		detectionFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "detection_failures_total",
			Help:      "Detections that failed and were recorded as zero outcomes.",
		}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "reconnects_total",
			Help:      "Stream reconnection attempts.",
		}),
		processing: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "processing_duration_seconds",
			Help:      "Wall-clock detection time per processed frame.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		state: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "state",
			Help:      "1 for the current pipeline state, 0 otherwise.",
		}, []string{"state"}),
		historyLength: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "length",
			Help:      "Results currently held in the history.",
		}),
	}
}

func (m *Metrics) FrameRead() {
	if m == nil {
		return
	}
	m.framesRead.Inc()
}

func (m *Metrics) FrameThrottled() {
	if m == nil {
		return
	}
	m.framesThrottled.Inc()
}

// FrameProcessed records one detection and its duration.
func (m *Metrics) FrameProcessed(d time.Duration) {
	if m == nil {
		return
	}
	m.framesProcessed.Inc()
	m.processing.Observe(d.Seconds())
}

func (m *Metrics) DetectionFailed() {
	if m == nil {
		return
	}
	m.detectionFailures.Inc()
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// SetState marks current as the active state among all.
func (m *Metrics) SetState(current string, all ...string) {
	if m == nil {
		return
	}
	for _, s := range all {
		m.state.WithLabelValues(s).Set(0)
	}
	m.state.WithLabelValues(current).Set(1)
}

func (m *Metrics) SetHistoryLength(n int) {
	if m == nil {
		return
	}
	m.historyLength.Set(float64(n))
}
