package pairing

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports pairing counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	started      prometheus.Counter
	finished     *prometheus.CounterVec
	cleanups     *prometheus.CounterVec
	sendFailures prometheus.Counter
	live         prometheus.Gauge
	timeToLink   prometheus.Histogram
}

// NewMetrics registers pairing collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		started: f.NewCounter(prometheus.CounterOpts{
			Namespace: "whizqr",
			Subsystem: "pairing",
			Name:      "attempts_started_total",
			Help:      "Pairing attempts started.",
		}),
		finished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "whizqr",
			Subsystem: "pairing",
			Name:      "attempts_finished_total",
			Help:      "Pairing attempts that reached a terminal state, by outcome.",
		}, []string{"outcome"}),
		cleanups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "whizqr",
			Subsystem: "pairing",
			Name:      "cleanups_total",
			Help:      "Attempt teardowns, by reason.",
		}, []string{"reason"}),
		sendFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "whizqr",
			Subsystem: "pairing",
			Name:      "send_failures_total",
			Help:      "Outbound post-link messages that failed to send.",
		}),
		live: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "whizqr",
			Subsystem: "pairing",
			Name:      "live_attempts",
			Help:      "Attempts currently held in the registry.",
		}),
		timeToLink: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "whizqr",
			Subsystem: "pairing",
			Name:      "time_to_link_seconds",
			Help:      "Time from attempt start to link.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 45, 60, 90},
		}),
	}
}

func (m *Metrics) attemptStarted() {
	if m == nil {
		return
	}
	m.started.Inc()
}

func (m *Metrics) attemptFinished(outcome State) {
	if m == nil {
		return
	}
	m.finished.WithLabelValues(outcome.String()).Inc()
}

func (m *Metrics) cleanedUp(reason cleanupReason) {
	if m == nil {
		return
	}
	m.cleanups.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) sendFailed() {
	if m == nil {
		return
	}
	m.sendFailures.Inc()
}

func (m *Metrics) setLive(n int) {
	if m == nil {
		return
	}
	m.live.Set(float64(n))
}

func (m *Metrics) linked(d time.Duration) {
	if m == nil {
		return
	}
	m.timeToLink.Observe(d.Seconds())
}
