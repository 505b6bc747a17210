package proxy

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const outcomeOK = "ok"

// Metrics records request outcomes, verification failures and upstream latency.
// A nil *Metrics records nothing.
type Metrics struct {
	requests             *prometheus.CounterVec
	verificationFailures *prometheus.CounterVec
	upstreamLatency      *prometheus.HistogramVec
}

// NewMetrics registers the proxy collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tastesig",
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Chat proxy requests by outcome type.",
		}, []string{"outcome"}),
		verificationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tastesig",
			Subsystem: "proxy",
			Name:      "token_verification_failures_total",
			Help:      "Identity token rejections by failed check.",
		}, []string{"code"}),
		upstreamLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tastesig",
			Subsystem: "proxy",
			Name:      "upstream_duration_seconds",
			Help:      "Latency of upstream chat completion calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 45, 60},
		}, []string{"outcome"}),
	}
}

func (m *Metrics) observeRequest(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeVerificationFailure(code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "unknown"
	}
	m.verificationFailures.WithLabelValues(code).Inc()
}

func (m *Metrics) observeUpstream(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.upstreamLatency.WithLabelValues(outcome).Observe(elapsed.Seconds())
}
