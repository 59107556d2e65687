package invoxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline's prometheus collectors. All record methods are
// nil-safe so the registry can run without metrics attached.
type Metrics struct {
	invocations *prometheus.CounterVec
	failures    *prometheus.CounterVec
	retries     *prometheus.CounterVec
	rateLimits  *prometheus.CounterVec
	fallbacks   *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// NewMetrics registers the pipeline collectors on reg and returns them.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		invocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "invoxy_invocations_total",
			Help: "Invocations entering the pipeline, by tool.",
		}, []string{"tool"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "invoxy_failures_total",
			Help: "Failure results, by tool and error code.",
		}, []string{"tool", "code"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "invoxy_retries_total",
			Help: "Retry attempts scheduled by the retry loop, by tool.",
		}, []string{"tool"}),
		rateLimits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "invoxy_rate_limited_total",
			Help: "Invocations rejected at admission, by tool.",
		}, []string{"tool"}),
		fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "invoxy_fallbacks_total",
			Help: "Fallback dispatches, by originating tool.",
		}, []string{"tool"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "invoxy_attempt_duration_seconds",
			Help:    "Final attempt duration, by tool.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
	}
}

func (m *Metrics) invocation(tool string) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(tool).Inc()
}

func (m *Metrics) result(tool string, res ToolResult) {
	if m == nil {
		return
	}
	if !res.OK && res.Error != nil {
		m.failures.WithLabelValues(tool, string(res.Error.Code)).Inc()
	}
	if res.Duration > 0 {
		m.duration.WithLabelValues(tool).Observe(res.Duration.Seconds())
	}
}

func (m *Metrics) retry(tool string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(tool).Inc()
}

func (m *Metrics) rateLimited(tool string) {
	if m == nil {
		return
	}
	m.rateLimits.WithLabelValues(tool).Inc()
}

func (m *Metrics) fallback(tool string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(tool).Inc()
}
