package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for ownership verification routing.
type Metrics struct {
	// Provider call latency by routing key
	ProviderLatency *prometheus.HistogramVec

	// Classified outcomes by routing key and verification kind
	Outcomes *prometheus.CounterVec

	// Evidence cache lookups by result ("hit", "miss")
	CacheLookups *prometheus.CounterVec

	// Registry lookups that failed and forced a failed outcome
	RegistryErrors prometheus.Counter
}

// New registers the verification metrics with the default registerer.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the verification metrics with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ProviderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ipx_verification_provider_duration_seconds",
			Help:    "Duration of ownership verification provider calls by routing key",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"routing_key"}),

		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ipx_verification_outcomes_total",
			Help: "Total classified verification outcomes by routing key and kind",
		}, []string{"routing_key", "kind"}),

		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ipx_verification_cache_lookups_total",
			Help: "Verification evidence cache lookups by result",
		}, []string{"result"}),

		RegistryErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "ipx_verification_registry_errors_total",
			Help: "Registered-asset lookups that failed",
		}),
	}
}

func (m *Metrics) ObserveProviderLatency(routingKey string, d time.Duration) {
	if m != nil {
		m.ProviderLatency.WithLabelValues(routingKey).Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementOutcome(routingKey, kind string) {
	if m != nil {
		m.Outcomes.WithLabelValues(routingKey, kind).Inc()
	}
}

// IncrementCache records a cache lookup; hit selects the label.
func (m *Metrics) IncrementCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.CacheLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) IncrementRegistryError() {
	if m != nil {
		m.RegistryErrors.Inc()
	}
}
