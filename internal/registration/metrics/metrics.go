package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the registration workflow.
type Metrics struct {
	RegistrationsStarted   prometheus.Counter
	RegistrationsDiscarded prometheus.Counter

	// Verification attempts started by mode ("async", "sync")
	VerificationsStarted *prometheus.CounterVec

	// Outcomes applied to a registration by kind
	VerificationOutcomes *prometheus.CounterVec

	// Results that arrived for a superseded attempt or a changed asset
	StaleResults prometheus.Counter

	ManualProofs prometheus.Counter

	// Blocked submit attempts by error code
	SubmissionsBlocked *prometheus.CounterVec

	// Ledger submissions by result ("succeeded", "failed")
	Submissions *prometheus.CounterVec

	SubmissionLatency prometheus.Histogram
}

// New registers the registration metrics with the default registerer.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the registration metrics with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RegistrationsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "ipx_registrations_started_total",
			Help: "Total registrations opened",
		}),
		RegistrationsDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "ipx_registrations_discarded_total",
			Help: "Total registrations discarded by their owner",
		}),
		VerificationsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ipx_verification_attempts_total",
			Help: "Total verification attempts started by mode",
		}, []string{"mode"}),
		VerificationOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ipx_verification_applied_outcomes_total",
			Help: "Verification outcomes applied to registrations by kind",
		}, []string{"kind"}),
		StaleResults: factory.NewCounter(prometheus.CounterOpts{
			Name: "ipx_verification_stale_results_total",
			Help: "Verification results discarded because the attempt was superseded",
		}),
		ManualProofs: factory.NewCounter(prometheus.CounterOpts{
			Name: "ipx_manual_proofs_attached_total",
			Help: "Total manual proofs attached after a failed verification",
		}),
		SubmissionsBlocked: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ipx_submissions_blocked_total",
			Help: "Submit attempts rejected by the submission gate by code",
		}, []string{"code"}),
		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ipx_submissions_total",
			Help: "Ledger submissions by result",
		}, []string{"result"}),
		SubmissionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ipx_submission_duration_seconds",
			Help:    "Duration of ledger mint calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
}

func (m *Metrics) IncrementRegistrationsStarted() {
	if m != nil {
		m.RegistrationsStarted.Inc()
	}
}

func (m *Metrics) IncrementRegistrationsDiscarded() {
	if m != nil {
		m.RegistrationsDiscarded.Inc()
	}
}

func (m *Metrics) IncrementVerificationsStarted(mode string) {
	if m != nil {
		m.VerificationsStarted.WithLabelValues(mode).Inc()
	}
}

func (m *Metrics) IncrementVerificationOutcome(kind string) {
	if m != nil {
		m.VerificationOutcomes.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncrementStaleResults() {
	if m != nil {
		m.StaleResults.Inc()
	}
}

func (m *Metrics) IncrementManualProofs() {
	if m != nil {
		m.ManualProofs.Inc()
	}
}

func (m *Metrics) IncrementSubmissionBlocked(code string) {
	if m != nil {
		m.SubmissionsBlocked.WithLabelValues(code).Inc()
	}
}

// ObserveSubmission records one ledger call and its result.
func (m *Metrics) ObserveSubmission(succeeded bool, d time.Duration) {
	if m == nil {
		return
	}
	m.SubmissionLatency.Observe(d.Seconds())
	if succeeded {
		m.Submissions.WithLabelValues("succeeded").Inc()
		return
	}
	m.Submissions.WithLabelValues("failed").Inc()
}
