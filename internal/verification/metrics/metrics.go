package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the verification workflow.
type Metrics struct {
	Submitted       prometheus.Counter
	Approvals       *prometheus.CounterVec
	Rejections      prometheus.Counter
	ApproveDuration prometheus.Histogram
	Unreconciled    prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Submitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "skillproof_verifications_submitted_total",
			Help: "Verification requests submitted",
		}),
		Approvals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skillproof_verification_approvals_total",
			Help: "Approve attempts by outcome",
		}, []string{"outcome"}),
		Rejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "skillproof_verifications_rejected_total",
			Help: "Verification requests rejected",
		}),
		ApproveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "skillproof_verification_approve_duration_seconds",
			Help:    "Duration of Approve including the on-chain mint",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		}),
		Unreconciled: factory.NewCounter(prometheus.CounterOpts{
			Name: "skillproof_mints_unreconciled_total",
			Help: "Mints confirmed on chain whose verification record could not be saved",
		}),
	}
}

func (m *Metrics) IncSubmitted() {
	if m == nil {
		return
	}
	m.Submitted.Inc()
}

// ObserveApprove records one Approve call. outcome is "verified" or an error code.
func (m *Metrics) ObserveApprove(outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.Approvals.WithLabelValues(outcome).Inc()
	m.ApproveDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncRejected() {
	if m == nil {
		return
	}
	m.Rejections.Inc()
}

func (m *Metrics) IncUnreconciled() {
	if m == nil {
		return
	}
	m.Unreconciled.Inc()
}
