package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ReconcileMetrics captures health signals for the reconciliation core:
// auto-match outcomes, token redemptions, approval decisions, sweep runs.
type ReconcileMetrics struct {
	matchDecisions   *prometheus.CounterVec
	paymentsApplied  *prometheus.CounterVec
	duplicates       prometheus.Counter
	tokenRedemptions *prometheus.CounterVec
	approvalActions  *prometheus.CounterVec
	sweepRuns        *prometheus.CounterVec
	sweepErrors      *prometheus.CounterVec
	sweepDuration    *prometheus.HistogramVec
}

var (
	reconcileMetricsOnce sync.Once
	reconcileMetrics     *ReconcileMetrics
)

// Reconcile returns the singleton reconciliation metrics registry.
func Reconcile() *ReconcileMetrics {
	reconcileMetricsOnce.Do(func() {
		reconcileMetrics = newReconcileMetrics(prometheus.DefaultRegisterer)
	})
	return reconcileMetrics
}

func newReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	m := &ReconcileMetrics{
		matchDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finvo",
			Subsystem: "transfermatch",
			Name:      "decisions_total",
			Help:      "Auto-match decisions by confidence bucket and disposition.",
		}, []string{"confidence", "disposition"}),
		paymentsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finvo",
			Subsystem: "transfermatch",
			Name:      "payments_applied_total",
			Help:      "Payments created from matched transfers.",
		}, []string{"source"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "finvo",
			Subsystem: "transfermatch",
			Name:      "duplicate_transfers_total",
			Help:      "Inbound transfers rejected by the duplicate guard.",
		}),
		tokenRedemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finvo",
			Subsystem: "acceptance",
			Name:      "redemptions_total",
			Help:      "Acceptance token redemption attempts by outcome.",
		}, []string{"purpose", "outcome"}),
		approvalActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finvo",
			Subsystem: "approval",
			Name:      "actions_total",
			Help:      "Approval workflow actions by type and outcome.",
		}, []string{"action", "outcome"}),
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finvo",
			Subsystem: "scheduler",
			Name:      "sweep_runs_total",
			Help:      "Sweep job executions.",
		}, []string{"job"}),
		sweepErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finvo",
			Subsystem: "scheduler",
			Name:      "sweep_errors_total",
			Help:      "Sweep job failures.",
		}, []string{"job"}),
		sweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "finvo",
			Subsystem: "scheduler",
			Name:      "sweep_duration_seconds",
			Help:      "Sweep job duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
	}

	collectors := []prometheus.Collector{
		m.matchDecisions,
		m.paymentsApplied,
		m.duplicates,
		m.tokenRedemptions,
		m.approvalActions,
		m.sweepRuns,
		m.sweepErrors,
		m.sweepDuration,
	}
	for _, collector := range collectors {
		err := reg.Register(collector)
		if err == nil {
			continue
		}
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			zap.L().Warn("failed to register metrics collector", zap.Error(err))
		}
	}

	return m
}

func (m *ReconcileMetrics) IncMatchDecision(confidence, disposition string) {
	if m == nil {
		return
	}
	m.matchDecisions.WithLabelValues(confidence, disposition).Inc()
}

func (m *ReconcileMetrics) IncPaymentApplied(source string) {
	if m == nil {
		return
	}
	m.paymentsApplied.WithLabelValues(source).Inc()
}

func (m *ReconcileMetrics) IncDuplicateTransfer() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

func (m *ReconcileMetrics) IncTokenRedemption(purpose, outcome string) {
	if m == nil {
		return
	}
	m.tokenRedemptions.WithLabelValues(purpose, outcome).Inc()
}

func (m *ReconcileMetrics) IncApprovalAction(action, outcome string) {
	if m == nil {
		return
	}
	m.approvalActions.WithLabelValues(action, outcome).Inc()
}

func (m *ReconcileMetrics) IncSweepRun(job string) {
	if m == nil {
		return
	}
	m.sweepRuns.WithLabelValues(job).Inc()
}

func (m *ReconcileMetrics) IncSweepError(job string) {
	if m == nil {
		return
	}
	m.sweepErrors.WithLabelValues(job).Inc()
}

func (m *ReconcileMetrics) ObserveSweepDuration(job string, seconds float64) {
	if m == nil {
		return
	}
	m.sweepDuration.WithLabelValues(job).Observe(seconds)
}
