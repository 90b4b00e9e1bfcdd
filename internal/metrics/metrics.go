package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for check-in processing.
type Metrics struct {
	Submissions    *prometheus.CounterVec
	AppendDuration prometheus.Histogram
	NotifyFailures *prometheus.CounterVec
	CorruptLoads   prometheus.Counter
}

// New registers the check-in metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "absenbot_submissions_total",
			Help: "Check-in submissions by method and outcome",
		}, []string{"method", "outcome"}),
		AppendDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "absenbot_ledger_append_duration_seconds",
			Help:    "Duration of ledger append operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		NotifyFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "absenbot_notify_failures_total",
			Help: "Failed outbound notifications by target",
		}, []string{"target"}),
		CorruptLoads: f.NewCounter(prometheus.CounterOpts{
			Name: "absenbot_ledger_corrupt_loads_total",
			Help: "Ledger loads that found unreadable state and started empty",
		}),
	}
}

// IncSubmission records a processed submission.
func (m *Metrics) IncSubmission(method, outcome string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(method, outcome).Inc()
}

// ObserveAppend records the duration of a ledger append.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveAppend(start time.Time) {
	if m == nil {
		return
	}
	m.AppendDuration.Observe(time.Since(start).Seconds())
}

// IncNotifyFailure records a notification that could not be delivered.
func (m *Metrics) IncNotifyFailure(target string) {
	if m == nil {
		return
	}
	m.NotifyFailures.WithLabelValues(target).Inc()
}

// IncCorruptLoad records a load that hit corrupt state.
func (m *Metrics) IncCorruptLoad() {
	if m == nil {
		return
	}
	m.CorruptLoads.Inc()
}
