// Package metrics defines the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	JobsSubmitted   *prometheus.CounterVec
	JobsSettled     *prometheus.CounterVec
	ProviderRetries prometheus.Counter
	LedgerEntries   *prometheus.CounterVec
	PollAttempts    prometheus.Histogram
}

// New registers all collectors on reg and returns them.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "generation_jobs_submitted_total",
			Help: "Jobs accepted for execution, by funding mode.",
		}, []string{"funding"}),
		JobsSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "generation_jobs_settled_total",
			Help: "Jobs reaching a terminal settled state, by outcome.",
		}, []string{"outcome"}),
		ProviderRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "provider_call_retries_total",
			Help: "Retries of provider calls after retryable failures.",
		}),
		LedgerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_entries_total",
			Help: "Ledger entries appended, by kind.",
		}, []string{"kind"}),
		PollAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "generation_poll_attempts",
			Help:    "Status poll attempts used per job before a terminal state.",
			Buckets: prometheus.LinearBuckets(1, 5, 13),
		}),
	}
	reg.MustRegister(m.JobsSubmitted, m.JobsSettled, m.ProviderRetries, m.LedgerEntries, m.PollAttempts)
	return m
}
