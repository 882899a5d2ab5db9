// Package metrics exposes prometheus instrumentation for the engine.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sentbridge/outreach/model"
)

// Auditor recomputes the unauthorized-send count from the event ledger.
type Auditor interface {
	UnauthorizedSends(ctx context.Context) ([]*model.Event, error)
}

// Collector holds the engine's prometheus metrics.
type Collector struct {
	jobTransitions   *prometheus.CounterVec
	dispatchOutcomes *prometheus.CounterVec
	jobsRunning      prometheus.Gauge
	handoffsOpen     prometheus.Gauge

	// unauthorizedSends is recomputed from the ledger; any value other than
	// zero is a stop-the-line defect.
	unauthorizedSends prometheus.Gauge
}

// NewCollector creates and registers the engine metrics. registerer may be
// nil, in which case the default registerer is used.
func NewCollector(registerer prometheus.Registerer) *Collector {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	c := &Collector{
		jobTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_job_transitions_total",
			Help: "Job state transitions by target state",
		}, []string{"state"}),
		dispatchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_dispatch_outcomes_total",
			Help: "Channel dispatch outcomes by result",
		}, []string{"outcome"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outreach_jobs_running",
			Help: "Jobs currently running",
		}),
		handoffsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outreach_handoffs_open",
			Help: "Open human handoffs",
		}),
		unauthorizedSends: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outreach_unauthorized_sends",
			Help: "Sends without a covering approval per the ledger; must be zero",
		}),
	}
	registerer.MustRegister(c.jobTransitions, c.dispatchOutcomes, c.jobsRunning, c.handoffsOpen, c.unauthorizedSends)
	return c
}

// JobTransition counts one job transition into state.
func (c *Collector) JobTransition(state model.JobState) {
	c.jobTransitions.WithLabelValues(string(state)).Inc()
	switch state {
	case model.JobRunning:
		c.jobsRunning.Inc()
	case model.JobSucceeded, model.JobFailed, model.JobCancelled, model.JobWaitingForHuman, model.JobQueued:
		// leaving RUNNING
		c.jobsRunning.Dec()
	}
}

// DispatchOutcome counts one dispatch result.
func (c *Collector) DispatchOutcome(outcome string) {
	c.dispatchOutcomes.WithLabelValues(outcome).Inc()
}

// SetOpenHandoffs records the current number of open handoffs.
func (c *Collector) SetOpenHandoffs(n int) {
	c.handoffsOpen.Set(float64(n))
}

// Audit recomputes the unauthorized-send gauge from the ledger and returns
// the count.
func (c *Collector) Audit(ctx context.Context, auditor Auditor) (int, error) {
	violations, err := auditor.UnauthorizedSends(ctx)
	if err != nil {
		return 0, err
	}
	c.unauthorizedSends.Set(float64(len(violations)))
	return len(violations), nil
}
