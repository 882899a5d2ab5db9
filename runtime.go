package outreach

import (
	"context"

	"github.com/sentbridge/outreach/model"
	"github.com/sentbridge/outreach/service/approval"
	"github.com/sentbridge/outreach/service/dispatch"
	"github.com/sentbridge/outreach/service/handoff"
	"github.com/sentbridge/outreach/service/jobs"
	"github.com/sentbridge/outreach/service/ledger"
	"github.com/sentbridge/outreach/service/metrics"
	"github.com/sentbridge/outreach/service/store"
)

// Runtime is the assembled engine.
type Runtime struct {
	approvals   *approval.Service
	queue       *jobs.Queue
	pool        *jobs.Pool
	coordinator *handoff.Coordinator
	dispatcher  *dispatch.Dispatcher
	ledger      *ledger.Service
	collector   *metrics.Collector

	leads    store.Set[model.Lead]
	contacts store.Set[model.Contact]
	dnc      store.Set[model.DNCEntry]
}

// Start launches the worker pool and the channel dispatcher.
func (r *Runtime) Start(ctx context.Context) error {
	r.pool.Start(ctx)
	r.dispatcher.Start(ctx)
	return nil
}

// Shutdown stops the dispatcher and the pool, waiting for in-flight work to
// persist its next transition.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.dispatcher.Shutdown()
	r.pool.Shutdown()
	return nil
}

// Approvals returns the approval service.
func (r *Runtime) Approvals() *approval.Service { return r.approvals }

// Jobs returns the durable job queue.
func (r *Runtime) Jobs() *jobs.Queue { return r.queue }

// Handoff returns the human-handoff coordinator.
func (r *Runtime) Handoff() *handoff.Coordinator { return r.coordinator }

// Dispatcher returns the channel dispatcher.
func (r *Runtime) Dispatcher() *dispatch.Dispatcher { return r.dispatcher }

// Ledger returns the append-only audit ledger.
func (r *Runtime) Ledger() *ledger.Service { return r.ledger }

// Metrics returns the prometheus collector.
func (r *Runtime) Metrics() *metrics.Collector { return r.collector }

// Leads returns the lead record set.
func (r *Runtime) Leads() store.Set[model.Lead] { return r.leads }

// Contacts returns the contact record set.
func (r *Runtime) Contacts() store.Set[model.Contact] { return r.contacts }

// DoNotContact returns the do-not-contact record set consulted by the
// dispatch gate.
func (r *Runtime) DoNotContact() store.Set[model.DNCEntry] { return r.dnc }

// SubmitJob enqueues a new browser job.
func (r *Runtime) SubmitJob(ctx context.Context, job *model.Job) error {
	return r.queue.Enqueue(ctx, job)
}

// Audit recomputes the unauthorized-send gauge from the ledger and returns
// the violation count. It must always return zero.
func (r *Runtime) Audit(ctx context.Context) (int, error) {
	return r.collector.Audit(ctx, r.ledger)
}
