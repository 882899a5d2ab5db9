// Package dispatch implements the router: it polls the record store for
// approved outbound actions, claims them with the approval service's
// compare-and-set discipline, invokes the matching channel adapter and
// finalizes the outcome. Gates reported by an adapter flow through the same
// human-handoff coordinator used by browser jobs.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sentbridge/outreach/model"
	"github.com/sentbridge/outreach/policy"
	"github.com/sentbridge/outreach/service/approval"
	"github.com/sentbridge/outreach/service/handoff"
	"github.com/sentbridge/outreach/service/metrics"
	"github.com/sentbridge/outreach/service/retry"
	"github.com/sentbridge/outreach/tracing"
)

// ErrNoAdapter is returned when no adapter is registered for a channel.
var ErrNoAdapter = errors.New("no adapter registered for channel")

// Config configures the dispatcher.
type Config struct {
	// PollInterval is the wait between store polls.
	PollInterval time.Duration

	// MaxSendAttempts bounds transient-failure retries within one claim;
	// exhaustion is a terminal failed outcome, never an open loop.
	MaxSendAttempts int

	// ClaimTimeout is how long a record may sit on the transient dispatching
	// marker before the poll sweeps it back to approved. Must comfortably
	// exceed the worst-case in-claim send duration.
	ClaimTimeout time.Duration
}

// DefaultConfig returns the standard dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval:    500 * time.Millisecond,
		MaxSendAttempts: 3,
		ClaimTimeout:    time.Minute,
	}
}

// Dispatcher routes approved actions to channel adapters.
type Dispatcher struct {
	config    Config
	approvals *approval.Service
	adapters  map[string]ChannelAdapter
	handoff   *handoff.Coordinator
	gate      *policy.Gate
	policy    retry.Policy
	collector *metrics.Collector
	log       *logrus.Entry

	mu         sync.RWMutex
	wg         sync.WaitGroup
	shutdownCh chan struct{}
	once       sync.Once
}

// New creates a dispatcher. gate and collector may be nil.
func New(config Config, approvals *approval.Service, coordinator *handoff.Coordinator, gate *policy.Gate, retryPolicy retry.Policy, collector *metrics.Collector) (*Dispatcher, error) {
	if approvals == nil {
		return nil, fmt.Errorf("approval service is required")
	}
	if coordinator == nil {
		return nil, fmt.Errorf("handoff coordinator is required")
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	if config.MaxSendAttempts <= 0 {
		config.MaxSendAttempts = DefaultConfig().MaxSendAttempts
	}
	if config.ClaimTimeout <= 0 {
		config.ClaimTimeout = DefaultConfig().ClaimTimeout
	}
	return &Dispatcher{
		config:     config,
		approvals:  approvals,
		adapters:   map[string]ChannelAdapter{},
		handoff:    coordinator,
		gate:       gate,
		policy:     retryPolicy,
		collector:  collector,
		log:        logrus.WithField("component", "dispatch"),
		shutdownCh: make(chan struct{}),
	}, nil
}

// Register binds an adapter to a channel name.
func (d *Dispatcher) Register(channel string, adapter ChannelAdapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.adapters[channel] = adapter
}

func (d *Dispatcher) adapter(channel string) (ChannelAdapter, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	adapter, ok := d.adapters[channel]
	return adapter, ok
}

// Start launches the poll loop.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.shutdownCh:
				return
			case <-time.After(d.config.PollInterval):
			}
			if _, err := d.PollOnce(ctx); err != nil {
				d.log.WithError(err).Warn("poll failed")
			}
		}
	}()
}

// Shutdown stops the poll loop and waits for the in-flight pass.
func (d *Dispatcher) Shutdown() {
	d.once.Do(func() { close(d.shutdownCh) })
	d.wg.Wait()
}

// PollOnce runs a single dispatch pass and returns the number of approvals
// it settled. The pass first sweeps abandoned claims, so a record stranded
// on the dispatching marker by a crashed claimer becomes eligible again.
func (d *Dispatcher) PollOnce(ctx context.Context) (int, error) {
	if n, err := d.approvals.ReclaimStale(ctx, d.config.ClaimTimeout); err != nil {
		return 0, err
	} else if n > 0 {
		d.log.WithField("count", n).Warn("reclaimed stale dispatch claims")
	}
	approved, err := d.approvals.ListByStatus(ctx, model.ApprovalApproved)
	if err != nil {
		return 0, err
	}
	dispatched := 0
	for _, record := range approved {
		blocked, err := d.handoff.Blocked(ctx, model.EntityApproval, record.ID)
		if err != nil {
			return dispatched, err
		}
		if blocked {
			continue
		}
		if err := d.dispatchOne(ctx, record.ID); err != nil {
			if errors.Is(err, approval.ErrInvalidTransition) {
				// Lost the claim race or an edit reset the record; either
				// way the store already reflects the truth.
				continue
			}
			d.log.WithError(err).WithField("approval", record.ID).Error("dispatch failed")
			continue
		}
		dispatched++
	}
	return dispatched, nil
}

// dispatchOne claims one approved record and settles it. The claim is the
// only path to the adapter: content is read from the snapshot taken inside
// the compare-and-set, never from a status cached across a suspension
// point.
func (d *Dispatcher) dispatchOne(ctx context.Context, id string) (err error) {
	ctx, span := tracing.StartSpan(ctx, "dispatch.dispatchOne", "PRODUCER")
	defer tracing.EndSpan(span, err)
	span.WithAttributes(map[string]string{"approval.id": id})

	claim, err := d.approvals.BeginDispatch(ctx, id)
	if err != nil {
		return err
	}
	record := claim.Approval()

	if allowed, reason, gerr := d.gate.Allow(ctx, record.Channel, record.Destination); gerr != nil {
		// Store trouble while consulting the gate: release and let a later
		// poll retry with a healthy store.
		_ = claim.Release(ctx, "policy gate unavailable")
		return gerr
	} else if !allowed {
		d.observe("policy_refused")
		return claim.Failed(ctx, reason)
	}

	adapter, ok := d.adapter(record.Channel)
	if !ok {
		d.observe("no_adapter")
		return claim.Failed(ctx, pkgerrors.Wrapf(ErrNoAdapter, "channel %q", record.Channel).Error())
	}

	return d.send(ctx, claim, adapter, record)
}

// send drives bounded send attempts for one claim.
func (d *Dispatcher) send(ctx context.Context, claim *approval.Claim, adapter ChannelAdapter, record *model.Approval) error {
	key := claim.IdempotencyKey()
	var lastReason string
	for attempt := 0; attempt < d.config.MaxSendAttempts; attempt++ {
		result, err := adapter.Send(ctx, record.Destination, record.Content, key)
		if err != nil {
			// Transport failure with unknown delivery state: consult the
			// channel's own delivery log before any retry.
			delivered, derr := adapter.Delivered(ctx, key)
			if derr == nil && delivered {
				d.observe("sent")
				return claim.Sent(ctx, "")
			}
			lastReason = err.Error()
			decision := d.policy.Next(retry.NetworkTimeout, attempt, 0)
			if decision.Action != retry.ActionRetry {
				break
			}
			if werr := d.wait(ctx, decision.Delay); werr != nil {
				break
			}
			continue
		}

		switch result.Status {
		case SendStatusSent:
			d.observe("sent")
			return claim.Sent(ctx, result.ProviderMessageID)
		case SendStatusFailed:
			d.observe("failed")
			return claim.Failed(ctx, result.Reason)
		case SendStatusRateLimited:
			lastReason = "rate limited"
			decision := d.policy.Next(retry.RateLimit, attempt, result.RetryAfter)
			if decision.Action != retry.ActionRetry {
				break
			}
			if werr := d.wait(ctx, decision.Delay); werr != nil {
				break
			}
			continue
		case SendStatusBlockedGate, SendStatusAuthExpired:
			// Same handoff mechanism as browser jobs: release the claim,
			// open a handoff and stop touching the record until a human
			// resolves it.
			d.observe("gate")
			reason := result.Reason
			if reason == "" {
				reason = string(result.Status)
			}
			if rerr := claim.Release(ctx, reason); rerr != nil {
				return rerr
			}
			return d.handoff.ReportApprovalGate(ctx, record.ID, reason)
		default:
			d.observe("failed")
			return claim.Failed(ctx, fmt.Sprintf("unrecognised adapter status %q", result.Status))
		}
		break
	}
	d.observe("failed")
	if lastReason == "" {
		lastReason = "send attempts exhausted"
	}
	return claim.Failed(ctx, lastReason)
}

func (d *Dispatcher) wait(ctx context.Context, delay time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.shutdownCh:
		return errors.New("dispatcher shutting down")
	case <-time.After(delay):
		return nil
	}
}

func (d *Dispatcher) observe(outcome string) {
	if d.collector != nil {
		d.collector.DispatchOutcome(outcome)
	}
}
