package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sentbridge/outreach/model"
	"github.com/sentbridge/outreach/service/browser"
	"github.com/sentbridge/outreach/service/handoff"
	"github.com/sentbridge/outreach/service/metrics"
	"github.com/sentbridge/outreach/service/retry"
	"github.com/sentbridge/outreach/tracing"
)

// PoolConfig configures the worker pool.
type PoolConfig struct {
	// Workers is the fixed number of long-lived workers; at most this many
	// jobs run concurrently.
	Workers int

	// JobTimeout is the wall-clock budget of one run attempt. Expiry is
	// classified as NETWORK_TIMEOUT and enters the retry policy, so no job
	// is silently abandoned.
	JobTimeout time.Duration

	// PollInterval is the idle wait between pull attempts.
	PollInterval time.Duration

	// Retention is how long terminal jobs stay in the active set before the
	// janitor archives them.
	Retention time.Duration
}

// DefaultPoolConfig returns the standard pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:      4,
		JobTimeout:   5 * time.Minute,
		PollInterval: 250 * time.Millisecond,
		Retention:    24 * time.Hour,
	}
}

// Pool is a fixed-size pool of workers pulling jobs from the durable queue.
// Workers release their slot whenever a job suspends on a human gate; they
// never block holding it.
type Pool struct {
	config    PoolConfig
	queue     *Queue
	runner    browser.Service
	handoff   *handoff.Coordinator
	policy    retry.Policy
	collector *metrics.Collector
	log       *logrus.Entry

	wg         sync.WaitGroup
	shutdownCh chan struct{}
	once       sync.Once
}

// NewPool creates a worker pool.
func NewPool(config PoolConfig, queue *Queue, runner browser.Service, coordinator *handoff.Coordinator, policy retry.Policy, collector *metrics.Collector) (*Pool, error) {
	if queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("browser runner is required")
	}
	if coordinator == nil {
		return nil, fmt.Errorf("handoff coordinator is required")
	}
	if config.Workers <= 0 {
		config.Workers = DefaultPoolConfig().Workers
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = DefaultPoolConfig().JobTimeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPoolConfig().PollInterval
	}
	return &Pool{
		config:     config,
		queue:      queue,
		runner:     runner,
		handoff:    coordinator,
		policy:     policy,
		collector:  collector,
		log:        logrus.WithField("component", "pool"),
		shutdownCh: make(chan struct{}),
	}, nil
}

// Start launches the workers and the retention janitor.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.config.Workers; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		p.wg.Add(1)
		go p.runWorker(ctx, workerID)
	}
	if p.config.Retention > 0 {
		p.wg.Add(1)
		go p.runJanitor(ctx)
	}
}

// Shutdown stops all workers and waits for in-flight jobs to persist their
// next transition.
func (p *Pool) Shutdown() {
	p.once.Do(func() { close(p.shutdownCh) })
	p.wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, workerID string) {
	defer p.wg.Done()
	log := p.log.WithField("worker", workerID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdownCh:
			return
		default:
		}

		job, err := p.queue.Pull(ctx, workerID)
		if err != nil {
			log.WithError(err).Warn("pull failed")
			p.sleep(ctx, p.config.PollInterval)
			continue
		}
		if job == nil {
			p.sleep(ctx, p.config.PollInterval)
			continue
		}
		if err := p.runJob(ctx, workerID, job); err != nil {
			log.WithError(err).WithField("job", job.ID).Error("job processing failed")
		}
	}
}

// runJob drives one pulled job through a single run attempt. Every outcome
// persists a transition before the worker moves on.
func (p *Pool) runJob(ctx context.Context, workerID string, job *model.Job) (err error) {
	ctx, span := tracing.StartSpan(ctx, "pool.runJob", "INTERNAL")
	defer tracing.EndSpan(span, err)
	span.WithAttributes(map[string]string{"job.id": job.ID, "job.type": job.Type})

	// Cancellation is checked at step boundaries, never mid-flow.
	if job.CancelWanted {
		return p.cancelInstead(ctx, workerID, job)
	}

	if err := p.queue.MarkRunning(ctx, job.ID, workerID); err != nil {
		return err
	}
	p.observe(model.JobRunning)

	runCtx, cancel := context.WithTimeout(ctx, p.config.JobTimeout)
	defer cancel()

	outcome, runErr := p.runner.RunFlow(runCtx, &browser.JobSpec{
		JobID:      job.ID,
		Type:       job.Type,
		Target:     job.Target,
		Payload:    job.Payload,
		Checkpoint: job.Checkpoint,
		Fallback:   job.FallbackUsed,
	})

	if fresh, gerr := p.queue.Get(ctx, job.ID); gerr == nil && fresh.CancelWanted {
		if cerr := p.queue.FinishCancelled(ctx, job.ID, workerID); cerr == nil {
			p.observe(model.JobCancelled)
			return nil
		}
	}

	switch {
	case runErr != nil:
		category := retry.Classify(runErr)
		if errors.Is(runErr, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			category = retry.NetworkTimeout
		}
		return p.recover(ctx, workerID, job, category, runErr.Error(), 0)

	case outcome == nil:
		return p.recover(ctx, workerID, job, retry.Unknown, "collaborator returned no outcome", 0)

	case outcome.Kind == browser.OutcomeSuccess:
		if err := p.queue.MarkSucceeded(ctx, job.ID, workerID, outcome.Extracted); err != nil {
			return err
		}
		p.observe(model.JobSucceeded)
		return nil

	case outcome.Kind == browser.OutcomeGateDetected:
		// Gates are never retried through; the worker hands off and returns
		// to the pool.
		if err := p.handoff.SuspendJob(ctx, job.ID, workerID, outcome.GateReason, outcome.Checkpoint); err != nil {
			return err
		}
		p.observe(model.JobWaitingForHuman)
		return nil

	default:
		category := outcome.Category
		if category == "" {
			category = retry.Unknown
		}
		return p.recover(ctx, workerID, job, category, outcome.Message, 0)
	}
}

// recover applies the bounded retry policy to a failed run.
func (p *Pool) recover(ctx context.Context, workerID string, job *model.Job, category retry.Category, cause string, retryAfter time.Duration) error {
	decision := p.policy.Next(category, job.RetryCount, retryAfter)
	switch decision.Action {
	case retry.ActionHandoff:
		if err := p.handoff.SuspendJob(ctx, job.ID, workerID, cause, job.Checkpoint); err != nil {
			return err
		}
		p.observe(model.JobWaitingForHuman)
		return nil
	case retry.ActionRetry:
		if err := p.queue.Requeue(ctx, job.ID, workerID, cause, string(category), decision.Delay); err != nil {
			return err
		}
		p.observe(model.JobQueued)
		return nil
	case retry.ActionFallback:
		if !job.FallbackUsed {
			if err := p.queue.UseFallback(ctx, job.ID, workerID, cause); err != nil {
				return err
			}
			p.observe(model.JobQueued)
			return nil
		}
		fallthrough
	default:
		if err := p.queue.MarkFailed(ctx, job.ID, workerID, cause, string(category)); err != nil {
			return err
		}
		p.observe(model.JobFailed)
		return nil
	}
}

func (p *Pool) cancelInstead(ctx context.Context, workerID string, job *model.Job) error {
	if err := p.queue.Cancel(ctx, job.ID, workerID); err != nil {
		return err
	}
	p.observe(model.JobCancelled)
	return nil
}

func (p *Pool) runJanitor(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.config.Retention / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdownCh:
			return
		case <-ticker.C:
			n, err := p.queue.PruneTerminal(ctx, p.config.Retention)
			if err != nil {
				p.log.WithError(err).Warn("retention pass failed")
				continue
			}
			if n > 0 {
				p.log.WithField("archived", n).Info("terminal jobs pruned")
			}
		}
	}
}

func (p *Pool) observe(state model.JobState) {
	if p.collector != nil {
		p.collector.JobTransition(state)
	}
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-p.shutdownCh:
	case <-time.After(d):
	}
}
