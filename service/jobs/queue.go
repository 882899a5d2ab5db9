// Package jobs provides the durable job queue and the worker pool executing
// browser-automation jobs. Job state lives exclusively in the record store;
// a job object is worker-local only between two persisted transitions.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sentbridge/outreach/internal/clock"
	"github.com/sentbridge/outreach/internal/idgen"
	"github.com/sentbridge/outreach/model"
	"github.com/sentbridge/outreach/service/ledger"
	"github.com/sentbridge/outreach/service/store"
)

// Queue errors.
var (
	ErrNotFound          = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job transition")
)

// Queue is the durable job queue. Selection is FIFO with an optional
// priority consulted only at pull time; a running job is never preempted.
type Queue struct {
	jobs   store.Set[model.Job]
	ledger *ledger.Service
	log    *logrus.Entry
}

// NewQueue creates a queue over the supplied record set.
func NewQueue(jobs store.Set[model.Job], auditLedger *ledger.Service) *Queue {
	return &Queue{
		jobs:   jobs,
		ledger: auditLedger,
		log:    logrus.WithField("component", "jobs"),
	}
}

// Enqueue persists a new job in state QUEUED.
func (q *Queue) Enqueue(ctx context.Context, job *model.Job) error {
	if job == nil {
		return fmt.Errorf("nil job")
	}
	if job.ID == "" {
		job.ID = idgen.New()
	}
	now := clock.Now()
	job.State = model.JobQueued
	job.CreatedAt = now
	job.UpdatedAt = now
	if err := q.jobs.Append(ctx, job); err != nil {
		return err
	}
	return q.ledger.Record(ctx, model.EntityJob, job.ID, "", string(model.JobQueued), "orchestrator", nil)
}

// Get returns one job by id.
func (q *Queue) Get(ctx context.Context, id string) (*model.Job, error) {
	all, err := q.jobs.Read(ctx)
	if err != nil {
		return nil, err
	}
	for _, job := range all {
		if job.ID == id {
			return job, nil
		}
	}
	return nil, ErrNotFound
}

// List returns all jobs currently in the given state.
func (q *Queue) List(ctx context.Context, state model.JobState) ([]*model.Job, error) {
	all, err := q.jobs.Read(ctx)
	if err != nil {
		return nil, err
	}
	var out []*model.Job
	for _, job := range all {
		if job.State == state {
			out = append(out, job)
		}
	}
	return out, nil
}

// Pull claims the next eligible job for workerID, moving it
// QUEUED/RESUMED -> DISPATCHED. Eligibility: the job is due (RunAfter
// elapsed) and no other job of the same correlated session/account resource
// is currently dispatched, running or waiting on a human, so two workers
// never contend for one authenticated session. Returns nil when nothing is
// eligible.
func (q *Queue) Pull(ctx context.Context, workerID string) (*model.Job, error) {
	all, err := q.jobs.Read(ctx)
	if err != nil {
		return nil, err
	}

	busy := map[string]bool{}
	for _, job := range all {
		if job.CorrelationID == "" {
			continue
		}
		switch job.State {
		case model.JobDispatched, model.JobRunning, model.JobWaitingForHuman:
			busy[job.CorrelationID] = true
		}
	}

	now := clock.Now()
	var candidates []*model.Job
	for _, job := range all {
		if job.State != model.JobQueued && job.State != model.JobResumed {
			continue
		}
		if job.RunAfter != nil && job.RunAfter.After(now) {
			continue
		}
		if job.CorrelationID != "" && busy[job.CorrelationID] {
			continue
		}
		candidates = append(candidates, job)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	// CAS-claim candidates in order; a concurrent puller may win any one of
	// them, so losing a claim just moves on to the next.
	for _, candidate := range candidates {
		claimed, err := q.claim(ctx, candidate.ID, workerID)
		if err != nil {
			return nil, err
		}
		if claimed != nil {
			return claimed, nil
		}
	}
	return nil, nil
}

func (q *Queue) claim(ctx context.Context, id, workerID string) (*model.Job, error) {
	var from model.JobState
	var snapshot model.Job
	n, err := q.jobs.UpdateWhere(ctx,
		func(j *model.Job) bool { return j.ID == id },
		func(j *model.Job) bool {
			if j.State != model.JobQueued && j.State != model.JobResumed {
				return false
			}
			from = j.State
			j.State = model.JobDispatched
			j.AssignedWorker = workerID
			j.UpdatedAt = clock.Now()
			snapshot = *j
			return true
		})
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	if err := q.ledger.Record(ctx, model.EntityJob, id, string(from), string(model.JobDispatched), workerID, nil); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// MarkRunning moves a dispatched job to RUNNING.
func (q *Queue) MarkRunning(ctx context.Context, id, workerID string) error {
	return q.transition(ctx, id, []model.JobState{model.JobDispatched}, model.JobRunning, workerID, nil, nil)
}

// MarkSucceeded finishes a running job, persisting any extracted data.
func (q *Queue) MarkSucceeded(ctx context.Context, id, workerID string, extracted map[string]string) error {
	return q.transition(ctx, id, []model.JobState{model.JobRunning}, model.JobSucceeded, workerID, nil,
		func(j *model.Job) {
			j.AssignedWorker = ""
			if len(extracted) > 0 {
				j.Extracted = extracted
			}
		})
}

// MarkFailed terminates a running job after recovery options are exhausted.
func (q *Queue) MarkFailed(ctx context.Context, id, workerID, cause string, category string) error {
	return q.transition(ctx, id, []model.JobState{model.JobRunning}, model.JobFailed, workerID,
		map[string]string{"cause": cause, "category": category},
		func(j *model.Job) {
			j.AssignedWorker = ""
			j.LastError = cause
			j.LastErrorKind = category
		})
}

// Requeue returns a running job to QUEUED for a bounded retry, recording
// the failure category and the earliest next run time.
func (q *Queue) Requeue(ctx context.Context, id, workerID, cause, category string, delay time.Duration) error {
	runAfter := clock.Now().Add(delay)
	return q.transition(ctx, id, []model.JobState{model.JobRunning}, model.JobQueued, workerID,
		map[string]string{"cause": cause, "category": category},
		func(j *model.Job) {
			j.AssignedWorker = ""
			j.RetryCount++
			j.LastError = cause
			j.LastErrorKind = category
			j.RunAfter = &runAfter
		})
}

// MarkWaiting suspends a running job on a human gate, persisting the resume
// checkpoint before the worker releases its slot. The job is never held
// in-memory only while waiting.
func (q *Queue) MarkWaiting(ctx context.Context, id, workerID, reason string, checkpoint map[string]string) error {
	return q.transition(ctx, id, []model.JobState{model.JobRunning}, model.JobWaitingForHuman, workerID,
		map[string]string{"reason": reason},
		func(j *model.Job) {
			j.AssignedWorker = ""
			j.LastError = reason
			if len(checkpoint) > 0 {
				j.Checkpoint = checkpoint
			}
		})
}

// MarkResumed moves a waiting job to RESUMED after explicit human
// confirmation; any available worker may then continue it from the persisted
// checkpoint.
func (q *Queue) MarkResumed(ctx context.Context, id, operator string) error {
	return q.transition(ctx, id, []model.JobState{model.JobWaitingForHuman}, model.JobResumed, operator, nil,
		func(j *model.Job) {
			j.RunAfter = nil
		})
}

// UseFallback flags the job to run its one fallback strategy attempt and
// requeues it. Legal once per job.
func (q *Queue) UseFallback(ctx context.Context, id, workerID, cause string) error {
	return q.transition(ctx, id, []model.JobState{model.JobRunning}, model.JobQueued, workerID,
		map[string]string{"cause": cause, "fallback": "true"},
		func(j *model.Job) {
			j.AssignedWorker = ""
			j.RetryCount++
			j.FallbackUsed = true
			j.LastError = cause
		})
}

// Cancel cancels a queued or waiting job immediately. For a running job it
// only records the request; the worker honours it cooperatively at the next
// step boundary, and cancellation never triggers a send.
func (q *Queue) Cancel(ctx context.Context, id, actor string) error {
	var requested bool
	err := q.transition(ctx, id,
		[]model.JobState{model.JobQueued, model.JobResumed, model.JobWaitingForHuman, model.JobDispatched},
		model.JobCancelled, actor, nil,
		func(j *model.Job) {
			j.AssignedWorker = ""
		})
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrInvalidTransition) {
		return err
	}
	// Running: flag for cooperative cancellation.
	n, uerr := q.jobs.UpdateWhere(ctx,
		func(j *model.Job) bool { return j.ID == id },
		func(j *model.Job) bool {
			if j.State != model.JobRunning {
				return false
			}
			j.CancelWanted = true
			j.UpdatedAt = clock.Now()
			requested = true
			return true
		})
	if uerr != nil {
		return uerr
	}
	if n == 0 || !requested {
		return err
	}
	return nil
}

// FinishCancelled completes a cooperative cancellation observed by a worker.
func (q *Queue) FinishCancelled(ctx context.Context, id, workerID string) error {
	return q.transition(ctx, id, []model.JobState{model.JobRunning}, model.JobCancelled, workerID, nil,
		func(j *model.Job) {
			j.AssignedWorker = ""
		})
}

// PruneTerminal removes terminal jobs older than the retention window and
// returns the number archived.
func (q *Queue) PruneTerminal(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := clock.Now().Add(-olderThan)
	return q.jobs.DeleteWhere(ctx, func(j *model.Job) bool {
		return j.State.Terminal() && j.UpdatedAt.Before(cutoff)
	})
}

func (q *Queue) transition(ctx context.Context, id string, from []model.JobState, to model.JobState, actor string, meta map[string]string, apply func(*model.Job)) error {
	var current model.JobState
	found := false
	n, err := q.jobs.UpdateWhere(ctx,
		func(j *model.Job) bool {
			if j.ID != id {
				return false
			}
			found = true
			return true
		},
		func(j *model.Job) bool {
			current = j.State
			ok := false
			for _, f := range from {
				if j.State == f {
					ok = true
					break
				}
			}
			if !ok {
				return false
			}
			j.State = to
			j.UpdatedAt = clock.Now()
			if apply != nil {
				apply(j)
			}
			return true
		})
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	if n == 0 {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, to)
	}
	if err := q.ledger.Record(ctx, model.EntityJob, id, string(current), string(to), actor, meta); err != nil {
		return err
	}
	q.log.WithFields(logrus.Fields{"job": id, "from": current, "to": to}).Debug("job transitioned")
	return nil
}
