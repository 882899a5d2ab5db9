// Package handoff coordinates jobs and approvals blocked on a human
// intervention. The coordinator never retries through or attempts to bypass
// a detected gate; that is a policy violation, not a retryable failure.
// Progress resumes only on an explicit external confirmation.
package handoff

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sentbridge/outreach/internal/clock"
	"github.com/sentbridge/outreach/internal/idgen"
	"github.com/sentbridge/outreach/model"
	"github.com/sentbridge/outreach/service/ledger"
	"github.com/sentbridge/outreach/service/notify"
	"github.com/sentbridge/outreach/service/store"
)

// ErrNotFound is returned when no open handoff matches.
var ErrNotFound = errors.New("handoff not found")

// JobStore is the narrow slice of the job queue the coordinator needs; it
// avoids a dependency on the full queue implementation.
type JobStore interface {
	MarkWaiting(ctx context.Context, id, workerID, reason string, checkpoint map[string]string) error
	MarkResumed(ctx context.Context, id, operator string) error
}

// Coordinator suspends and resumes blocked work. One coordinator is shared
// by the browser worker pool and the channel dispatcher, so both kinds of
// gate flow through a single mechanism.
type Coordinator struct {
	handoffs store.Set[model.Handoff]
	jobs     JobStore
	notifier notify.Notifier
	ledger   *ledger.Service
	log      *logrus.Entry
}

// New creates a coordinator.
func New(handoffs store.Set[model.Handoff], jobs JobStore, notifier notify.Notifier, auditLedger *ledger.Service) *Coordinator {
	if notifier == nil {
		notifier = notify.NewLogNotifier()
	}
	return &Coordinator{
		handoffs: handoffs,
		jobs:     jobs,
		notifier: notifier,
		ledger:   auditLedger,
		log:      logrus.WithField("component", "handoff"),
	}
}

// SuspendJob parks a running job on a detected gate: the job moves to
// WAITING_FOR_HUMAN with its checkpoint persisted, a durable handoff record
// is opened, and the operator is notified. The calling worker returns to the
// pool immediately afterwards.
func (c *Coordinator) SuspendJob(ctx context.Context, jobID, workerID, reason string, checkpoint map[string]string) error {
	if err := c.jobs.MarkWaiting(ctx, jobID, workerID, reason, checkpoint); err != nil {
		return err
	}
	return c.open(ctx, model.EntityJob, jobID, reason,
		fmt.Sprintf("resolve the gate, then resume job %s", jobID))
}

// ReportApprovalGate opens a handoff for an approval whose channel adapter
// reported a gate. The dispatcher skips approvals with an open handoff, so
// the record is not blind-retried on the next poll.
func (c *Coordinator) ReportApprovalGate(ctx context.Context, approvalID, reason string) error {
	return c.open(ctx, model.EntityApproval, approvalID, reason,
		fmt.Sprintf("resolve the gate, then mark handoff for approval %s resolved", approvalID))
}

// ResumeJob confirms human resolution: the handoff closes and the job moves
// WAITING_FOR_HUMAN -> RESUMED, from where any available worker continues it
// from the persisted checkpoint.
func (c *Coordinator) ResumeJob(ctx context.Context, jobID, operator string) error {
	if err := c.resolve(ctx, model.EntityJob, jobID, operator); err != nil {
		return err
	}
	return c.jobs.MarkResumed(ctx, jobID, operator)
}

// ResolveApproval closes the handoff blocking an approval, making it
// eligible for dispatch again.
func (c *Coordinator) ResolveApproval(ctx context.Context, approvalID, operator string) error {
	return c.resolve(ctx, model.EntityApproval, approvalID, operator)
}

// Blocked reports whether an open handoff exists for the entity.
func (c *Coordinator) Blocked(ctx context.Context, entityType, entityID string) (bool, error) {
	all, err := c.handoffs.Read(ctx)
	if err != nil {
		return false, err
	}
	for _, h := range all {
		if h.EntityType == entityType && h.EntityID == entityID && h.Status == model.HandoffOpen {
			return true, nil
		}
	}
	return false, nil
}

// ListOpen returns all open handoffs.
func (c *Coordinator) ListOpen(ctx context.Context) ([]*model.Handoff, error) {
	all, err := c.handoffs.Read(ctx)
	if err != nil {
		return nil, err
	}
	var out []*model.Handoff
	for _, h := range all {
		if h.Status == model.HandoffOpen {
			out = append(out, h)
		}
	}
	return out, nil
}

func (c *Coordinator) open(ctx context.Context, entityType, entityID, reason, instructions string) error {
	record := &model.Handoff{
		ID:           idgen.New(),
		EntityType:   entityType,
		EntityID:     entityID,
		Reason:       reason,
		Instructions: instructions,
		Status:       model.HandoffOpen,
		CreatedAt:    clock.Now(),
	}
	if err := c.handoffs.Append(ctx, record); err != nil {
		return err
	}
	if err := c.ledger.Record(ctx, model.EntityHandoff, record.ID, "", string(model.HandoffOpen), "coordinator",
		map[string]string{"entity": entityType + "/" + entityID, "reason": reason}); err != nil {
		return err
	}
	// Notification is fire-and-forget: a notifier failure never blocks the
	// transition that triggered it.
	if err := c.notifier.Notify(ctx, &notify.Notification{
		EntityType:   entityType,
		EntityID:     entityID,
		Reason:       reason,
		Instructions: instructions,
		CreatedAt:    clock.Now(),
	}); err != nil {
		c.log.WithError(err).WithField("entity", entityType+"/"+entityID).
			Warn("handoff notification failed")
	}
	return nil
}

func (c *Coordinator) resolve(ctx context.Context, entityType, entityID, operator string) error {
	var handoffID string
	n, err := c.handoffs.UpdateWhere(ctx,
		func(h *model.Handoff) bool {
			return h.EntityType == entityType && h.EntityID == entityID
		},
		func(h *model.Handoff) bool {
			if h.Status != model.HandoffOpen {
				return false
			}
			now := clock.Now()
			h.Status = model.HandoffResolved
			h.ResolvedBy = operator
			h.ResolvedAt = &now
			handoffID = h.ID
			return true
		})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return c.ledger.Record(ctx, model.EntityHandoff, handoffID,
		string(model.HandoffOpen), string(model.HandoffResolved), operator, nil)
}
