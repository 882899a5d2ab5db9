package approval

import (
	"context"
	"fmt"

	"github.com/sentbridge/outreach/internal/clock"
	"github.com/sentbridge/outreach/model"
)

// Claim is an exclusive dispatch claim on one approval. It is handed out
// only by BeginDispatch and must be settled exactly once via Sent, Failed or
// Release.
type Claim struct {
	svc      *Service
	approval model.Approval
	settled  bool

	// persisted is the outcome already written to the store when a settle
	// attempt failed on the ledger append. A retry skips the status CAS and
	// only re-appends the event.
	persisted model.ApprovalStatus
	updated   *model.Approval
}

// BeginDispatch atomically claims an approval for dispatch. The record must
// read exactly approved at claim time; the compare-and-set moves it to the
// transient dispatching marker so a concurrent claimer loses with
// ErrInvalidTransition. The returned claim carries a snapshot of the record
// taken inside the same atomic step, so the dispatcher never acts on a
// status cached across a suspension point.
func (s *Service) BeginDispatch(ctx context.Context, id string) (*Claim, error) {
	var snapshot model.Approval
	found := false
	n, err := s.approvals.UpdateWhere(ctx,
		func(a *model.Approval) bool {
			if a.ID != id {
				return false
			}
			found = true
			return true
		},
		func(a *model.Approval) bool {
			if a.Status != model.ApprovalApproved {
				return false
			}
			a.Status = model.ApprovalDispatching
			a.UpdatedAt = clock.Now()
			snapshot = *a
			return true
		})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: not approved at claim time", ErrInvalidTransition)
	}
	if err := s.ledger.Record(ctx, model.EntityApproval, id,
		string(model.ApprovalApproved), string(model.ApprovalDispatching), "dispatcher", nil); err != nil {
		// The record already sits on the transient marker but no claim is
		// handed out. Put it back so a later poll sees it again instead of
		// stranding it in a status nothing lists.
		if _, rerr := s.approvals.UpdateWhere(ctx,
			func(a *model.Approval) bool { return a.ID == id },
			func(a *model.Approval) bool {
				if a.Status != model.ApprovalDispatching {
					return false
				}
				a.Status = model.ApprovalApproved
				a.UpdatedAt = clock.Now()
				return true
			}); rerr != nil {
			s.log.WithError(rerr).WithField("approval", id).Error("claim rollback failed")
		}
		return nil, err
	}
	return &Claim{svc: s, approval: snapshot}, nil
}

// Approval returns the snapshot captured when the claim was taken.
func (c *Claim) Approval() *model.Approval {
	clone := c.approval
	return &clone
}

// IdempotencyKey returns the stable dispatch key for the claimed approval.
func (c *Claim) IdempotencyKey() string { return c.approval.IdempotencyKey() }

// Sent settles the claim as delivered.
func (c *Claim) Sent(ctx context.Context, providerMessageID string) error {
	var meta map[string]string
	if providerMessageID != "" {
		meta = map[string]string{"providerMessageId": providerMessageID}
	}
	return c.settle(ctx, model.ApprovalSent, meta)
}

// Failed settles the claim as terminally failed.
func (c *Claim) Failed(ctx context.Context, reason string) error {
	var meta map[string]string
	if reason != "" {
		meta = map[string]string{"reason": reason}
	}
	return c.settle(ctx, model.ApprovalFailed, meta)
}

// Release returns the record to approved without dispatching, e.g. when the
// channel reports a blocked gate. The approval stays eligible for a later
// claim once the blocking condition is resolved.
func (c *Claim) Release(ctx context.Context, reason string) error {
	var meta map[string]string
	if reason != "" {
		meta = map[string]string{"reason": reason}
	}
	return c.settle(ctx, model.ApprovalApproved, meta)
}

func (c *Claim) settle(ctx context.Context, to model.ApprovalStatus, meta map[string]string) error {
	if c.settled {
		return ErrNotClaimed
	}
	if c.persisted != "" && c.persisted != to {
		return fmt.Errorf("%w: claim already settled to %s", ErrInvalidTransition, c.persisted)
	}
	if c.persisted == "" {
		var updated *model.Approval
		n, err := c.svc.approvals.UpdateWhere(ctx,
			func(a *model.Approval) bool { return a.ID == c.approval.ID },
			func(a *model.Approval) bool {
				if a.Status != model.ApprovalDispatching {
					return false
				}
				a.Status = to
				a.UpdatedAt = clock.Now()
				if meta != nil {
					if note, ok := meta["reason"]; ok {
						a.Notes = note
					}
				}
				clone := *a
				updated = &clone
				return true
			})
		if err != nil {
			return err
		}
		if n == 0 {
			// An edit reset cannot touch a dispatching record; losing the marker
			// means the store was mutated outside the claim discipline.
			return fmt.Errorf("%w: dispatching marker lost for %s", ErrInvalidTransition, c.approval.ID)
		}
		c.persisted = to
		c.updated = updated
	}
	if err := c.svc.ledger.Record(ctx, model.EntityApproval, c.approval.ID,
		string(model.ApprovalDispatching), string(to), "dispatcher", meta); err != nil {
		// The status change is durable; the claim stays open so the caller
		// can re-settle, which retries only this append.
		return err
	}
	c.settled = true
	c.svc.publish(TopicDispatched, c.updated)
	return nil
}
