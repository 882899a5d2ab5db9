// Package approval implements the lifecycle of one outbound action from
// draft to terminal state.
//
// The hard invariant: dispatch to an external channel is legal only if the
// status reads exactly "approved" at dispatch time, and the claim itself
// atomically moves the record off approved so that two concurrent
// dispatchers can never both send. The only way to obtain dispatchable
// content is BeginDispatch, which performs that compare-and-set. A
// non-approved dispatch path is structurally impossible rather than a
// runtime check to forget.
package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sentbridge/outreach/internal/clock"
	"github.com/sentbridge/outreach/internal/idgen"
	"github.com/sentbridge/outreach/model"
	"github.com/sentbridge/outreach/service/ledger"
	"github.com/sentbridge/outreach/service/messaging"
	qmem "github.com/sentbridge/outreach/service/messaging/memory"
	"github.com/sentbridge/outreach/service/store"
)

// Service manages approval records.
type Service struct {
	approvals store.Set[model.Approval]
	ledger    *ledger.Service
	events    messaging.Queue[Event]
	log       *logrus.Entry
}

// New creates an approval service over the supplied record set.
func New(approvals store.Set[model.Approval], auditLedger *ledger.Service) *Service {
	return &Service{
		approvals: approvals,
		ledger:    auditLedger,
		events:    qmem.NewQueue[Event](qmem.DefaultConfig()),
		log:       logrus.WithField("component", "approval"),
	}
}

// Queue exposes the transition fan-out queue for subscribers.
func (s *Service) Queue() messaging.Queue[Event] { return s.events }

// Create registers a new draft with status pending. The draft content comes
// from the external generator; the status is forced regardless of input.
func (s *Service) Create(ctx context.Context, a *model.Approval) error {
	if a == nil {
		return fmt.Errorf("nil approval")
	}
	if a.ID == "" {
		a.ID = idgen.New()
	}
	now := clock.Now()
	a.Status = model.ApprovalPending
	a.CreatedAt = now
	a.UpdatedAt = now
	if err := s.approvals.Append(ctx, a); err != nil {
		return err
	}
	if err := s.ledger.Record(ctx, model.EntityApproval, a.ID, "", string(model.ApprovalPending), "draft-generator", nil); err != nil {
		return err
	}
	s.publish(TopicCreated, a)
	return nil
}

// Get returns one approval by id.
func (s *Service) Get(ctx context.Context, id string) (*model.Approval, error) {
	all, err := s.approvals.Read(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range all {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, ErrNotFound
}

// ListByStatus returns all approvals currently in the given status.
func (s *Service) ListByStatus(ctx context.Context, status model.ApprovalStatus) ([]*model.Approval, error) {
	all, err := s.approvals.Read(ctx)
	if err != nil {
		return nil, err
	}
	var out []*model.Approval
	for _, a := range all {
		if a.Status == status {
			out = append(out, a)
		}
	}
	return out, nil
}

// Approve moves a pending approval to approved. Exactly one of N concurrent
// approvers wins; the rest receive ErrInvalidTransition.
func (s *Service) Approve(ctx context.Context, id, approver string) error {
	return s.transition(ctx, id, model.ApprovalPending, model.ApprovalApproved, approver, "", func(a *model.Approval) {
		now := clock.Now()
		a.Approver = approver
		a.ApprovedAt = &now
	})
}

// Reject terminates a pending approval.
func (s *Service) Reject(ctx context.Context, id, approver, reason string) error {
	return s.transition(ctx, id, model.ApprovalPending, model.ApprovalRejected, approver, reason, func(a *model.Approval) {
		a.Approver = approver
		a.Notes = reason
	})
}

// MarkOpened records that an approved action was staged on a manual channel.
func (s *Service) MarkOpened(ctx context.Context, id, actor string) error {
	return s.transition(ctx, id, model.ApprovalApproved, model.ApprovalOpened, actor, "", nil)
}

// MarkSentManual records the human-confirmed completion of a manually staged
// action.
func (s *Service) MarkSentManual(ctx context.Context, id, actor string) error {
	return s.transition(ctx, id, model.ApprovalOpened, model.ApprovalSentManual, actor, "", nil)
}

// Edit replaces the draft content of a non-terminal approval and resets it
// to pending, invalidating any in-flight dispatch decision: the dispatcher
// re-reads status at claim time, so a reset record can no longer be claimed.
func (s *Service) Edit(ctx context.Context, id, content, actor string) error {
	var from model.ApprovalStatus
	var updated *model.Approval
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
			if a.Status.Terminal() || a.Status == model.ApprovalDispatching {
				from = a.Status
				return false
			}
			from = a.Status
			a.Content = content
			a.Status = model.ApprovalPending
			a.Approver = ""
			a.ApprovedAt = nil
			a.UpdatedAt = clock.Now()
			clone := *a
			updated = &clone
			return true
		})
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	if n == 0 {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, model.ApprovalPending)
	}
	if err := s.ledger.Record(ctx, model.EntityApproval, id, string(from), string(model.ApprovalPending), actor,
		map[string]string{"edited": "true"}); err != nil {
		return err
	}
	s.publish(TopicEdited, updated)
	return nil
}

// ReclaimStale returns dispatching records whose claim is older than
// olderThan to approved. A claimer that dies between claim and settle leaves
// the record on the transient marker, where no dispatch poll lists it; the
// sweep makes such a record eligible again so it still reaches exactly one
// terminal state.
func (s *Service) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := clock.Now().Add(-olderThan)
	var reclaimed []string
	n, err := s.approvals.UpdateWhere(ctx,
		func(a *model.Approval) bool { return a.Status == model.ApprovalDispatching },
		func(a *model.Approval) bool {
			if a.UpdatedAt.After(cutoff) {
				return false
			}
			a.Status = model.ApprovalApproved
			a.UpdatedAt = clock.Now()
			reclaimed = append(reclaimed, a.ID)
			return true
		})
	if err != nil {
		return 0, err
	}
	for _, id := range reclaimed {
		s.log.WithField("approval", id).Warn("reclaimed stale dispatch claim")
		if lerr := s.ledger.Record(ctx, model.EntityApproval, id,
			string(model.ApprovalDispatching), string(model.ApprovalApproved), "reclaimer",
			map[string]string{"reason": "stale claim"}); lerr != nil && err == nil {
			err = lerr
		}
	}
	return n, err
}

// transition performs one CAS edge move and records it.
func (s *Service) transition(ctx context.Context, id string, from, to model.ApprovalStatus, actor, note string, apply func(*model.Approval)) error {
	var updated *model.Approval
	var current model.ApprovalStatus
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
			current = a.Status
			if a.Status != from {
				return false
			}
			a.Status = to
			a.UpdatedAt = clock.Now()
			if apply != nil {
				apply(a)
			}
			clone := *a
			updated = &clone
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
	var meta map[string]string
	if note != "" {
		meta = map[string]string{"note": note}
	}
	if err := s.ledger.Record(ctx, model.EntityApproval, id, string(from), string(to), actor, meta); err != nil {
		return err
	}
	s.publish(TopicDecided, updated)
	s.log.WithFields(logrus.Fields{"approval": id, "from": from, "to": to}).Info("approval transitioned")
	return nil
}

func (s *Service) publish(topic string, a *model.Approval) {
	// Fan-out is best effort; transition durability lives in the store and
	// the ledger.
	_ = s.events.Publish(context.Background(), &Event{Topic: topic, Approval: a})
}
