// Package ledger provides the append-only audit trail. Every approval, job
// and handoff mutation emits exactly one event; events are never updated or
// deleted. The ledger is the canonical source for history reconstruction and
// for proving the zero-unauthorized-send invariant by inspection.
package ledger

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/sentbridge/outreach/internal/clock"
	"github.com/sentbridge/outreach/internal/idgen"
	"github.com/sentbridge/outreach/model"
	"github.com/sentbridge/outreach/service/store"
)

// Service appends and queries ledger events.
type Service struct {
	events store.Set[model.Event]
	log    *logrus.Entry
}

// New creates a ledger over the supplied event set.
func New(events store.Set[model.Event]) *Service {
	return &Service{
		events: events,
		log:    logrus.WithField("component", "ledger"),
	}
}

// Record appends one transition event. Append is the only write operation
// the ledger exposes.
func (s *Service) Record(ctx context.Context, entityType, entityID, from, to, actor string, metadata map[string]string) error {
	event := &model.Event{
		ID:         idgen.New(),
		EntityType: entityType,
		EntityID:   entityID,
		From:       from,
		To:         to,
		Actor:      actor,
		Metadata:   metadata,
		CreatedAt:  clock.Now(),
	}
	if err := s.events.Append(ctx, event); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"entity": entityType + "/" + entityID,
		"from":   from,
		"to":     to,
		"actor":  actor,
	}).Debug("transition recorded")
	return nil
}

// History returns all events for one entity in transition order.
func (s *Service) History(ctx context.Context, entityID string) ([]*model.Event, error) {
	all, err := s.events.Read(ctx)
	if err != nil {
		return nil, err
	}
	var out []*model.Event
	for _, event := range all {
		if event.EntityID == entityID {
			out = append(out, event)
		}
	}
	return out, nil
}

// UnauthorizedSends scans the ledger for sent or sent_manual approval events
// that are not covered by a preceding approved event for the same id,
// uninterrupted by a rejection or an edit-triggered reset to pending. The
// returned slice must always be empty; anything else is a stop-the-line
// defect, never an accepted behaviour.
func (s *Service) UnauthorizedSends(ctx context.Context) ([]*model.Event, error) {
	all, err := s.events.Read(ctx)
	if err != nil {
		return nil, err
	}
	authorized := map[string]bool{}
	var violations []*model.Event
	for _, event := range all {
		if event.EntityType != model.EntityApproval {
			continue
		}
		switch model.ApprovalStatus(event.To) {
		case model.ApprovalApproved:
			authorized[event.EntityID] = true
		case model.ApprovalRejected, model.ApprovalPending:
			authorized[event.EntityID] = false
		case model.ApprovalSent, model.ApprovalSentManual:
			if !authorized[event.EntityID] {
				violations = append(violations, event)
			}
		}
	}
	return violations, nil
}
