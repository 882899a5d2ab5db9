package model

import (
	"time"
)

// Entity kinds recorded in the ledger.
const (
	EntityApproval = "approval"
	EntityJob      = "job"
	EntityHandoff  = "handoff"
)

// Event is one immutable ledger entry describing a single state transition
// of an approval, job or handoff. The ledger is append-only: events are
// never updated or deleted, making it the canonical source for audits.
type Event struct {
	ID         string            `json:"id"`
	EntityType string            `json:"entityType"`
	EntityID   string            `json:"entityId"`
	From       string            `json:"from,omitempty"`
	To         string            `json:"to"`
	Actor      string            `json:"actor,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}
