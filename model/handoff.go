package model

import (
	"time"
)

// HandoffStatus represents the state of a human-handoff record.
type HandoffStatus string

const (
	HandoffOpen     HandoffStatus = "open"
	HandoffResolved HandoffStatus = "resolved"
)

// Handoff is a durable record of a job or approval blocked on a human
// intervention (CAPTCHA, 2FA, unexpected login wall). While a handoff for an
// entity is open, no automated retry of that entity may occur.
type Handoff struct {
	ID           string        `json:"id"`
	EntityType   string        `json:"entityType"`
	EntityID     string        `json:"entityId"`
	Reason       string        `json:"reason"`
	Instructions string        `json:"instructions,omitempty"`
	Status       HandoffStatus `json:"status"`
	ResolvedBy   string        `json:"resolvedBy,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	ResolvedAt   *time.Time    `json:"resolvedAt,omitempty"`
}
