package model

import (
	"time"
)

// Persisted record-set names. Each set carries a fixed, versioned schema;
// a version mismatch on read is a hard validation error, never coerced.
const (
	SetLeads     = "leads"
	SetApprovals = "approvals"
	SetJobs      = "jobs"
	SetEvents    = "events"
	SetContacts  = "contacts"
	SetDNC       = "dnc"
	SetHandoffs  = "handoffs"
)

// Lead is a prospect the platform reaches out to.
type Lead struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Company   string            `json:"company,omitempty"`
	Source    string            `json:"source,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	Attrs     map[string]string `json:"attrs,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Contact is a reachable address of a lead on one channel.
type Contact struct {
	ID        string    `json:"id"`
	LeadID    string    `json:"leadId"`
	Channel   string    `json:"channel"`
	Address   string    `json:"address"`
	Verified  bool      `json:"verified,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// DNCEntry marks a destination that must never be contacted. The dispatch
// policy gate consults this set before any claim is made.
type DNCEntry struct {
	ID          string    `json:"id"`
	Destination string    `json:"destination"`
	Channel     string    `json:"channel,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	AddedAt     time.Time `json:"addedAt"`
}
