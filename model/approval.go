package model

import (
	"time"
)

// ApprovalStatus represents the lifecycle state of an outbound-action approval.
type ApprovalStatus string

const (
	ApprovalPending     ApprovalStatus = "pending"
	ApprovalApproved    ApprovalStatus = "approved"
	ApprovalRejected    ApprovalStatus = "rejected"
	ApprovalSent        ApprovalStatus = "sent"
	ApprovalFailed      ApprovalStatus = "failed"
	ApprovalOpened      ApprovalStatus = "approved_opened"
	ApprovalSentManual  ApprovalStatus = "sent_manual"
	ApprovalDispatching ApprovalStatus = "dispatching"
)

// approvalEdges enumerates every legal status transition. ApprovalDispatching
// is a transient claim marker held by a single dispatcher between the moment
// an approved record is claimed and the moment its terminal outcome is known;
// releasing a claim moves the record back to approved.
var approvalEdges = map[ApprovalStatus][]ApprovalStatus{
	ApprovalPending:     {ApprovalApproved, ApprovalRejected},
	ApprovalApproved:    {ApprovalSent, ApprovalFailed, ApprovalOpened, ApprovalDispatching, ApprovalPending},
	ApprovalOpened:      {ApprovalSentManual, ApprovalPending},
	ApprovalDispatching: {ApprovalSent, ApprovalFailed, ApprovalApproved},
}

// CanTransition reports whether moving from s to the target status is legal.
// Terminal states have no outgoing edges.
func (s ApprovalStatus) CanTransition(to ApprovalStatus) bool {
	for _, next := range approvalEdges[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status ends the approval lifecycle.
func (s ApprovalStatus) Terminal() bool {
	switch s {
	case ApprovalRejected, ApprovalSent, ApprovalFailed, ApprovalSentManual:
		return true
	}
	return false
}

// Approval represents one proposed outbound action awaiting or having
// received human sign-off. Drafts enter the system with status pending and
// are mutated only through the approval service, never in place.
type Approval struct {
	ID          string         `json:"id"`
	LeadID      string         `json:"leadId"`
	Channel     string         `json:"channel"`
	ActionType  string         `json:"actionType"`
	Content     string         `json:"content"`
	Destination string         `json:"destination"`
	Status      ApprovalStatus `json:"status"`
	Approver    string         `json:"approver,omitempty"`
	Notes       string         `json:"notes,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	ApprovedAt  *time.Time     `json:"approvedAt,omitempty"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// IdempotencyKey returns the stable key attached to every dispatch of this
// approval so that a logically repeated send has at most one visible effect.
func (a *Approval) IdempotencyKey() string {
	return "appr-" + a.ID
}
