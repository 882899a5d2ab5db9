// Package browser defines the contract with the external browser-automation
// collaborator. The collaborator executes one deterministic flow and reports
// a tagged outcome; gate detection (CAPTCHA, 2FA, login walls) is entirely
// its responsibility, the core only reacts to the tag it reports.
package browser

import (
	"context"

	"github.com/sentbridge/outreach/service/retry"
)

// JobSpec describes one flow run handed to the collaborator.
type JobSpec struct {
	JobID      string            `json:"jobId"`
	Type       string            `json:"type"`
	Target     string            `json:"target"`
	Payload    map[string]string `json:"payload,omitempty"`
	Checkpoint map[string]string `json:"checkpoint,omitempty"`
	// Fallback requests the alternative flow strategy after selector drift.
	Fallback bool `json:"fallback,omitempty"`
}

// OutcomeKind tags the result of a flow run.
type OutcomeKind string

const (
	OutcomeSuccess      OutcomeKind = "success"
	OutcomeGateDetected OutcomeKind = "gate_detected"
	OutcomeError        OutcomeKind = "error"
)

// Outcome is the collaborator's report for one flow run.
type Outcome struct {
	Kind OutcomeKind `json:"kind"`

	// GateReason describes the detected gate when Kind is gate_detected.
	GateReason string `json:"gateReason,omitempty"`

	// Category classifies the failure when Kind is error.
	Category retry.Category `json:"category,omitempty"`
	Message  string         `json:"message,omitempty"`

	// Checkpoint is resumable progress state, persisted with the job before
	// the worker releases its slot.
	Checkpoint map[string]string `json:"checkpoint,omitempty"`

	// Extracted holds structured data produced by extraction flows.
	Extracted map[string]string `json:"extracted,omitempty"`
	Artifacts []string          `json:"artifacts,omitempty"`
}

// Service runs browser flows.
type Service interface {
	RunFlow(ctx context.Context, spec *JobSpec) (*Outcome, error)
}
