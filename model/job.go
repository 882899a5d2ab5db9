package model

import (
	"time"
)

// JobState represents the execution state of a browser-automation job.
type JobState string

const (
	JobQueued          JobState = "QUEUED"
	JobDispatched      JobState = "DISPATCHED"
	JobRunning         JobState = "RUNNING"
	JobWaitingForHuman JobState = "WAITING_FOR_HUMAN"
	JobResumed         JobState = "RESUMED"
	JobSucceeded       JobState = "SUCCEEDED"
	JobFailed          JobState = "FAILED"
	JobCancelled       JobState = "CANCELLED"
)

var jobEdges = map[JobState][]JobState{
	JobQueued:          {JobDispatched, JobCancelled},
	JobDispatched:      {JobRunning, JobQueued, JobCancelled},
	JobRunning:         {JobSucceeded, JobFailed, JobWaitingForHuman, JobQueued, JobCancelled},
	JobWaitingForHuman: {JobResumed, JobCancelled},
	JobResumed:         {JobDispatched, JobCancelled},
}

// CanTransition reports whether moving from s to the target state is legal.
func (s JobState) CanTransition(to JobState) bool {
	for _, next := range jobEdges[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state ends the job lifecycle.
func (s JobState) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCancelled:
		return true
	}
	return false
}

// Job is one deterministic browser-automation task: navigate, validate a
// session, execute a known flow, extract data or stage a draft for approval.
// Jobs never send directly; sends always pass through the approval service.
//
// A job object is worker-local while running; every transition is written
// back to the store before the next execution step, so no state exists only
// in memory across a suspension or crash.
type Job struct {
	ID             string            `json:"id"`
	Type           string            `json:"type"`
	Target         string            `json:"target"`
	CorrelationID  string            `json:"correlationId,omitempty"`
	Priority       int               `json:"priority,omitempty"`
	State          JobState          `json:"state"`
	AssignedWorker string            `json:"assignedWorker,omitempty"`
	Payload        map[string]string `json:"payload,omitempty"`
	Checkpoint     map[string]string `json:"checkpoint,omitempty"`
	Extracted      map[string]string `json:"extracted,omitempty"`
	RetryCount     int               `json:"retryCount"`
	FallbackUsed   bool              `json:"fallbackUsed,omitempty"`
	CancelWanted   bool              `json:"cancelWanted,omitempty"`
	LastError      string            `json:"lastError,omitempty"`
	LastErrorKind  string            `json:"lastErrorKind,omitempty"`
	RunAfter       *time.Time        `json:"runAfter,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}
