package approval

import (
	"errors"

	"github.com/sentbridge/outreach/model"
)

// Event topics published on every approval transition.
const (
	TopicCreated    = "approval.created"
	TopicDecided    = "approval.decided"
	TopicEdited     = "approval.edited"
	TopicDispatched = "approval.dispatched"
)

// Event is the fan-out envelope for approval transitions. Subscribers
// (dashboards, operator alerts) consume it from the service's queue.
type Event struct {
	Topic    string          `json:"topic"`
	Approval *model.Approval `json:"approval"`
}

var (
	// ErrNotFound is returned when no approval with the given id exists.
	ErrNotFound = errors.New("approval not found")

	// ErrInvalidTransition is returned when the requested transition is not
	// an edge of the approval state machine, including any attempt to move
	// a terminal record.
	ErrInvalidTransition = errors.New("invalid approval transition")

	// ErrNotClaimed is returned when a claim outcome is reported twice.
	ErrNotClaimed = errors.New("dispatch claim already settled")
)
