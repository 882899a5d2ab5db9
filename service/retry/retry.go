// Package retry classifies job and dispatch failures and decides bounded
// recovery. Failures are tagged values, never exceptions-as-control-flow;
// every retry path has an explicit maximum attempt count and a terminal
// failed branch. An unbounded retry loop is a defect, not a behaviour.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sentbridge/outreach/service/store"
)

// Category tags a classified failure.
type Category string

const (
	AuthExpired     Category = "AUTH_EXPIRED"
	SelectorDrift   Category = "SELECTOR_DRIFT"
	NetworkTimeout  Category = "NETWORK_TIMEOUT"
	RateLimit       Category = "RATE_LIMIT"
	BlockedGate     Category = "BLOCKED_GATE"
	StoreContention Category = "STORE_CONTENTION"
	Unknown         Category = "UNKNOWN"
)

// Error carries a failure category alongside the underlying cause.
type Error struct {
	Category Category
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError tags err with a category.
func NewError(category Category, err error) *Error {
	return &Error{Category: category, Err: err}
}

// Classify extracts the failure category from err. Store errors map onto the
// taxonomy by kind; untagged errors are Unknown.
func Classify(err error) Category {
	if err == nil {
		return ""
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Category
	}
	switch store.KindOf(err) {
	case store.KindContention:
		return StoreContention
	case store.KindIO:
		return StoreContention
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NetworkTimeout
	}
	return Unknown
}

// Action is the recovery chosen for a classified failure.
type Action int

const (
	// ActionFail moves the entity to its terminal failed state.
	ActionFail Action = iota
	// ActionRetry requeues with the decision's delay.
	ActionRetry
	// ActionFallback grants exactly one attempt with the fallback strategy.
	ActionFallback
	// ActionHandoff routes to the human handoff coordinator. Gates are never
	// auto-retried; bypassing one is a policy violation, not a failure.
	ActionHandoff
)

// Decision is the outcome of consulting the policy table.
type Decision struct {
	Action Action
	Delay  time.Duration
}

// Policy is the bounded recovery table.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy returns the standard recovery policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    2 * time.Minute,
	}
}

// Next decides recovery for a failure of the given category observed on the
// given zero-based attempt. retryAfter is an optional provider hint honoured
// for rate limits.
func (p Policy) Next(category Category, attempt int, retryAfter time.Duration) Decision {
	switch category {
	case BlockedGate, AuthExpired:
		return Decision{Action: ActionHandoff}
	case NetworkTimeout, StoreContention:
		if attempt+1 >= p.MaxAttempts {
			return Decision{Action: ActionFail}
		}
		return Decision{Action: ActionRetry, Delay: p.Backoff(attempt)}
	case RateLimit:
		if attempt+1 >= p.MaxAttempts {
			return Decision{Action: ActionFail}
		}
		delay := p.Backoff(attempt)
		if retryAfter > delay {
			delay = retryAfter
		}
		return Decision{Action: ActionRetry, Delay: delay}
	case SelectorDrift:
		if attempt == 0 {
			return Decision{Action: ActionFallback}
		}
		return Decision{Action: ActionFail}
	default: // Unknown
		if attempt == 0 {
			return Decision{Action: ActionRetry, Delay: p.BaseDelay}
		}
		return Decision{Action: ActionFail}
	}
}

// Backoff returns the exponential delay for a zero-based attempt, capped at
// MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}
