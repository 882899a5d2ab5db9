// Package notify defines the contract with the external alerting
// collaborator. Notification is fire-and-forget: a notifier failure never
// blocks the transition that triggered it and is logged rather than retried
// indefinitely.
package notify

import (
	"context"
	"time"
)

// Notification is a channel-agnostic alert raised by the engine.
type Notification struct {
	EntityType   string    `json:"entityType"`
	EntityID     string    `json:"entityId"`
	Reason       string    `json:"reason"`
	Instructions string    `json:"instructions,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Notifier delivers notifications to operators.
type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
}

// Func adapts a function to the Notifier interface.
type Func func(ctx context.Context, n *Notification) error

// Notify implements Notifier.
func (f Func) Notify(ctx context.Context, n *Notification) error { return f(ctx, n) }
