package dispatch

import (
	"context"
	"time"
)

// SendStatus tags a channel adapter result.
type SendStatus string

const (
	SendStatusSent        SendStatus = "sent"
	SendStatusFailed      SendStatus = "failed"
	SendStatusBlockedGate SendStatus = "blocked_gate"
	SendStatusRateLimited SendStatus = "rate_limited"
	SendStatusAuthExpired SendStatus = "auth_expired"
)

// SendResult is the adapter's report for one send attempt.
type SendResult struct {
	Status            SendStatus    `json:"status"`
	ProviderMessageID string        `json:"providerMessageId,omitempty"`
	Reason            string        `json:"reason,omitempty"`
	RetryAfter        time.Duration `json:"retryAfter,omitempty"`
}

// ChannelAdapter is the external component performing the actual send on one
// communication surface. The core applies its own compare-and-set guard
// regardless of any adapter-side idempotency assumptions.
type ChannelAdapter interface {
	// Send delivers content to destination. idempotencyKey is stable across
	// retries of the same approval, so a correct adapter delivers at most
	// once per key.
	Send(ctx context.Context, destination, content, idempotencyKey string) (*SendResult, error)

	// Delivered reports whether the adapter's own delivery log already
	// shows success for the key. Consulted after a transport error before
	// any retry, so a send that succeeded but whose response was lost is
	// not repeated.
	Delivered(ctx context.Context, idempotencyKey string) (bool, error)
}
