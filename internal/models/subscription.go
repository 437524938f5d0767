package models

import (
	"github.com/google/uuid"
)

// Subscription lifecycle states. A subscription is created active and moves to
// exactly one terminal state; terminal states are final.
const (
	SubscriptionActive    = "active"
	SubscriptionTriggered = "triggered"
	SubscriptionExpired   = "expired"
	SubscriptionCancelled = "cancelled"
	SubscriptionFailed    = "failed"
)

// Subscription is a standing condition registered by a wallet: when the
// condition evaluates true against data fetched for Target with Params, a
// signed notification is delivered to WebhookURL exactly once.
type Subscription struct {
	ID          uuid.UUID      `json:"id"`
	Wallet      string         `json:"user_wallet"`
	Target      string         `json:"target"`
	Params      map[string]any `json:"params"`
	Condition   string         `json:"condition"`
	WebhookURL  string         `json:"webhook_url"`
	Status      string         `json:"status"`
	CreatedAt   int64          `json:"created_at"`
	TriggeredAt *int64         `json:"triggered_at"`
	ExpiresAt   int64          `json:"expires_at"`
}

// Terminal reports whether the subscription can never fire again.
func (s *Subscription) Terminal() bool {
	return s.Status != SubscriptionActive
}
