package domain

import (
	"time"
)

// EventKind is the closed set of provider-agnostic lifecycle signals. No logic
// downstream of the normalizer ever branches on provider identity.
type EventKind string

const (
	EventActivated        EventKind = "activated"
	EventPaymentFailed    EventKind = "payment_failed"
	EventCanceled         EventKind = "canceled"
	EventExpired          EventKind = "expired"
	EventManuallyVerified EventKind = "manually_verified"
)

// NormalizedEvent is the only input the subscription state machine accepts.
type NormalizedEvent struct {
	SubscriberID uint
	Kind         EventKind
	Provider     PaymentProvider
	// EventID is the provider-assigned idempotency token. For manual crypto
	// verification it is the admin action id.
	EventID    string
	ObservedAt time.Time
	// TruthStatus is the provider's own status string when it supplied one.
	TruthStatus string
}

// ProcessedEvent remembers a (provider, event id) pair so redelivered webhooks
// are applied at most once. The unique index is the authoritative dedup guard.
type ProcessedEvent struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	Provider     PaymentProvider `gorm:"type:varchar(20);not null;uniqueIndex:idx_provider_event,priority:1" json:"provider"`
	EventID      string          `gorm:"type:varchar(255);not null;uniqueIndex:idx_provider_event,priority:2" json:"event_id"`
	SubscriberID uint            `gorm:"index" json:"subscriber_id"`
	Kind         EventKind       `gorm:"type:varchar(30)" json:"kind"`
	CreatedAt    time.Time       `json:"created_at"`
}
