package domain

import (
	"time"
)

type SubscriptionStatus string

const (
	StatusPending  SubscriptionStatus = "pending"
	StatusActive   SubscriptionStatus = "active"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
	StatusExpired  SubscriptionStatus = "expired"
)

// Terminal reports whether the status allows no further transitions.
// A terminal subscriber must re-onboard with a fresh record to resume.
func (s SubscriptionStatus) Terminal() bool {
	return s == StatusCanceled || s == StatusExpired
}

type DeliveryPreference string

const (
	// PreferOnDemand subscribers pull messages themselves and are never broadcast to.
	PreferOnDemand DeliveryPreference = "on_demand"
	// PreferScheduled subscribers receive slot times interpreted as UTC.
	PreferScheduled DeliveryPreference = "scheduled"
	// PreferScheduledTimezone subscribers receive slot times in their local timezone.
	PreferScheduledTimezone DeliveryPreference = "scheduled_timezone"
)

type PaymentProvider string

const (
	ProviderCard      PaymentProvider = "card"
	ProviderAgreement PaymentProvider = "agreement"
	ProviderCrypto    PaymentProvider = "crypto"
)

// ProviderBinding is the single payment-provider reference that is authoritative
// for a subscriber's billing truth. At most one of the reference columns is set;
// the zero value means no binding.
type ProviderBinding struct {
	Provider     PaymentProvider `gorm:"type:varchar(20)" json:"provider,omitempty"`
	CardRef      string          `gorm:"type:varchar(255);index" json:"card_ref,omitempty"`
	AgreementRef string          `gorm:"type:varchar(255);index" json:"agreement_ref,omitempty"`
	CryptoRef    string          `gorm:"type:varchar(255);index" json:"crypto_ref,omitempty"`
	Confirmed    bool            `json:"confirmed"`
}

// None reports whether the subscriber has no provider binding.
func (b ProviderBinding) None() bool {
	return b.Provider == ""
}

// Ref returns the provider-specific reference for the bound provider.
func (b ProviderBinding) Ref() string {
	switch b.Provider {
	case ProviderCard:
		return b.CardRef
	case ProviderAgreement:
		return b.AgreementRef
	case ProviderCrypto:
		return b.CryptoRef
	}
	return ""
}

// NewProviderBinding builds a binding with exactly one reference populated.
func NewProviderBinding(provider PaymentProvider, ref string) ProviderBinding {
	b := ProviderBinding{Provider: provider}
	switch provider {
	case ProviderCard:
		b.CardRef = ref
	case ProviderAgreement:
		b.AgreementRef = ref
	case ProviderCrypto:
		b.CryptoRef = ref
	}
	return b
}

type Subscriber struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	PhoneNumber string `gorm:"type:varchar(20);not null;uniqueIndex" json:"phone_number"`
	Carrier     string `gorm:"type:varchar(50);not null" json:"carrier"`
	Name        string `gorm:"type:varchar(255)" json:"name,omitempty"`
	Email       string `gorm:"type:varchar(255)" json:"email,omitempty"`

	// TimezoneOffsetMinutes is minutes east of UTC. Nil means the subscriber
	// never supplied timezone data.
	TimezoneOffsetMinutes *int   `json:"timezone_offset_minutes"`
	TimezoneLabel         string `gorm:"type:varchar(50)" json:"timezone_label,omitempty"`

	DeliveryPreference DeliveryPreference `gorm:"type:varchar(50);not null;default:scheduled" json:"delivery_preference"`
	Status             SubscriptionStatus `gorm:"type:varchar(20);not null;default:pending;index" json:"status"`

	Binding ProviderBinding `gorm:"embedded;embeddedPrefix:binding_" json:"binding"`

	GroupID *uint `gorm:"index" json:"group_id,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
}
