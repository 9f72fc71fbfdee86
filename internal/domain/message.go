package domain

import (
	"time"
)

type MessageStatus int

const (
	MessagePending MessageStatus = iota
	MessageProcessing
	MessageSent
	// MessageSkipped marks a message that was due for a subscriber who was no
	// longer active at dispatch time. It counts as sent-without-delivery and is
	// never retried.
	MessageSkipped
	// MessageFailed marks a message whose dispatch failed more times than the
	// configured maximum. Surfaced for operator review, never retried.
	MessageFailed
)

func (s MessageStatus) String() string {
	switch s {
	case MessagePending:
		return "pending"
	case MessageProcessing:
		return "processing"
	case MessageSent:
		return "sent"
	case MessageSkipped:
		return "skipped"
	case MessageFailed:
		return "failed"
	}
	return "unknown"
}

// ScheduledMessage is a durable record of one message owed to one subscriber
// at one absolute UTC instant. Once Sent is true the target instant and body
// are immutable; corrections require a new record.
type ScheduledMessage struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	SubscriberID uint   `gorm:"not null;index" json:"subscriber_id"`
	Body         string `gorm:"type:text;not null" json:"body"`
	ImageURL     string `gorm:"type:varchar(512)" json:"image_url,omitempty"`

	// ScheduledAt is the target absolute instant, always stored in UTC.
	ScheduledAt time.Time `gorm:"not null;index:idx_due,priority:2" json:"scheduled_at"`

	Status   int        `gorm:"type:int;not null;default:0" json:"status"`
	Sent     bool       `gorm:"not null;default:false;index:idx_due,priority:1" json:"sent"`
	SentAt   *time.Time `json:"sent_at"`
	Attempts int        `gorm:"not null;default:0" json:"attempts"`

	// Timezone snapshot of the subscriber at enqueue time, for audit display.
	TimezoneOffsetMinutes int    `gorm:"default:0" json:"timezone_offset_minutes"`
	TimezoneLabel         string `gorm:"type:varchar(50);default:UTC" json:"timezone_label"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
}
