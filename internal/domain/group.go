package domain

import (
	"time"
)

// GroupSlot is a named time-of-day broadcast point (e.g. morning 08:00) with an
// optional message template used when the admin supplies no body.
type GroupSlot struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	GroupID  uint   `gorm:"not null;index" json:"group_id"`
	Name     string `gorm:"type:varchar(50);not null" json:"name"`
	Hour     int    `gorm:"not null" json:"hour"`
	Minute   int    `gorm:"not null" json:"minute"`
	Template string `gorm:"type:text" json:"template,omitempty"`
}

// ServiceGroup is read-only input to the delivery window calculator. Groups are
// mutated by administrative collaborators, never by the scheduling core.
type ServiceGroup struct {
	ID          uint        `gorm:"primaryKey" json:"id"`
	Name        string      `gorm:"type:varchar(100);not null;uniqueIndex" json:"name"`
	Description string      `gorm:"type:text" json:"description,omitempty"`
	IsActive    bool        `gorm:"not null;default:true" json:"is_active"`
	Slots       []GroupSlot `gorm:"foreignKey:GroupID" json:"slots"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   *time.Time  `json:"updated_at"`
}

// Slot returns the named slot, if the group defines it.
func (g *ServiceGroup) Slot(name string) (GroupSlot, bool) {
	for _, s := range g.Slots {
		if s.Name == name {
			return s, true
		}
	}
	return GroupSlot{}, false
}

type DepositStatus string

const (
	DepositPending  DepositStatus = "pending"
	DepositApproved DepositStatus = "approved"
	DepositRejected DepositStatus = "rejected"
)

// PendingDeposit is a manual crypto payment awaiting human verification. The
// normalizer emits a ManuallyVerified event only after an admin-supplied
// transaction reference matches this record's expected amount and currency.
type PendingDeposit struct {
	ID           uint `gorm:"primaryKey" json:"id"`
	SubscriberID uint `gorm:"not null;index" json:"subscriber_id"`

	Currency        string  `gorm:"type:varchar(10);not null" json:"currency"`
	Amount          float64 `gorm:"not null" json:"amount"`
	WalletAddress   string  `gorm:"type:varchar(255);not null" json:"wallet_address"`
	TransactionHash string  `gorm:"type:varchar(255)" json:"transaction_hash,omitempty"`

	Status     DepositStatus `gorm:"type:varchar(20);not null;default:pending" json:"status"`
	AdminNotes string        `gorm:"type:text" json:"admin_notes,omitempty"`
	ReviewedBy string        `gorm:"type:varchar(255)" json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time    `json:"reviewed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
