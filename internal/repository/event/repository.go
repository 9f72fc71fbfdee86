package repository

import (
	"github.com/dailylift/dailylift/internal/domain"
	"gorm.io/gorm"
)

// Repository reads the processed-event ledger. The record itself is written in
// the same transaction as the status change it belongs to, so a redelivery can
// never observe the event recorded but its effect missing.
type Repository interface {
	// Seen reports whether the (provider, event id) pair was already applied.
	Seen(provider domain.PaymentProvider, eventID string) (bool, error)
}

type repo struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) Repository {
	return &repo{db: db}
}

func (r *repo) Seen(provider domain.PaymentProvider, eventID string) (bool, error) {
	var count int64
	err := r.db.Model(&domain.ProcessedEvent{}).
		Where("provider = ? AND event_id = ?", provider, eventID).
		Count(&count).Error
	return count > 0, err
}
