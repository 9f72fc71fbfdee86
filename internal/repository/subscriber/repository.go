package repository

import (
	"errors"
	"fmt"

	"github.com/dailylift/dailylift/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository interface {
	Create(sub *domain.Subscriber) error
	GetByID(id uint) (*domain.Subscriber, error)
	GetByPhone(phone string) (*domain.Subscriber, error)
	GetByBinding(provider domain.PaymentProvider, ref string) (*domain.Subscriber, error)
	ListByGroupAndStatus(groupID uint, status domain.SubscriptionStatus) ([]domain.Subscriber, error)
	List() ([]domain.Subscriber, error)
	Save(sub *domain.Subscriber) error
	// SaveWithEvent persists a status transition and its dedup record in one
	// transaction. Returns false without saving when the (provider, event id)
	// pair was already recorded; the unique index makes the check race-safe.
	// Either both rows commit or neither does, so a redelivered event can
	// never be answered as a duplicate while its transition is missing.
	SaveWithEvent(sub *domain.Subscriber, ev *domain.ProcessedEvent) (bool, error)
	// Purge hard-deletes the subscriber and cascades to their scheduled
	// messages and pending deposits. Admin-only escape hatch; normal
	// cancellation retains the row for audit.
	Purge(id uint) error
	CountByStatus() (map[domain.SubscriptionStatus]int64, error)
}

type repo struct {
	db *gorm.DB
}

func NewSubscriberRepository(db *gorm.DB) Repository {
	return &repo{db: db}
}

func (r *repo) Create(sub *domain.Subscriber) error {
	return r.db.Create(sub).Error
}

func (r *repo) GetByID(id uint) (*domain.Subscriber, error) {
	var sub domain.Subscriber
	if err := r.db.First(&sub, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrSubscriberNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repo) GetByPhone(phone string) (*domain.Subscriber, error) {
	var sub domain.Subscriber
	if err := r.db.Where("phone_number = ?", phone).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrSubscriberNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repo) GetByBinding(provider domain.PaymentProvider, ref string) (*domain.Subscriber, error) {
	var column string
	switch provider {
	case domain.ProviderCard:
		column = "binding_card_ref"
	case domain.ProviderAgreement:
		column = "binding_agreement_ref"
	case domain.ProviderCrypto:
		column = "binding_crypto_ref"
	default:
		return nil, fmt.Errorf("unknown payment provider: %q", provider)
	}

	var sub domain.Subscriber
	err := r.db.Where("binding_provider = ? AND "+column+" = ?", provider, ref).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrSubscriberNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repo) ListByGroupAndStatus(groupID uint, status domain.SubscriptionStatus) ([]domain.Subscriber, error) {
	var subs []domain.Subscriber
	err := r.db.Where("group_id = ? AND status = ?", groupID, status).Find(&subs).Error
	return subs, err
}

func (r *repo) List() ([]domain.Subscriber, error) {
	var subs []domain.Subscriber
	err := r.db.Order("id").Find(&subs).Error
	return subs, err
}

func (r *repo) Save(sub *domain.Subscriber) error {
	return r.db.Save(sub).Error
}

func (r *repo) SaveWithEvent(sub *domain.Subscriber, ev *domain.ProcessedEvent) (bool, error) {
	applied := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "provider"},
				{Name: "event_id"},
			},
			DoNothing: true,
		}).Create(ev)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Redelivered event; leave the subscriber untouched.
			return nil
		}
		if err := tx.Save(sub).Error; err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

func (r *repo) Purge(id uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("subscriber_id = ?", id).Delete(&domain.ScheduledMessage{}).Error; err != nil {
			return err
		}
		if err := tx.Where("subscriber_id = ?", id).Delete(&domain.PendingDeposit{}).Error; err != nil {
			return err
		}
		return tx.Delete(&domain.Subscriber{}, id).Error
	})
}

func (r *repo) CountByStatus() (map[domain.SubscriptionStatus]int64, error) {
	type row struct {
		Status domain.SubscriptionStatus
		Total  int64
	}
	var rows []row
	err := r.db.Model(&domain.Subscriber{}).
		Select("status, count(*) as total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[domain.SubscriptionStatus]int64, len(rows))
	for _, rw := range rows {
		counts[rw.Status] = rw.Total
	}
	return counts, nil
}
