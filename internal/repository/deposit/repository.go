package repository

import (
	"errors"
	"time"

	"github.com/dailylift/dailylift/internal/domain"
	"gorm.io/gorm"
)

type Repository interface {
	Create(dep *domain.PendingDeposit) error
	GetByID(id uint) (*domain.PendingDeposit, error)
	// GetPendingBySubscriber returns the subscriber's open deposit request, if any.
	GetPendingBySubscriber(subscriberID uint) (*domain.PendingDeposit, error)
	ListPending() ([]domain.PendingDeposit, error)
	Review(id uint, status domain.DepositStatus, txHash, notes, reviewedBy string, at time.Time) error
}

type repo struct {
	db *gorm.DB
}

func NewDepositRepository(db *gorm.DB) Repository {
	return &repo{db: db}
}

func (r *repo) Create(dep *domain.PendingDeposit) error {
	dep.Status = domain.DepositPending
	return r.db.Create(dep).Error
}

func (r *repo) GetByID(id uint) (*domain.PendingDeposit, error) {
	var dep domain.PendingDeposit
	if err := r.db.First(&dep, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrDepositNotFound
		}
		return nil, err
	}
	return &dep, nil
}

func (r *repo) GetPendingBySubscriber(subscriberID uint) (*domain.PendingDeposit, error) {
	var dep domain.PendingDeposit
	err := r.db.Where("subscriber_id = ? AND status = ?", subscriberID, domain.DepositPending).
		Order("created_at desc").First(&dep).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrDepositNotFound
		}
		return nil, err
	}
	return &dep, nil
}

func (r *repo) ListPending() ([]domain.PendingDeposit, error) {
	var deps []domain.PendingDeposit
	err := r.db.Where("status = ?", domain.DepositPending).Order("created_at").Find(&deps).Error
	return deps, err
}

func (r *repo) Review(id uint, status domain.DepositStatus, txHash, notes, reviewedBy string, at time.Time) error {
	at = at.UTC()
	updates := map[string]any{
		"status":      status,
		"admin_notes": notes,
		"reviewed_by": reviewedBy,
		"reviewed_at": &at,
	}
	if txHash != "" {
		updates["transaction_hash"] = txHash
	}
	return r.db.Model(&domain.PendingDeposit{}).
		Where("id = ? AND status = ?", id, domain.DepositPending).
		Updates(updates).Error
}
