package repository

import (
	"errors"

	"github.com/dailylift/dailylift/internal/domain"
	"gorm.io/gorm"
)

// Repository reads service groups. Groups are administered elsewhere; the
// scheduling core only consumes them.
type Repository interface {
	GetByID(id uint) (*domain.ServiceGroup, error)
	List() ([]domain.ServiceGroup, error)
}

type repo struct {
	db *gorm.DB
}

func NewGroupRepository(db *gorm.DB) Repository {
	return &repo{db: db}
}

func (r *repo) GetByID(id uint) (*domain.ServiceGroup, error) {
	var group domain.ServiceGroup
	if err := r.db.Preload("Slots").First(&group, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrGroupNotFound
		}
		return nil, err
	}
	return &group, nil
}

func (r *repo) List() ([]domain.ServiceGroup, error) {
	var groups []domain.ServiceGroup
	err := r.db.Preload("Slots").Order("id").Find(&groups).Error
	return groups, err
}
