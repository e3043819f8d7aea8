package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/craiglabenz/grapevine/internal/model"
)

type UnsubscribeRepository interface {
	Add(ctx context.Context, address string, emailID *uint) error
	IsUnsubscribed(ctx context.Context, address string) (bool, error)
}

type unsubscribeRepository struct {
	db *gorm.DB
}

func NewUnsubscribeRepository(db *gorm.DB) UnsubscribeRepository {
	return &unsubscribeRepository{db: db}
}

func (r *unsubscribeRepository) Add(ctx context.Context, address string, emailID *uint) error {
	row := model.UnsubscribedAddress{Address: address, EmailID: emailID}
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *unsubscribeRepository) IsUnsubscribed(ctx context.Context, address string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.UnsubscribedAddress{}).
		Where("address = ?", address).Count(&count).Error
	return count > 0, err
}
