package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/craiglabenz/grapevine/internal/model"
)

type BackendRepository interface {
	GetOrCreateByName(ctx context.Context, name string) (*model.EmailBackendRecord, error)
	ByName(ctx context.Context, name string) (*model.EmailBackendRecord, error)
}

type backendRepository struct {
	db *gorm.DB
}

func NewBackendRepository(db *gorm.DB) BackendRepository { return &backendRepository{db: db} }

func (r *backendRepository) GetOrCreateByName(ctx context.Context, name string) (*model.EmailBackendRecord, error) {
	var rec model.EmailBackendRecord
	err := r.db.WithContext(ctx).
		Where(model.EmailBackendRecord{Name: name}).
		FirstOrCreate(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *backendRepository) ByName(ctx context.Context, name string) (*model.EmailBackendRecord, error) {
	var rec model.EmailBackendRecord
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}
