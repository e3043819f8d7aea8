package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/craiglabenz/grapevine/internal/model"
	"github.com/craiglabenz/grapevine/pkg/emailaddr"
)

var ErrNotFound = gorm.ErrRecordNotFound

type EmailRepository interface {
	Create(ctx context.Context, email *model.Email) error
	Save(ctx context.Context, email *model.Email) error
	ByID(ctx context.Context, id uint) (*model.Email, error)
	ByGUID(ctx context.Context, guid string) (*model.Email, error)
	AddRecipient(ctx context.Context, emailID uint, raw string, typ model.RecipientType) error
	AddRecipients(ctx context.Context, emailID uint, recipients map[model.RecipientType][]string) error
	AddVariable(ctx context.Context, emailID uint, key, value string) error
}

type emailRepository struct {
	db *gorm.DB
}

func NewEmailRepository(db *gorm.DB) EmailRepository { return &emailRepository{db: db} }

func (r *emailRepository) Create(ctx context.Context, email *model.Email) error {
	return r.db.WithContext(ctx).Create(email).Error
}

func (r *emailRepository) Save(ctx context.Context, email *model.Email) error {
	return r.db.WithContext(ctx).Save(email).Error
}

func (r *emailRepository) ByID(ctx context.Context, id uint) (*model.Email, error) {
	var email model.Email
	err := r.db.WithContext(ctx).
		Preload("Recipients").Preload("Variables").Preload("Backend").
		First(&email, id).Error
	if err != nil {
		return nil, err
	}
	return &email, nil
}

func (r *emailRepository) ByGUID(ctx context.Context, guid string) (*model.Email, error) {
	var email model.Email
	err := r.db.WithContext(ctx).
		Preload("Recipients").Preload("Variables").
		Where("guid = ?", guid).First(&email).Error
	if err != nil {
		return nil, err
	}
	return &email, nil
}

// AddRecipient accepts either "Name <addr>" or bare-address form.
func (r *emailRepository) AddRecipient(ctx context.Context, emailID uint, raw string, typ model.RecipientType) error {
	name, addr, err := emailaddr.Parse(raw)
	if err != nil {
		return err
	}
	rec := model.EmailRecipient{EmailID: emailID, Name: name, Address: addr, Type: typ}
	return r.db.WithContext(ctx).Create(&rec).Error
}

func (r *emailRepository) AddRecipients(ctx context.Context, emailID uint, recipients map[model.RecipientType][]string) error {
	for typ, list := range recipients {
		for _, raw := range list {
			if err := r.AddRecipient(ctx, emailID, raw, typ); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *emailRepository) AddVariable(ctx context.Context, emailID uint, key, value string) error {
	v := model.EmailVariable{EmailID: emailID, Key: key, Value: value}
	return r.db.WithContext(ctx).Create(&v).Error
}

// IsNotFound reports whether err is the repository's not-found sentinel.
func IsNotFound(err error) bool { return errors.Is(err, gorm.ErrRecordNotFound) }
