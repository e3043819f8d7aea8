package model

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/craiglabenz/grapevine/pkg/emailaddr"
)

// Email is the grand central email table.
type Email struct {
	TransportRecord

	BackendID *uint               `gorm:"index" json:"backend_id,omitempty"`
	Backend   *EmailBackendRecord `gorm:"foreignKey:BackendID" json:"-"`

	FromEmail string `gorm:"type:varchar(255);index" json:"from_email"`
	ReplyTo   string `gorm:"type:varchar(255)" json:"reply_to"`
	Subject   string `gorm:"type:varchar(255)" json:"subject"`

	Recipients []EmailRecipient `gorm:"foreignKey:EmailID" json:"recipients,omitempty"`
	Variables  []EmailVariable  `gorm:"foreignKey:EmailID" json:"variables,omitempty"`
}

func (Email) TableName() string { return "emails" }

func (e *Email) BeforeSave(tx *gorm.DB) error {
	e.EnsureGUID()
	e.DetermineTextBody()
	return nil
}

// RecipientsOfType filters the preloaded recipient set.
func (e *Email) RecipientsOfType(t RecipientType) []string {
	var out []string
	for _, r := range e.Recipients {
		if r.Type == t {
			out = append(out, r.PrepareForEmail())
		}
	}
	return out
}

func (e *Email) To() []string  { return e.RecipientsOfType(RecipientTo) }
func (e *Email) CC() []string  { return e.RecipientsOfType(RecipientCC) }
func (e *Email) BCC() []string { return e.RecipientsOfType(RecipientBCC) }

// Variable returns the value of a tracking variable, "" when absent.
func (e *Email) Variable(key string) (string, bool) {
	for _, v := range e.Variables {
		if v.Key == key {
			return v.Value, true
		}
	}
	return "", false
}

// HasEvent reports whether any catalog event with the given name has
// been recorded against this email.
func (e *Email) HasEvent(ctx context.Context, db *gorm.DB, eventName string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&EmailEvent{}).
		Joins("JOIN events ON events.id = email_events.event_id").
		Where("email_events.email_id = ? AND events.name = ?", e.ID, eventName).
		Count(&n).Error
	return n > 0, err
}

func (e *Email) IsOpened(ctx context.Context, db *gorm.DB) (bool, error) {
	return e.HasEvent(ctx, db, EventOpen)
}

func (e *Email) IsClicked(ctx context.Context, db *gorm.DB) (bool, error) {
	return e.HasEvent(ctx, db, EventClick)
}

func (e *Email) IsSpam(ctx context.Context, db *gorm.DB) (bool, error) {
	return e.HasEvent(ctx, db, EventSpamReport)
}

// RecipientType distinguishes To/CC/BCC rows.
type RecipientType int

const (
	RecipientTo RecipientType = iota + 1
	RecipientCC
	RecipientBCC
)

type EmailRecipient struct {
	ID      uint          `gorm:"primaryKey" json:"id"`
	EmailID uint          `gorm:"index;not null" json:"email_id"`
	Address string        `gorm:"type:varchar(254);index;not null" json:"address"`
	Domain  string        `gorm:"type:varchar(100);index" json:"domain"`
	Name    string        `gorm:"type:varchar(150)" json:"name"`
	Type    RecipientType `gorm:"default:1" json:"type"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (EmailRecipient) TableName() string { return "email_recipients" }

func (r *EmailRecipient) BeforeSave(tx *gorm.DB) error {
	if r.Domain == "" {
		r.Domain = emailaddr.Domain(r.Address)
	}
	return nil
}

// PrepareForEmail renders the recipient back into wire form.
func (r *EmailRecipient) PrepareForEmail() string {
	return emailaddr.Format(r.Name, r.Address)
}

// EmailVariable carries per-email provider flags: unsubscribe-link
// suppression, click/open tracking, utm tags.
type EmailVariable struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	EmailID uint   `gorm:"index;not null" json:"email_id"`
	Key     string `gorm:"type:varchar(100);index" json:"key"`
	Value   string `gorm:"type:varchar(5000)" json:"value"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (EmailVariable) TableName() string { return "email_variables" }

// Well-known variable keys understood by the provider backends.
const (
	VarShowUnsubscribeLink = "should_show_unsubscribe_link"
	VarTrackClicks         = "should_track_clicks"
	VarTrackOpens          = "should_track_opens"
)

// EmailBackendRecord identifies a delivery provider. Event webhooks
// resolve against this table; credentials here override config values.
type EmailBackendRecord struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Name     string `gorm:"type:varchar(255);uniqueIndex;not null" json:"name"`
	Username string `gorm:"type:varchar(255)" json:"-"`
	Password string `gorm:"type:varchar(255)" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (EmailBackendRecord) TableName() string { return "email_backends" }
