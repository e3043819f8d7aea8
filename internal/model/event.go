package model

import (
	"time"

	"gorm.io/gorm"

	"github.com/craiglabenz/grapevine/pkg/emailaddr"
)

// RawEvent stores a provider webhook payload verbatim, before any
// interpretation. Created synchronously at intake; mutated exactly once
// by the async processor; never deleted.
type RawEvent struct {
	ID        uint                `gorm:"primaryKey" json:"id"`
	BackendID uint                `gorm:"index;not null" json:"backend_id"`
	Backend   *EmailBackendRecord `gorm:"foreignKey:BackendID" json:"-"`

	Payload string `gorm:"type:text" json:"payload"`

	ProcessedOn *time.Time `json:"processed_on,omitempty"`
	// ProcessedIn is the parse duration in seconds.
	ProcessedIn *float64 `json:"processed_in,omitempty"`
	IsQueued    bool     `gorm:"index" json:"is_queued"`

	// Providers do not reliably send payloads matching their own
	// documentation. Nil means "not yet known".
	IsBroken *bool `gorm:"index" json:"is_broken,omitempty"`

	RemoteIP string `gorm:"type:varchar(45);index" json:"remote_ip"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (RawEvent) TableName() string { return "raw_events" }

// Event is static catalog data naming a kind of delivery occurrence.
// Seeded by the operator; ShouldStopSending marks suppressing kinds
// (bounce, spam report, unsubscribe).
type Event struct {
	ID                uint   `gorm:"primaryKey" json:"id"`
	Name              string `gorm:"type:varchar(100);uniqueIndex;not null" json:"name"`
	ShouldStopSending bool   `json:"should_stop_sending"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Event) TableName() string { return "events" }

// EmailEvent joins an email, a catalog event and the raw payload that
// reported it. Created idempotently on its natural key; immutable after.
type EmailEvent struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	EmailID    uint      `gorm:"index;not null" json:"email_id"`
	EventID    uint      `gorm:"index;not null" json:"event_id"`
	RawEventID uint      `gorm:"index;not null" json:"raw_event_id"`
	HappenedAt time.Time `gorm:"index;not null" json:"happened_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (EmailEvent) TableName() string { return "email_events" }

// UnsubscribedAddress is append-only; the unsubscribe filter consults it
// on every send.
type UnsubscribedAddress struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	Address string `gorm:"type:varchar(255);index;not null" json:"address"`
	// Optional link back to the email during whose lifecycle the
	// unsubscribe was recorded.
	EmailID *uint `gorm:"index" json:"email_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (UnsubscribedAddress) TableName() string { return "unsubscribed_addresses" }

// BeforeSave strips "Name <addr>" formatting down to the bare address so
// filter lookups only ever compare raw addresses.
func (u *UnsubscribedAddress) BeforeSave(tx *gorm.DB) error {
	_, addr, err := emailaddr.Parse(u.Address)
	if err != nil {
		return err
	}
	u.Address = addr
	return nil
}
