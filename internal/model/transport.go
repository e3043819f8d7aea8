package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/jaytaylor/html2text"
)

// Status is the delivery lifecycle of a transport row. Values match the
// original schema so existing rows stay readable.
type Status int

const (
	StatusSent Status = iota + 1
	StatusUnsent
	StatusFailed
	StatusSendTimeError
	StatusNewsletter
	StatusDuplicate
	StatusUnsubscribed
)

func (s Status) String() string {
	switch s {
	case StatusSent:
		return "Sent"
	case StatusUnsent:
		return "Unsent"
	case StatusFailed:
		return "Failed"
	case StatusSendTimeError:
		return "Send-time Error"
	case StatusNewsletter:
		return "Newsletter"
	case StatusDuplicate:
		return "Duplicate"
	case StatusUnsubscribed:
		return "Unsubscribed"
	}
	return "Unknown"
}

// Terminal reports whether the status ends the send state machine.
func (s Status) Terminal() bool {
	return s != StatusUnsent
}

// TransportRecord holds the fields shared by every transport table
// (emails, chat_messages). Concrete transports embed it.
type TransportRecord struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	GUID     string `gorm:"type:varchar(36);index" json:"guid"`
	HTMLBody string `gorm:"type:text" json:"html_body"`
	TextBody string `gorm:"type:text" json:"text_body"`
	Status   Status `gorm:"index;default:2" json:"status"`

	SentAt *time.Time `gorm:"index" json:"sent_at,omitempty"`
	// CommunicationTime is the wall-clock duration of the provider call,
	// in seconds.
	CommunicationTime *float64 `json:"communication_time,omitempty"`
	IsTest            bool     `gorm:"index" json:"is_test"`

	// Log is the append-only operational journal. Only ever written
	// through AppendToLog and AppendLogLocal.
	Log string `gorm:"type:text" json:"-"`

	// Back-reference to the sendable this transport was minted for.
	// Empty for test sends and direct sends.
	SendableType string `gorm:"type:varchar(100);index" json:"sendable_type,omitempty"`
	SendableID   uint   `gorm:"index" json:"sendable_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EnsureGUID lazily mints the provider-correlation key. Called from the
// concrete transports' save hooks so a row never leaves the process
// without one.
func (t *TransportRecord) EnsureGUID() {
	if t.GUID == "" {
		t.GUID = uuid.New().String()
	}
}

// DetermineTextBody derives the plain-text body from HTML when no
// explicit one was supplied. The result is persisted, so the conversion
// runs at most once per row.
func (t *TransportRecord) DetermineTextBody() {
	if t.TextBody != "" || t.HTMLBody == "" {
		return
	}
	if text, err := html2text.FromString(t.HTMLBody); err == nil {
		t.TextBody = text
	}
}

// LogText / SetLogText satisfy the Loggable contract used by AppendToLog.
func (t *TransportRecord) LogText() string     { return t.Log }
func (t *TransportRecord) SetLogText(s string) { t.Log = s }

// Record gives generic transport code access to the shared columns of a
// concrete transport (promoted through embedding).
func (t *TransportRecord) Record() *TransportRecord { return t }
