// Package sendable defines the capability contract a channel model must
// satisfy to be picked up by the scheduler, plus the shared scheduling
// state those models embed. Channel types are registered explicitly at
// startup; there is no reflection-driven discovery.
package sendable

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/craiglabenz/grapevine/internal/model"
)

// Kind names the transport channel a sendable binds to.
type Kind int

const (
	KindEmail Kind = iota + 1
	KindChat
)

// Recipients groups raw recipient strings ("Name <addr>" or bare) by slot.
type Recipients map[model.RecipientType][]string

// Sendable is the contract a channel model satisfies. The zero-effort
// defaults live on Defaults; models embed State for the scheduling
// columns and Defaults for the hooks they don't care about.
type Sendable interface {
	// PrimaryKey returns the row id. Zero means unsaved.
	PrimaryKey() uint
	// SendState exposes the embedded scheduling state.
	SendState() *State

	TransportKind() Kind
	Recipients() Recipients
	RawSubject() string

	// RenderBody produces the HTML body. It runs only after the
	// transport row exists, so viewOnSiteURL is already resolvable.
	RenderBody(viewOnSiteURL string) (string, error)

	// TemplateContext feeds placeholder rendering of subject/from/reply-to.
	TemplateContext() map[string]string

	// RawFromEmail / RawReplyTo return "" to accept the configured defaults.
	RawFromEmail() string
	RawReplyTo() string

	// IsSendable is the cheap channel-wide override applied after the
	// eligibility query.
	IsSendable() bool

	// ConfirmIndividualSendability is the final, possibly expensive,
	// per-record veto run immediately before dispatch. Implementations
	// returning false are encouraged to either push back
	// ScheduledSendTime or set CancelledAtSendTime.
	ConfirmIndividualSendability(ctx context.Context, db *gorm.DB) bool

	// AlterTransport is the last-second hook to decorate the transport
	// (tracking variables, tags) before dispatch.
	AlterTransport(ctx context.Context, db *gorm.DB, t Transport) error
}

// Transport is the channel-agnostic view of a concrete transport row
// (model.Email, model.ChatMessage).
type Transport interface {
	model.Loggable
	Record() *model.TransportRecord
}

// ChatDetails supplies the chat-only transport columns. Chat-kind
// sendables must implement it.
type ChatDetails interface {
	ChatRoom() int
	ChatColor() string
	ChatFromName() string
	ChatShouldNotify() bool
}

// State carries the scheduling columns every sendable table embeds.
type State struct {
	ScheduledSendTime   *time.Time `gorm:"index" json:"scheduled_send_time,omitempty"`
	CancelledAtSendTime bool       `json:"cancelled_at_send_time"`
	// MessageID links to the transport row once sent. Non-nil means
	// "sent": the record must never be resent except by force.
	MessageID *uint `gorm:"index" json:"message_id,omitempty"`
}

// IsSent reports whether a transport has been minted for this record.
func (s *State) IsSent() bool { return s.MessageID != nil }

// Cancel marks the record permanently ineligible.
func (s *State) Cancel() { s.CancelledAtSendTime = true }

// EnsureScheduled defaults the send time to now. Channel models call
// this from their BeforeCreate hook.
func (s *State) EnsureScheduled() {
	if s.ScheduledSendTime == nil {
		now := time.Now()
		s.ScheduledSendTime = &now
	}
}

// Defaults provides the no-op hook implementations.
type Defaults struct{}

func (Defaults) TemplateContext() map[string]string { return nil }
func (Defaults) RawFromEmail() string               { return "" }
func (Defaults) RawReplyTo() string                 { return "" }
func (Defaults) IsSendable() bool                   { return true }
func (Defaults) ConfirmIndividualSendability(context.Context, *gorm.DB) bool {
	return true
}
func (Defaults) AlterTransport(context.Context, *gorm.DB, Transport) error { return nil }
