package model

import "time"

// QueuedMessage is the queue ledger: a row exists exactly while a send
// attempt for the identified sendable is in flight. Eligibility queries
// exclude ledgered sendables, which is the sole guard against double
// dispatch under concurrent scheduler passes.
type QueuedMessage struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// (MessageType, MessageID) identify a sendable polymorphically;
	// MessageType is the channel registry name, not a transport table.
	MessageType string `gorm:"type:varchar(100);not null;uniqueIndex:ux_queued_type_id" json:"message_type"`
	MessageID   uint   `gorm:"not null;uniqueIndex:ux_queued_type_id" json:"message_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (QueuedMessage) TableName() string { return "queued_messages" }
