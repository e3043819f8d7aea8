package model

import "gorm.io/gorm"

// Chat message colors and formats understood by the room webhook.
const (
	ChatColorYellow = "yellow"
	ChatColorRed    = "red"
	ChatColorGreen  = "green"
	ChatColorPurple = "purple"
	ChatColorGray   = "gray"

	ChatFormatHTML = "html"
	ChatFormatText = "text"
)

// ChatMessage is the chat-channel transport: one row per message posted
// to a room webhook.
type ChatMessage struct {
	TransportRecord

	Room          int    `gorm:"index;not null" json:"room"`
	Color         string `gorm:"type:varchar(50);default:yellow" json:"color"`
	MessageFormat string `gorm:"type:varchar(50);default:html" json:"message_format"`
	ShouldNotify  bool   `gorm:"default:false" json:"should_notify"`
	FromName      string `gorm:"type:varchar(255)" json:"from_name"`
}

func (ChatMessage) TableName() string { return "chat_messages" }

func (m *ChatMessage) BeforeSave(tx *gorm.DB) error {
	m.EnsureGUID()
	m.DetermineTextBody()
	return nil
}

// Message picks the body matching the configured format.
func (m *ChatMessage) Message() string {
	if m.MessageFormat == ChatFormatHTML {
		return m.HTMLBody
	}
	return m.TextBody
}
