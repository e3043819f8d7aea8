package model

import "gorm.io/gorm"

// AutoMigrate creates or updates every messaging table. Schema migration
// mechanics beyond gorm's AutoMigrate are out of scope here.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&EmailBackendRecord{},
		&Email{},
		&EmailRecipient{},
		&EmailVariable{},
		&ChatMessage{},
		&QueuedMessage{},
		&RawEvent{},
		&Event{},
		&EmailEvent{},
		&UnsubscribedAddress{},
	)
}

// Standard catalog event names.
const (
	EventOpen        = "Open"
	EventClick       = "Click"
	EventBounce      = "Bounce"
	EventSpamReport  = "Spam Report"
	EventUnsubscribe = "Unsubscribe"
	EventDelivered   = "Delivered"
)

// SeedEventCatalog writes the standard event catalog rows if absent.
// Bounce, spam and unsubscribe events suppress future sends.
func SeedEventCatalog(db *gorm.DB) error {
	seed := []Event{
		{Name: EventOpen},
		{Name: EventClick},
		{Name: EventDelivered},
		{Name: EventBounce, ShouldStopSending: true},
		{Name: EventSpamReport, ShouldStopSending: true},
		{Name: EventUnsubscribe, ShouldStopSending: true},
	}
	for i := range seed {
		ev := seed[i]
		if err := db.Where(Event{Name: ev.Name}).
			Attrs(Event{ShouldStopSending: ev.ShouldStopSending}).
			FirstOrCreate(&ev).Error; err != nil {
			return err
		}
	}
	return nil
}
