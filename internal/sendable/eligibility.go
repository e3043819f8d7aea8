package sendable

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/craiglabenz/grapevine/internal/model"
)

// EligibleQuery loads the eligible rows of one channel model into dest
// (a *[]ConcreteModel). Eligible means: unsent, not cancelled, scheduled
// time reached, and no queue-ledger row in flight. The channel-specific
// IsSendable override is applied by the caller after loading, since it
// lives on the Go type.
func EligibleQuery(ctx context.Context, db *gorm.DB, typeName string, dest any) error {
	ledgered := db.Session(&gorm.Session{NewDB: true}).
		Model(&model.QueuedMessage{}).
		Select("message_id").
		Where("message_type = ?", typeName)

	return db.WithContext(ctx).
		Where("message_id IS NULL").
		Where("cancelled_at_send_time = ?", false).
		Where("scheduled_send_time <= ?", time.Now()).
		Where("id NOT IN (?)", ledgered).
		Find(dest).Error
}

// FilterSendable drops records whose channel override vetoes sending.
func FilterSendable(in []Sendable) []Sendable {
	out := in[:0]
	for _, s := range in {
		if s.IsSendable() {
			out = append(out, s)
		}
	}
	return out
}
