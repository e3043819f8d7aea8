package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/craiglabenz/grapevine/internal/model"
)

// QueueRepository manages the queue ledger. A ledger row's lifetime is
// exactly "send attempt in flight".
type QueueRepository interface {
	// Denote writes the ledger row, idempotently. created is false when
	// the row already existed, meaning another pass owns the record.
	Denote(ctx context.Context, messageType string, messageID uint) (created bool, err error)
	// Remove deletes the ledger row once the attempt concludes.
	Remove(ctx context.Context, messageType string, messageID uint) error
	Exists(ctx context.Context, messageType string, messageID uint) (bool, error)
	// IDsForType returns every ledgered sendable id for a channel type,
	// for use as an eligibility exclusion set.
	IDsForType(ctx context.Context, messageType string) ([]uint, error)
}

type queueRepository struct {
	db *gorm.DB
}

func NewQueueRepository(db *gorm.DB) QueueRepository { return &queueRepository{db: db} }

func (r *queueRepository) Denote(ctx context.Context, messageType string, messageID uint) (bool, error) {
	row := model.QueuedMessage{MessageType: messageType, MessageID: messageID}
	// The unique (type, id) index makes a racing second writer a no-op;
	// RowsAffected tells the loser apart from the winner.
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *queueRepository) Remove(ctx context.Context, messageType string, messageID uint) error {
	return r.db.WithContext(ctx).
		Where("message_type = ? AND message_id = ?", messageType, messageID).
		Delete(&model.QueuedMessage{}).Error
}

func (r *queueRepository) Exists(ctx context.Context, messageType string, messageID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.QueuedMessage{}).
		Where("message_type = ? AND message_id = ?", messageType, messageID).
		Count(&count).Error
	return count > 0, err
}

func (r *queueRepository) IDsForType(ctx context.Context, messageType string) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&model.QueuedMessage{}).
		Where("message_type = ?", messageType).
		Pluck("message_id", &ids).Error
	return ids, err
}
