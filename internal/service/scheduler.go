package service

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/craiglabenz/grapevine/internal/sendable"
	"github.com/craiglabenz/grapevine/pkg/logger"
)

// Scheduler walks every registered channel type and hands its eligible
// records to the configured sender strategy. One pass is one tick of
// the periodic send loop.
type Scheduler struct {
	db       *gorm.DB
	registry *sendable.Registry
	sender   Sender
}

func NewScheduler(db *gorm.DB, registry *sendable.Registry, sender Sender) *Scheduler {
	return &Scheduler{db: db, registry: registry, sender: sender}
}

// DeliverMessages runs one full pass and reports how many records were
// handed off and how many channel types were examined.
func (s *Scheduler) DeliverMessages(ctx context.Context) (numSent, numTypes int) {
	for _, ct := range s.registry.Types() {
		if ct.Eligible == nil || ct.ByID == nil {
			// A half-registered type points to a wiring bug, not a
			// reason to abort the other channels.
			logger.Warn("skipping channel type with missing resolvers", zap.String("type", ct.Name))
			continue
		}
		numTypes++
		numSent += s.deliverType(ctx, ct)
	}
	return numSent, numTypes
}

func (s *Scheduler) deliverType(ctx context.Context, ct sendable.ChannelType) (sent int) {
	records, err := ct.Eligible(ctx, s.db)
	if err != nil {
		logger.Error("eligibility query failed", zap.String("type", ct.Name), zap.Error(err))
		return 0
	}
	for _, snd := range records {
		if s.deliverOne(ctx, ct, snd) {
			sent++
		}
	}
	return sent
}

// deliverOne isolates a single record so that a panic in channel code
// cannot take down the rest of the batch.
func (s *Scheduler) deliverOne(ctx context.Context, ct sendable.ChannelType, snd sendable.Sendable) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic delivering record",
				zap.String("type", ct.Name),
				zap.Uint("id", snd.PrimaryKey()),
				zap.Any("panic", r))
			sent = false
		}
	}()

	if !snd.ConfirmIndividualSendability(ctx, s.db) {
		// The hook persists any reschedule or cancellation itself.
		return false
	}

	res := s.sender.Send(ctx, ct, snd)
	if res.Err != nil {
		logger.Error("send failed",
			zap.String("type", ct.Name),
			zap.Uint("id", snd.PrimaryKey()),
			zap.Error(res.Err))
	}
	return res.Sent
}
