package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/craiglabenz/grapevine/internal/backend"
	"github.com/craiglabenz/grapevine/internal/model"
	"github.com/craiglabenz/grapevine/internal/repository"
	"github.com/craiglabenz/grapevine/pkg/logger"
)

// EventProcessor digests stored provider callbacks into EmailEvent
// history. Claiming and processing are separate steps so that several
// processors can run side by side without double-processing.
type EventProcessor struct {
	db             *gorm.DB
	backends       *backend.Registry
	events         repository.EventRepository
	backendRecords repository.BackendRepository
}

func NewEventProcessor(db *gorm.DB, backends *backend.Registry) *EventProcessor {
	return &EventProcessor{
		db:             db,
		backends:       backends,
		events:         repository.NewEventRepository(db),
		backendRecords: repository.NewBackendRepository(db),
	}
}

// ClaimBatch marks up to limit unclaimed raw events for the named
// backend as queued and returns their ids. The candidate ids are
// materialized before the update runs inside the same transaction, so
// a concurrent claimer cannot walk away with an overlapping batch.
func (p *EventProcessor) ClaimBatch(ctx context.Context, backendName string, limit int) ([]uint, error) {
	rec, err := p.backendRecords.ByName(ctx, backendName)
	if err != nil {
		if repository.IsNotFound(err) {
			// No callbacks ever arrived for this backend.
			return nil, nil
		}
		return nil, err
	}

	var ids []uint
	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.RawEvent{}).
			Where("backend_id = ? AND processed_on IS NULL AND is_queued = ?", rec.ID, false).
			Where("is_broken IS NULL OR is_broken = ?", false).
			Order("id").
			Limit(limit).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Model(&model.RawEvent{}).
			Where("id IN ?", ids).
			Update("is_queued", true).Error
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ProcessOne runs a single claimed raw event through its backend's
// parser and records the outcome. A payload the backend cannot parse
// marks the row broken; the raw event itself is never deleted.
func (p *EventProcessor) ProcessOne(ctx context.Context, id uint) error {
	raw, err := p.events.RawByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load raw event %d: %w", id, err)
	}
	if raw.Backend == nil {
		return fmt.Errorf("raw event %d has no backend record", id)
	}

	be, ok := p.backends.ByName(raw.Backend.Name)
	if !ok {
		return fmt.Errorf("no backend registered as %q for raw event %d", raw.Backend.Name, id)
	}

	// A fresh catalog per event picks up event types added since the
	// processor started.
	catalog, err := p.events.CatalogByName(ctx)
	if err != nil {
		return fmt.Errorf("load event catalog: %w", err)
	}

	ok, secs := be.ProcessEvent(ctx, raw, catalog)
	raw.IsQueued = false
	if ok {
		now := time.Now().UTC()
		raw.ProcessedOn = &now
		raw.ProcessedIn = &secs
	} else {
		broken := true
		raw.IsBroken = &broken
	}
	return p.events.SaveRaw(ctx, raw)
}

// ProcessPending claims and processes one batch for one backend,
// returning how many raw events were handled.
func (p *EventProcessor) ProcessPending(ctx context.Context, backendName string, limit int) (int, error) {
	ids, err := p.ClaimBatch(ctx, backendName, limit)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := p.ProcessOne(ctx, id); err != nil {
			logger.Error("raw event processing failed", zap.Uint("id", id), zap.Error(err))
		}
	}
	return len(ids), nil
}

// ProcessAllBackends runs ProcessPending for every registered backend
// that receives provider callbacks.
func (p *EventProcessor) ProcessAllBackends(ctx context.Context, limit int) (int, error) {
	total := 0
	for _, name := range p.backends.Names() {
		be, ok := p.backends.ByName(name)
		if !ok || !be.ListensForEvents() {
			continue
		}
		n, err := p.ProcessPending(ctx, name, limit)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
