package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/craiglabenz/grapevine/internal/model"
)

type EventRepository interface {
	CreateRaw(ctx context.Context, raw *model.RawEvent) error
	RawByID(ctx context.Context, id uint) (*model.RawEvent, error)
	SaveRaw(ctx context.Context, raw *model.RawEvent) error

	// CatalogByName loads the full event catalog as a name-keyed map.
	// Callers reload it per processor run rather than caching it
	// process-wide.
	CatalogByName(ctx context.Context) (map[string]model.Event, error)

	// GetOrCreateEmailEvent is idempotent on the natural key
	// (email, event, raw event, happened_at).
	GetOrCreateEmailEvent(ctx context.Context, emailID, eventID, rawEventID uint, happenedAt time.Time) (*model.EmailEvent, bool, error)
}

type eventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) EventRepository { return &eventRepository{db: db} }

func (r *eventRepository) CreateRaw(ctx context.Context, raw *model.RawEvent) error {
	return r.db.WithContext(ctx).Create(raw).Error
}

func (r *eventRepository) RawByID(ctx context.Context, id uint) (*model.RawEvent, error) {
	var raw model.RawEvent
	if err := r.db.WithContext(ctx).Preload("Backend").First(&raw, id).Error; err != nil {
		return nil, err
	}
	return &raw, nil
}

func (r *eventRepository) SaveRaw(ctx context.Context, raw *model.RawEvent) error {
	return r.db.WithContext(ctx).Save(raw).Error
}

func (r *eventRepository) CatalogByName(ctx context.Context) (map[string]model.Event, error) {
	var events []model.Event
	if err := r.db.WithContext(ctx).Find(&events).Error; err != nil {
		return nil, err
	}
	byName := make(map[string]model.Event, len(events))
	for _, ev := range events {
		byName[ev.Name] = ev
	}
	return byName, nil
}

func (r *eventRepository) GetOrCreateEmailEvent(ctx context.Context, emailID, eventID, rawEventID uint, happenedAt time.Time) (*model.EmailEvent, bool, error) {
	ee := model.EmailEvent{
		EmailID:    emailID,
		EventID:    eventID,
		RawEventID: rawEventID,
		HappenedAt: happenedAt,
	}
	res := r.db.WithContext(ctx).
		Where(model.EmailEvent{EmailID: emailID, EventID: eventID, RawEventID: rawEventID, HappenedAt: happenedAt}).
		FirstOrCreate(&ee)
	if res.Error != nil {
		return nil, false, res.Error
	}
	return &ee, res.RowsAffected > 0, nil
}
