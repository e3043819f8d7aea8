// Package handler exposes the HTTP surface: provider webhook ingestion,
// the view-on-site page, and a manual scheduler trigger.
package handler

import (
	"gorm.io/gorm"

	"github.com/craiglabenz/grapevine/internal/repository"
	"github.com/craiglabenz/grapevine/internal/service"
)

type Handler struct {
	emails         repository.EmailRepository
	events         repository.EventRepository
	backendRecords repository.BackendRepository
	scheduler      *service.Scheduler
	processor      *service.EventProcessor
	eventBatchSize int
}

func NewHandler(db *gorm.DB, scheduler *service.Scheduler, processor *service.EventProcessor) *Handler {
	return &Handler{
		emails:         repository.NewEmailRepository(db),
		events:         repository.NewEventRepository(db),
		backendRecords: repository.NewBackendRepository(db),
		scheduler:      scheduler,
		processor:      processor,
		eventBatchSize: 500,
	}
}
