package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/craiglabenz/grapevine/internal/model"
	"github.com/craiglabenz/grapevine/internal/repository"
	"github.com/craiglabenz/grapevine/pkg/logger"
	"github.com/craiglabenz/grapevine/pkg/response"
)

// IngestEvent stores a provider callback verbatim for later processing.
// The handler does no parsing at all: acknowledging fast matters more
// than validating, and a payload the parser chokes on later is marked
// broken rather than lost.
// @Summary Receive a delivery-provider event callback
// @Tags events
// @Accept json
// @Produce json
// @Param backend path string true "Backend name"
// @Success 200 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /grapevine/backends/{backend}/events/ [post]
func (h *Handler) IngestEvent(c *gin.Context) {
	name := c.Param("backend")

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.InternalError(c, err)
		return
	}

	rec, err := h.backendRecords.GetOrCreateByName(c.Request.Context(), name)
	if err != nil {
		response.InternalError(c, err)
		return
	}

	raw := &model.RawEvent{
		BackendID: rec.ID,
		Payload:   string(body),
		RemoteIP:  c.ClientIP(),
	}
	if err := h.events.CreateRaw(c.Request.Context(), raw); err != nil {
		response.InternalError(c, err)
		return
	}

	logger.Debug("stored raw event",
		zap.String("backend", name),
		zap.Uint("id", raw.ID),
		zap.Int("bytes", len(body)))
	response.Success(c, gin.H{"id": raw.ID})
}

// ViewOnSite serves the stored HTML body of a sent email. The URL is
// embedded in outbound messages as the "view in browser" link.
// @Summary View a sent email in the browser
// @Tags emails
// @Produce html
// @Param guid path string true "Email GUID"
// @Success 200 {string} string "HTML body"
// @Failure 404 {object} response.Response
// @Router /grapevine/view/{guid}/ [get]
func (h *Handler) ViewOnSite(c *gin.Context) {
	guid := c.Param("guid")

	email, err := h.emails.ByGUID(c.Request.Context(), guid)
	if err != nil {
		if repository.IsNotFound(err) {
			response.NotFound(c, "no such message")
			return
		}
		response.InternalError(c, err)
		return
	}

	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(email.HTMLBody))
}

// runSenderRequest is the optional body of a manual trigger.
type runSenderRequest struct {
	EventLimit int `json:"event_limit" binding:"omitempty,min=1,max=10000"`
}

// RunSender triggers one scheduler pass plus one event-processing pass,
// the same work the cron CLI does, for operators who need it now.
// @Summary Run one send/process cycle immediately
// @Tags admin
// @Accept json
// @Produce json
// @Param request body runSenderRequest false "Run options"
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Failure 400 {object} response.Response
// @Router /api/v1/sender/run [post]
func (h *Handler) RunSender(c *gin.Context) {
	ctx := c.Request.Context()

	var req runSenderRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}
	limit := h.eventBatchSize
	if req.EventLimit > 0 {
		limit = req.EventLimit
	}

	numSent, numTypes := h.scheduler.DeliverMessages(ctx)

	numEvents, err := h.processor.ProcessAllBackends(ctx, limit)
	if err != nil {
		logger.Error("event processing failed during manual run", zap.Error(err))
	}

	response.Success(c, gin.H{
		"sent":             numSent,
		"types":            numTypes,
		"events_processed": numEvents,
	})
}

// Healthz is the liveness probe.
// @Summary Health check
// @Tags admin
// @Success 200 {object} response.Response
// @Router /healthz [get]
func (h *Handler) Healthz(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok"})
}
