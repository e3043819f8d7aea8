// Package service holds the dispatch pipeline: turning eligible
// sendables into transport rows, driving the send state machine, and
// digesting provider event callbacks.
package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/craiglabenz/grapevine/config"
	"github.com/craiglabenz/grapevine/internal/backend"
	"github.com/craiglabenz/grapevine/internal/model"
	"github.com/craiglabenz/grapevine/internal/repository"
	"github.com/craiglabenz/grapevine/internal/sendable"
	"github.com/craiglabenz/grapevine/pkg/logger"
)

// SendOptions tweaks a single send attempt.
type SendOptions struct {
	// RecipientOverride replaces the sendable's own recipient list with
	// a single To address. Used for test sends.
	RecipientOverride string
	// IsTest suppresses the sendable's MessageID link so the record
	// stays eligible for its real send.
	IsTest bool
	// Force bypasses the already-sent guard.
	Force bool
}

// SendService owns the full lifecycle of one send attempt: transport
// creation, rendering, backend dispatch, and final status bookkeeping.
type SendService struct {
	db             *gorm.DB
	backends       *backend.Registry
	chat           *backend.ChatWebhook
	emails         repository.EmailRepository
	backendRecords repository.BackendRepository
	queue          repository.QueueRepository
	cfg            config.GrapevineConfig
	baseURL        string
}

func NewSendService(db *gorm.DB, backends *backend.Registry, chat *backend.ChatWebhook, cfg config.GrapevineConfig, baseURL string) *SendService {
	return &SendService{
		db:             db,
		backends:       backends,
		chat:           chat,
		emails:         repository.NewEmailRepository(db),
		backendRecords: repository.NewBackendRepository(db),
		queue:          repository.NewQueueRepository(db),
		cfg:            cfg,
		baseURL:        baseURL,
	}
}

// Send mints a transport row for the sendable and dispatches it. Safe
// to call twice for the same record: the second call is a no-op skip
// unless opts.Force or opts.IsTest is set.
func (s *SendService) Send(ctx context.Context, ct sendable.ChannelType, snd sendable.Sendable, opts SendOptions) sendable.Result {
	state := snd.SendState()
	if state.IsSent() && !opts.IsTest && !opts.Force {
		logger.Warn("refusing to resend",
			zap.String("type", ct.Name),
			zap.Uint("id", snd.PrimaryKey()),
			zap.Uintp("message_id", state.MessageID))
		return sendable.Result{Skipped: true}
	}

	switch ct.Kind {
	case sendable.KindEmail:
		return s.sendEmail(ctx, ct, snd, opts)
	case sendable.KindChat:
		return s.sendChat(ctx, ct, snd, opts)
	default:
		return sendable.Result{Err: fmt.Errorf("channel type %q has unknown kind %d", ct.Name, ct.Kind)}
	}
}

func (s *SendService) sendEmail(ctx context.Context, ct sendable.ChannelType, snd sendable.Sendable, opts SendOptions) sendable.Result {
	tctx := snd.TemplateContext()

	subject, err := s.renderField(snd.RawSubject(), s.cfg.DefaultSubject, tctx)
	if err != nil {
		return sendable.Result{Err: fmt.Errorf("render subject: %w", err)}
	}
	from, err := s.renderField(snd.RawFromEmail(), s.cfg.DefaultFromEmail, tctx)
	if err != nil {
		return sendable.Result{Err: fmt.Errorf("render from address: %w", err)}
	}
	replyTo, err := s.renderField(snd.RawReplyTo(), s.cfg.DefaultReplyTo, tctx)
	if err != nil {
		return sendable.Result{Err: fmt.Errorf("render reply-to: %w", err)}
	}

	backendRec, err := s.backendRecords.GetOrCreateByName(ctx, s.backends.DefaultName())
	if err != nil {
		return sendable.Result{Err: fmt.Errorf("resolve backend record: %w", err)}
	}

	// All transport data is assembled before the row is created; a
	// failure up to this point leaves no partial transport behind.
	email := &model.Email{
		TransportRecord: model.TransportRecord{
			IsTest:       opts.IsTest,
			SendableType: ct.Name,
			SendableID:   snd.PrimaryKey(),
		},
		BackendID: &backendRec.ID,
		FromEmail: from,
		ReplyTo:   replyTo,
		Subject:   subject,
	}
	if err := s.emails.Create(ctx, email); err != nil {
		return sendable.Result{Err: fmt.Errorf("create email transport: %w", err)}
	}

	recipients := snd.Recipients()
	if opts.RecipientOverride != "" {
		recipients = sendable.Recipients{model.RecipientTo: {opts.RecipientOverride}}
	}
	if err := s.emails.AddRecipients(ctx, email.ID, recipients); err != nil {
		return sendable.Result{Err: fmt.Errorf("attach recipients: %w", err)}
	}

	if err := s.linkTransport(ctx, snd, email.ID, opts.IsTest); err != nil {
		return sendable.Result{Err: err}
	}

	// The body renders only now that the transport identity exists, so
	// view-on-site links resolve.
	html, err := snd.RenderBody(s.viewOnSiteURL(email.GUID))
	if err != nil {
		return sendable.Result{Err: fmt.Errorf("render body: %w", err)}
	}
	email.HTMLBody = html

	if err := snd.AlterTransport(ctx, s.db, email); err != nil {
		return sendable.Result{Err: fmt.Errorf("alter transport: %w", err)}
	}
	if err := s.emails.Save(ctx, email); err != nil {
		return sendable.Result{Err: fmt.Errorf("save email transport: %w", err)}
	}

	// Reload with recipients, variables and backend hydrated for the
	// provider payload.
	loaded, err := s.emails.ByID(ctx, email.ID)
	if err != nil {
		return sendable.Result{Err: fmt.Errorf("reload email transport: %w", err)}
	}

	be, ok := s.backends.ByName(backendRec.Name)
	if !ok {
		return sendable.Result{Err: fmt.Errorf("no backend registered as %q", backendRec.Name)}
	}
	return s.dispatch(ctx, ct, snd, loaded, opts, func(ctx context.Context) (bool, error) {
		return be.Send(ctx, loaded)
	})
}

func (s *SendService) sendChat(ctx context.Context, ct sendable.ChannelType, snd sendable.Sendable, opts SendOptions) sendable.Result {
	details, ok := snd.(sendable.ChatDetails)
	if !ok {
		return sendable.Result{Err: fmt.Errorf("chat channel type %q does not implement ChatDetails", ct.Name)}
	}
	if s.chat == nil {
		return sendable.Result{Err: fmt.Errorf("chat webhook is not configured")}
	}

	msg := &model.ChatMessage{
		TransportRecord: model.TransportRecord{
			IsTest:       opts.IsTest,
			SendableType: ct.Name,
			SendableID:   snd.PrimaryKey(),
		},
		Room:          details.ChatRoom(),
		Color:         details.ChatColor(),
		FromName:      details.ChatFromName(),
		ShouldNotify:  details.ChatShouldNotify(),
		MessageFormat: model.ChatFormatHTML,
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return sendable.Result{Err: fmt.Errorf("create chat transport: %w", err)}
	}

	if err := s.linkTransport(ctx, snd, msg.ID, opts.IsTest); err != nil {
		return sendable.Result{Err: err}
	}

	html, err := snd.RenderBody(s.viewOnSiteURL(msg.GUID))
	if err != nil {
		return sendable.Result{Err: fmt.Errorf("render body: %w", err)}
	}
	msg.HTMLBody = html

	if err := snd.AlterTransport(ctx, s.db, msg); err != nil {
		return sendable.Result{Err: fmt.Errorf("alter transport: %w", err)}
	}
	if err := s.db.WithContext(ctx).Save(msg).Error; err != nil {
		return sendable.Result{Err: fmt.Errorf("save chat transport: %w", err)}
	}

	return s.dispatch(ctx, ct, snd, msg, opts, func(ctx context.Context) (bool, error) {
		return s.chat.Send(ctx, msg)
	})
}

// dispatch runs the actual backend call and owns the transport row's
// terminal status. Panics from backend code are contained here and
// recorded as StatusSendTimeError with the stack in the log; nothing
// above this layer ever sees them.
func (s *SendService) dispatch(ctx context.Context, ct sendable.ChannelType, snd sendable.Sendable, t sendable.Transport, opts SendOptions, send func(context.Context) (bool, error)) sendable.Result {
	rec := t.Record()

	// The timeout covers the backend attempt only; bookkeeping below
	// still runs when the attempt used up the whole allowance.
	attemptCtx := ctx
	if s.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, s.cfg.SendTimeout)
		defer cancel()
	}

	start := time.Now()
	sent, sendErr := s.attempt(attemptCtx, t, send)
	secs := time.Since(start).Seconds()
	rec.CommunicationTime = &secs

	// The ledger row comes out once the attempt concludes, whatever the
	// outcome. Failed records re-enter through the normal scheduling
	// query on the next pass.
	if !opts.IsTest {
		if err := s.queue.Remove(ctx, ct.Name, snd.PrimaryKey()); err != nil {
			logger.Error("failed to clear queue ledger",
				zap.String("type", ct.Name),
				zap.Uint("id", snd.PrimaryKey()),
				zap.Error(err))
		}
	}

	switch {
	case sent:
		rec.Status = model.StatusSent
		now := time.Now()
		rec.SentAt = &now
	case sendErr != nil:
		rec.Status = model.StatusSendTimeError
		model.AppendLogLocal(t, sendErr.Error(), "send error")
	default:
		// Clean refusal. The backend may have already claimed a more
		// specific terminal status (unsubscribed, duplicate).
		if rec.Status == model.StatusUnsent {
			rec.Status = model.StatusFailed
		}
	}

	if err := s.db.WithContext(ctx).Save(t).Error; err != nil {
		logger.Error("failed to persist transport outcome",
			zap.String("guid", rec.GUID),
			zap.Error(err))
		if sendErr == nil {
			sendErr = err
		}
	}

	return sendable.Result{Sent: sent, Status: rec.Status, Err: sendErr}
}

// attempt isolates the panic boundary around backend code.
func (s *SendService) attempt(ctx context.Context, t sendable.Transport, send func(context.Context) (bool, error)) (sent bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			sent = false
			err = fmt.Errorf("panic during send: %v", r)
			model.AppendLogLocal(t, string(debug.Stack()), "panic stack")
		}
	}()
	return send(ctx)
}

func (s *SendService) linkTransport(ctx context.Context, snd sendable.Sendable, transportID uint, isTest bool) error {
	if isTest {
		return nil
	}
	state := snd.SendState()
	state.MessageID = &transportID
	if err := s.db.WithContext(ctx).Save(snd).Error; err != nil {
		return fmt.Errorf("link sendable to transport: %w", err)
	}
	return nil
}

func (s *SendService) renderField(raw, fallback string, tctx map[string]string) (string, error) {
	if raw == "" {
		raw = fallback
	}
	return sendable.SimpleRender(raw, tctx)
}

func (s *SendService) viewOnSiteURL(guid string) string {
	return fmt.Sprintf("%s/grapevine/view/%s/", s.baseURL, guid)
}
