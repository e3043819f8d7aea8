package backend

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/craiglabenz/grapevine/config"
	"github.com/craiglabenz/grapevine/internal/model"
	"github.com/craiglabenz/grapevine/internal/repository"
	"github.com/craiglabenz/grapevine/pkg/logger"
)

// Noop is the fail-silent degradation target: construction of a real
// backend failed but the process was configured to carry on. Sends are
// recorded as failed rather than hanging or panicking.
type Noop struct {
	name string
}

func NewNoop(name string) *Noop { return &Noop{name: name} }

func (n *Noop) Name() string           { return n.name }
func (n *Noop) ListensForEvents() bool { return false }

func (n *Noop) Send(ctx context.Context, email *model.Email) (bool, error) {
	logger.Warn("no-op backend dropping send", zap.String("backend", n.name), zap.Uint("email_id", email.ID))
	return false, nil
}

func (n *Noop) ProcessEvent(ctx context.Context, raw *model.RawEvent, catalog map[string]model.Event) (bool, float64) {
	return false, 0
}

// BuildRegistry constructs every configured backend. Configuration
// errors (missing credentials) are raised eagerly unless FailSilently is
// set, in which case the affected backend degrades to a Noop.
func BuildRegistry(cfg *config.Config, db *gorm.DB) (*Registry, error) {
	emails := repository.NewEmailRepository(db)
	events := repository.NewEventRepository(db)
	unsubs := repository.NewUnsubscribeRepository(db)

	fin := &Finalizer{
		Debug:        cfg.Grapevine.Debug,
		DebugAddress: cfg.Grapevine.DebugEmailAddress,
		Unsubs:       unsubs,
	}

	reg := NewRegistry(cfg.Grapevine.DefaultBackend)

	mg, err := NewMailgun(MailgunOpts{
		APIKey:       cfg.Grapevine.Mailgun.APIKey,
		ServerName:   cfg.Grapevine.Mailgun.ServerName,
		RateLimit:    cfg.Grapevine.Mailgun.RateLimit,
		Timeout:      cfg.Grapevine.SendTimeout,
		FailSilently: cfg.Grapevine.FailSilently,
	}, fin, db, emails, events, unsubs)
	switch {
	case err == nil:
		reg.Register(mg)
	case cfg.Grapevine.FailSilently:
		logger.Warn("mailgun unavailable, degrading to no-op", zap.Error(err))
		reg.Register(&Noop{name: BackendMailgun})
	case cfg.Grapevine.DefaultBackend == BackendMailgun:
		return nil, fmt.Errorf("default backend unavailable: %w", err)
	}

	sm, err := NewSMTP(SMTPOpts{
		Host:         cfg.Grapevine.SMTP.Host,
		Port:         cfg.Grapevine.SMTP.Port,
		Username:     cfg.Grapevine.SMTP.Username,
		Password:     cfg.Grapevine.SMTP.Password,
		FailSilently: cfg.Grapevine.FailSilently,
	}, fin)
	switch {
	case err == nil:
		reg.Register(sm)
	case cfg.Grapevine.FailSilently:
		logger.Warn("smtp unavailable, degrading to no-op", zap.Error(err))
		reg.Register(&Noop{name: BackendSMTP})
	case cfg.Grapevine.DefaultBackend == BackendSMTP:
		return nil, fmt.Errorf("default backend unavailable: %w", err)
	}

	if _, ok := reg.Default(); !ok {
		return nil, fmt.Errorf("default backend %q is not registered", cfg.Grapevine.DefaultBackend)
	}
	return reg, nil
}
