package backend

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"github.com/craiglabenz/grapevine/internal/model"
	"github.com/craiglabenz/grapevine/pkg/emailaddr"
	"github.com/craiglabenz/grapevine/pkg/logger"
)

// BackendSMTP is the registry name of the plain SMTP integration.
const BackendSMTP = "smtp"

// SMTP delivers over a configured relay. It has no event webhooks.
type SMTP struct {
	host         string
	port         int
	username     string
	password     string
	failSilently bool
	finalizer    *Finalizer

	// sendMail is swapped in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

type SMTPOpts struct {
	Host         string
	Port         int
	Username     string
	Password     string
	FailSilently bool
}

func NewSMTP(opts SMTPOpts, fin *Finalizer) (*SMTP, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("smtp: missing host")
	}
	port := opts.Port
	if port == 0 {
		port = 587
	}
	return &SMTP{
		host:         opts.Host,
		port:         port,
		username:     opts.Username,
		password:     opts.Password,
		failSilently: opts.FailSilently,
		finalizer:    fin,
		sendMail:     smtp.SendMail,
	}, nil
}

func (b *SMTP) Name() string           { return BackendSMTP }
func (b *SMTP) ListensForEvents() bool { return false }

func (b *SMTP) Send(ctx context.Context, email *model.Email) (bool, error) {
	msg := NewMessage(email)
	if err := b.finalizer.Finalize(ctx, msg); err != nil {
		return false, err
	}
	if len(msg.To) == 0 {
		logger.Info("all To recipients unsubscribed, not sending",
			zap.Uint("email_id", email.ID))
		email.Status = model.StatusUnsubscribed
		return false, nil
	}

	_, fromAddr, err := emailaddr.Parse(msg.FromEmail)
	if err != nil {
		return false, err
	}

	rcpts, err := bareAddresses(msg)
	if err != nil {
		return false, err
	}

	var auth smtp.Auth
	if b.username != "" {
		auth = smtp.PlainAuth("", b.username, b.password, b.host)
	}
	addr := fmt.Sprintf("%s:%d", b.host, b.port)
	if err := b.sendMail(addr, auth, fromAddr, rcpts, b.buildPayload(msg)); err != nil {
		if b.failSilently {
			logger.Warn("smtp send failed", zap.Error(err))
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func bareAddresses(msg *Message) ([]string, error) {
	var out []string
	for _, raw := range append(append(append([]string{}, msg.To...), msg.CC...), msg.BCC...) {
		_, addr, err := emailaddr.Parse(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

func (b *SMTP) buildPayload(msg *Message) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\r\n", msg.FromEmail)
	fmt.Fprintf(&sb, "To: %s\r\n", strings.Join(msg.To, ", "))
	if len(msg.CC) > 0 {
		fmt.Fprintf(&sb, "Cc: %s\r\n", strings.Join(msg.CC, ", "))
	}
	if msg.ReplyTo != "" {
		fmt.Fprintf(&sb, "Reply-To: %s\r\n", msg.ReplyTo)
	}
	fmt.Fprintf(&sb, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&sb, "X-Grapevine-GUID: %s\r\n", msg.GUID)
	sb.WriteString("MIME-Version: 1.0\r\n")
	if msg.HTMLBody != "" {
		sb.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
		sb.WriteString(msg.HTMLBody)
	} else {
		sb.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
		sb.WriteString(msg.TextBody)
	}
	return []byte(sb.String())
}

// ProcessEvent is unreachable in practice: this backend registers no
// webhook. A payload routed here anyway is unparseable by definition.
func (b *SMTP) ProcessEvent(ctx context.Context, raw *model.RawEvent, catalog map[string]model.Event) (bool, float64) {
	return false, 0
}
