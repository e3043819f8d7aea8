package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/craiglabenz/grapevine/internal/model"
	"github.com/craiglabenz/grapevine/internal/repository"
	"github.com/craiglabenz/grapevine/pkg/logger"
)

// BackendMailgun is the registry name of the Mailgun integration.
const BackendMailgun = "mailgun"

// MailgunError wraps a non-200 provider response.
type MailgunError struct {
	StatusCode int
	Body       string
}

func (e *MailgunError) Error() string {
	return fmt.Sprintf("mailgun: status %d: %s", e.StatusCode, e.Body)
}

// Mailgun delivers email over the Mailgun HTTP API and parses its event
// webhooks.
type Mailgun struct {
	apiKey     string
	serverName string
	apiURL     string

	client       *http.Client
	limiter      *rate.Limiter
	failSilently bool
	finalizer    *Finalizer

	db     *gorm.DB
	emails repository.EmailRepository
	events repository.EventRepository
	unsubs repository.UnsubscribeRepository
}

type MailgunOpts struct {
	APIKey     string
	ServerName string
	// RateLimit caps outbound provider calls, requests per second.
	// Zero means unlimited.
	RateLimit    float64
	Timeout      time.Duration
	FailSilently bool
}

// NewMailgun constructs the backend. Missing credentials are a
// construction-time error unless FailSilently is set, in which case the
// caller should degrade to a no-op backend.
func NewMailgun(opts MailgunOpts, fin *Finalizer, db *gorm.DB, emails repository.EmailRepository, events repository.EventRepository, unsubs repository.UnsubscribeRepository) (*Mailgun, error) {
	if opts.APIKey == "" || opts.ServerName == "" {
		return nil, fmt.Errorf("mailgun: missing api_key or server_name")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return &Mailgun{
		apiKey:       opts.APIKey,
		serverName:   opts.ServerName,
		apiURL:       fmt.Sprintf("https://api.mailgun.net/v3/%s", opts.ServerName),
		client:       &http.Client{Timeout: timeout},
		limiter:      limiter,
		failSilently: opts.FailSilently,
		finalizer:    fin,
		db:           db,
		emails:       emails,
		events:       events,
		unsubs:       unsubs,
	}, nil
}

func (b *Mailgun) Name() string           { return BackendMailgun }
func (b *Mailgun) ListensForEvents() bool { return true }

// apiBase allows tests to point the backend at a local server.
func (b *Mailgun) SetAPIURL(u string) { b.apiURL = strings.TrimRight(u, "/") }

func (b *Mailgun) Send(ctx context.Context, email *model.Email) (bool, error) {
	msg := NewMessage(email)
	if err := b.finalizer.Finalize(ctx, msg); err != nil {
		return false, err
	}

	// Everyone on the To line unsubscribed: a distinct terminal state,
	// not a failure, and no provider call is made.
	if len(msg.To) == 0 {
		logger.Info("all To recipients unsubscribed, not sending",
			zap.Uint("email_id", email.ID))
		email.Status = model.StatusUnsubscribed
		return false, nil
	}

	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return false, err
		}
	}

	form := b.prepareData(msg)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.apiURL+"/messages", strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	req.SetBasicAuth("api", b.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := b.client.Do(req)
	if err != nil {
		if b.failSilently {
			logger.Warn("mailgun request failed", zap.Error(err))
			return false, nil
		}
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		reason := &MailgunError{StatusCode: resp.StatusCode, Body: string(body)}
		if logErr := model.AppendToLog(ctx, b.db, email, reason.Error(), "mailgun rejection"); logErr != nil {
			logger.Error("failed to journal mailgun rejection", zap.Error(logErr))
		}
		if b.failSilently {
			return false, nil
		}
		return false, reason
	}
	return true, nil
}

func (b *Mailgun) prepareData(msg *Message) url.Values {
	form := url.Values{}
	form.Set("from", msg.FromEmail)
	form.Set("to", strings.Join(msg.To, ", "))
	if len(msg.CC) > 0 {
		form.Set("cc", strings.Join(msg.CC, ", "))
	}
	if len(msg.BCC) > 0 {
		form.Set("bcc", strings.Join(msg.BCC, ", "))
	}
	form.Set("subject", msg.Subject)
	form.Set("text", msg.TextBody)
	if msg.HTMLBody != "" {
		form.Set("html", msg.HTMLBody)
	}
	if msg.ReplyTo != "" {
		form.Set("h:Reply-To", msg.ReplyTo)
	}
	form.Set("v:"+guidArgName, msg.GUID)

	// Tracking variables travel as provider options; unknown keys become
	// custom variables so they come back in event payloads.
	for key, value := range msg.Variables {
		switch key {
		case model.VarTrackClicks:
			form.Set("o:tracking-clicks", yesNo(value))
		case model.VarTrackOpens:
			form.Set("o:tracking-opens", yesNo(value))
		case model.VarShowUnsubscribeLink:
			// Provider-side list management is off unless asked for.
		default:
			form.Set("v:"+key, value)
		}
	}
	return form
}

func yesNo(v string) string {
	if v == "1" || strings.EqualFold(v, "true") {
		return "yes"
	}
	return "no"
}

// eventEntry is one element of a provider event payload. Providers batch
// entries into a JSON array.
type eventEntry struct {
	GUID      string `json:"grapevine-guid"`
	Event     string `json:"event"`
	Timestamp int64  `json:"timestamp"`
	Email     string `json:"email"`
}

// ProcessEvent parses one stored webhook payload. Per-entry problems
// (missing guid, unknown event type, unresolvable transport) are skipped
// silently; only a malformed top-level payload is a failure.
func (b *Mailgun) ProcessEvent(ctx context.Context, raw *model.RawEvent, catalog map[string]model.Event) (bool, float64) {
	start := time.Now()

	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(raw.Payload), &entries); err != nil {
		return false, 0
	}

	for _, rawEntry := range entries {
		var entry eventEntry
		if err := json.Unmarshal(rawEntry, &entry); err != nil {
			continue
		}
		// Entries without our guid aren't attributable; not an error.
		if entry.GUID == "" {
			continue
		}

		name := catalogEventName(entry.Event)
		event, ok := catalog[name]
		if !ok {
			// Unconfigured event type: skip, don't fail the payload.
			continue
		}

		email, err := b.emails.ByGUID(ctx, entry.GUID)
		if err != nil {
			// GUID rows are never deleted but may legitimately not
			// exist (test sends). Never delete the raw event for this.
			if !repository.IsNotFound(err) {
				logger.Error("event email lookup failed", zap.Error(err), zap.String("guid", entry.GUID))
			}
			continue
		}

		if _, _, err := b.events.GetOrCreateEmailEvent(ctx, email.ID, event.ID, raw.ID, timeFromSeconds(entry.Timestamp)); err != nil {
			logger.Error("email event write failed", zap.Error(err))
			continue
		}

		if event.ShouldStopSending && entry.Email != "" {
			if err := b.unsubs.Add(ctx, entry.Email, &email.ID); err != nil {
				logger.Error("unsubscribe write failed", zap.Error(err))
			}
		}

		if err := model.AppendToLog(ctx, b.db, email, string(rawEntry), ""); err != nil {
			logger.Error("event log append failed", zap.Error(err))
		}
	}

	return true, time.Since(start).Seconds()
}
