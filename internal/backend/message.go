package backend

import (
	"context"

	"go.uber.org/zap"

	"github.com/craiglabenz/grapevine/internal/model"
	"github.com/craiglabenz/grapevine/internal/repository"
	"github.com/craiglabenz/grapevine/pkg/emailaddr"
	"github.com/craiglabenz/grapevine/pkg/logger"
)

// Message is the provider-agnostic payload assembled from an Email row,
// finalized exactly once before dispatch.
type Message struct {
	To  []string
	CC  []string
	BCC []string

	FromEmail string
	ReplyTo   string
	Subject   string
	TextBody  string
	HTMLBody  string

	// GUID travels to the provider as an opaque tracking token and comes
	// back in event webhooks.
	GUID string

	Variables map[string]string
}

// NewMessage builds the payload from a loaded Email (recipients and
// variables preloaded).
func NewMessage(email *model.Email) *Message {
	vars := make(map[string]string, len(email.Variables))
	for _, v := range email.Variables {
		vars[v.Key] = v.Value
	}
	return &Message{
		To:        email.To(),
		CC:        email.CC(),
		BCC:       email.BCC(),
		FromEmail: email.FromEmail,
		ReplyTo:   email.ReplyTo,
		Subject:   email.Subject,
		TextBody:  email.TextBody,
		HTMLBody:  email.HTMLBody,
		GUID:      email.GUID,
		Variables: vars,
	}
}

// Finalizer applies debug-mode recipient substitution and the
// unsubscribe filter. Safe to call once per message.
type Finalizer struct {
	Debug        bool
	DebugAddress string
	Unsubs       repository.UnsubscribeRepository
}

// Finalize mutates msg in place. In debug mode every recipient is
// replaced by the single debug address; otherwise each of To/CC/BCC is
// filtered against the unsubscribe table independently.
func (f *Finalizer) Finalize(ctx context.Context, msg *Message) error {
	if f.Debug {
		msg.To = []string{f.DebugAddress}
		msg.CC = nil
		msg.BCC = nil
		return nil
	}

	for _, list := range []*[]string{&msg.To, &msg.CC, &msg.BCC} {
		if err := f.filterList(ctx, list); err != nil {
			return err
		}
	}
	return nil
}

// filterList removes unsubscribed entries. Matching indices are
// collected first and removed in descending order so earlier removals
// never shift the later targets.
func (f *Finalizer) filterList(ctx context.Context, list *[]string) error {
	var toPop []int
	for i, raw := range *list {
		_, addr, err := emailaddr.Parse(raw)
		if err != nil {
			// A malformed entry can't match the table; leave it for the
			// provider to reject.
			logger.Warn("unparseable recipient left in place", zap.String("recipient", raw))
			continue
		}
		gone, err := f.Unsubs.IsUnsubscribed(ctx, addr)
		if err != nil {
			return err
		}
		if gone {
			toPop = append(toPop, i)
		}
	}
	for i := len(toPop) - 1; i >= 0; i-- {
		idx := toPop[i]
		*list = append((*list)[:idx], (*list)[idx+1:]...)
	}
	return nil
}
