package backend

import (
	"context"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craiglabenz/grapevine/internal/model"
)

func TestNewSMTPRequiresHost(t *testing.T) {
	_, err := NewSMTP(SMTPOpts{}, nil)
	require.Error(t, err)
}

func TestNewSMTPDefaultsPort(t *testing.T) {
	b, err := NewSMTP(SMTPOpts{Host: "mail.example.com"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 587, b.port)
}

func TestSMTPSendBuildsMessage(t *testing.T) {
	db := newTestDB(t)

	b, err := NewSMTP(SMTPOpts{
		Host:     "mail.example.com",
		Port:     2525,
		Username: "relay",
		Password: "secret",
	}, newFinalizer(t, db))
	require.NoError(t, err)

	var gotAddr, gotFrom string
	var gotTo []string
	var gotPayload []byte
	b.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotPayload = addr, from, to, msg
		return nil
	}

	email := createEmail(t, db, "pat@example.com")
	email.ReplyTo = "support@example.com"

	sent, err := b.Send(context.Background(), email)
	require.NoError(t, err)
	assert.True(t, sent)

	assert.Equal(t, "mail.example.com:2525", gotAddr)
	assert.Equal(t, "ops@example.com", gotFrom)
	assert.Equal(t, []string{"pat@example.com"}, gotTo)

	payload := string(gotPayload)
	assert.Contains(t, payload, "Subject: hello\r\n")
	assert.Contains(t, payload, "Reply-To: support@example.com\r\n")
	assert.Contains(t, payload, "X-Grapevine-GUID: "+email.GUID+"\r\n")
	assert.Contains(t, payload, "Content-Type: text/html")
	assert.Contains(t, payload, "<p>hello</p>")
}

func TestSMTPSendTextOnly(t *testing.T) {
	db := newTestDB(t)

	b, err := NewSMTP(SMTPOpts{Host: "mail.example.com"}, newFinalizer(t, db))
	require.NoError(t, err)

	var gotPayload []byte
	b.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotPayload = msg
		return nil
	}

	email := createEmail(t, db, "pat@example.com")
	email.HTMLBody = ""
	email.TextBody = "plain words"

	sent, err := b.Send(context.Background(), email)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Contains(t, string(gotPayload), "Content-Type: text/plain")
	assert.Contains(t, string(gotPayload), "plain words")
}

func TestSMTPSendFailSilently(t *testing.T) {
	db := newTestDB(t)

	b, err := NewSMTP(SMTPOpts{Host: "mail.example.com", FailSilently: true}, newFinalizer(t, db))
	require.NoError(t, err)
	b.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		return assert.AnError
	}

	email := createEmail(t, db, "pat@example.com")
	sent, err := b.Send(context.Background(), email)
	assert.False(t, sent)
	assert.NoError(t, err)
}

func TestSMTPSendAllRecipientsUnsubscribed(t *testing.T) {
	db := newTestDB(t)
	unsubscribe(t, db, "gone@x.com")

	b, err := NewSMTP(SMTPOpts{Host: "mail.example.com"}, newFinalizer(t, db))
	require.NoError(t, err)
	b.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		t.Fatal("sendMail must not be called")
		return nil
	}

	email := createEmail(t, db, "gone@x.com")
	sent, err := b.Send(context.Background(), email)
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Equal(t, model.StatusUnsubscribed, email.Status)
}

func TestSMTPProcessEventUnsupported(t *testing.T) {
	b, err := NewSMTP(SMTPOpts{Host: "mail.example.com"}, nil)
	require.NoError(t, err)
	assert.False(t, b.ListensForEvents())

	ok, secs := b.ProcessEvent(context.Background(), &model.RawEvent{Payload: "[]"}, nil)
	assert.False(t, ok)
	assert.Zero(t, secs)
}
