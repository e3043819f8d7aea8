package model

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// One connection so every session sees the same in-memory database.
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, AutoMigrate(db))
	return db
}

func TestEmailBeforeSaveMintsGUID(t *testing.T) {
	db := newTestDB(t)

	email := &Email{Subject: "hi", FromEmail: "a@b.com"}
	require.NoError(t, db.Create(email).Error)

	assert.Len(t, email.GUID, 36)

	// The guid is stable across subsequent saves.
	guid := email.GUID
	require.NoError(t, db.Save(email).Error)
	assert.Equal(t, guid, email.GUID)
}

func TestEmailDerivesTextBodyFromHTML(t *testing.T) {
	db := newTestDB(t)

	email := &Email{
		Subject: "hi",
		TransportRecord: TransportRecord{
			HTMLBody: "<html><body><p>Hello <b>there</b></p></body></html>",
		},
	}
	require.NoError(t, db.Create(email).Error)

	assert.Contains(t, email.TextBody, "Hello")
	assert.NotContains(t, email.TextBody, "<b>")
}

func TestEmailKeepsExplicitTextBody(t *testing.T) {
	db := newTestDB(t)

	email := &Email{
		Subject: "hi",
		TransportRecord: TransportRecord{
			HTMLBody: "<p>rendered</p>",
			TextBody: "handwritten plain text",
		},
	}
	require.NoError(t, db.Create(email).Error)

	assert.Equal(t, "handwritten plain text", email.TextBody)
}

func TestAppendToLogAccumulates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	email := &Email{Subject: "hi"}
	require.NoError(t, db.Create(email).Error)

	require.NoError(t, AppendToLog(ctx, db, email, "first entry", "send attempt"))
	require.NoError(t, AppendToLog(ctx, db, email, "second entry", ""))

	var reloaded Email
	require.NoError(t, db.First(&reloaded, email.ID).Error)
	assert.Contains(t, reloaded.Log, "first entry")
	assert.Contains(t, reloaded.Log, "**send attempt**")
	assert.Contains(t, reloaded.Log, "second entry")
	assert.Less(t,
		strings.Index(reloaded.Log, "first entry"),
		strings.Index(reloaded.Log, "second entry"))
}

func TestAppendToLogSurvivesStaleCopy(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	email := &Email{Subject: "hi"}
	require.NoError(t, db.Create(email).Error)

	// A second session appends while our copy is stale; the reload
	// inside AppendToLog must preserve its entry.
	var other Email
	require.NoError(t, db.First(&other, email.ID).Error)
	require.NoError(t, AppendToLog(ctx, db, &other, "from other session", ""))

	require.NoError(t, AppendToLog(ctx, db, email, "from stale copy", ""))

	var reloaded Email
	require.NoError(t, db.First(&reloaded, email.ID).Error)
	assert.Contains(t, reloaded.Log, "from other session")
	assert.Contains(t, reloaded.Log, "from stale copy")
}

func TestAppendJSONToLog(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	email := &Email{Subject: "hi"}
	require.NoError(t, db.Create(email).Error)

	entry := map[string]string{"event": "open", "email": "x@y.com"}
	require.NoError(t, AppendJSONToLog(ctx, db, email, entry, "webhook"))

	var reloaded Email
	require.NoError(t, db.First(&reloaded, email.ID).Error)
	assert.Contains(t, reloaded.Log, `"event":"open"`)
}

func TestRecipientDerivesDomain(t *testing.T) {
	db := newTestDB(t)

	email := &Email{Subject: "hi"}
	require.NoError(t, db.Create(email).Error)

	r := &EmailRecipient{EmailID: email.ID, Type: RecipientTo, Name: "Pat", Address: "pat@Example.COM"}
	require.NoError(t, db.Create(r).Error)

	assert.Equal(t, "example.com", r.Domain)
}

func TestRecipientPrepareForEmail(t *testing.T) {
	named := EmailRecipient{Name: "Pat Jones", Address: "pat@example.com"}
	assert.Equal(t, "Pat Jones <pat@example.com>", named.PrepareForEmail())

	bare := EmailRecipient{Address: "pat@example.com"}
	assert.Equal(t, "pat@example.com", bare.PrepareForEmail())
}

func TestUnsubscribedAddressNormalizes(t *testing.T) {
	db := newTestDB(t)

	u := &UnsubscribedAddress{Address: "Pat Jones <pat@example.com>"}
	require.NoError(t, db.Create(u).Error)

	assert.Equal(t, "pat@example.com", u.Address)
}

func TestStatusStringsAndTerminal(t *testing.T) {
	assert.Equal(t, "Sent", StatusSent.String())
	assert.Equal(t, "Unsubscribed", StatusUnsubscribed.String())

	assert.False(t, StatusUnsent.Terminal())
	assert.True(t, StatusSent.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusSendTimeError.Terminal())
}

func TestEmailHasEvent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, SeedEventCatalog(db))

	email := &Email{Subject: "hi"}
	require.NoError(t, db.Create(email).Error)

	opened, err := email.IsOpened(ctx, db)
	require.NoError(t, err)
	assert.False(t, opened)

	var open Event
	require.NoError(t, db.Where("name = ?", EventOpen).First(&open).Error)
	require.NoError(t, db.Create(&EmailEvent{EmailID: email.ID, EventID: open.ID}).Error)

	opened, err = email.IsOpened(ctx, db)
	require.NoError(t, err)
	assert.True(t, opened)

	spam, err := email.IsSpam(ctx, db)
	require.NoError(t, err)
	assert.False(t, spam)
}
