package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/craiglabenz/grapevine/internal/model"
	"github.com/craiglabenz/grapevine/internal/repository"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, model.AutoMigrate(db))
	return db
}

func newFinalizer(t *testing.T, db *gorm.DB) *Finalizer {
	t.Helper()
	return &Finalizer{Unsubs: repository.NewUnsubscribeRepository(db)}
}

func unsubscribe(t *testing.T, db *gorm.DB, addr string) {
	t.Helper()
	require.NoError(t, repository.NewUnsubscribeRepository(db).Add(context.Background(), addr, nil))
}

func TestNewMessageMapsEmail(t *testing.T) {
	db := newTestDB(t)

	email := &model.Email{
		FromEmail: "Ops <ops@example.com>",
		ReplyTo:   "support@example.com",
		Subject:   "Weekly digest",
		TransportRecord: model.TransportRecord{
			HTMLBody: "<p>hi</p>",
		},
	}
	require.NoError(t, db.Create(email).Error)
	require.NoError(t, db.Create(&model.EmailRecipient{
		EmailID: email.ID, Type: model.RecipientTo, Name: "Pat", Address: "pat@example.com",
	}).Error)
	require.NoError(t, db.Create(&model.EmailVariable{
		EmailID: email.ID, Key: model.VarTrackOpens, Value: "1",
	}).Error)

	var loaded model.Email
	require.NoError(t, db.Preload("Recipients").Preload("Variables").First(&loaded, email.ID).Error)

	msg := NewMessage(&loaded)
	assert.Equal(t, []string{"Pat <pat@example.com>"}, msg.To)
	assert.Equal(t, "Ops <ops@example.com>", msg.FromEmail)
	assert.Equal(t, "Weekly digest", msg.Subject)
	assert.Equal(t, loaded.GUID, msg.GUID)
	assert.Equal(t, "1", msg.Variables[model.VarTrackOpens])
}

func TestFinalizeDebugModeReroutesEverything(t *testing.T) {
	fin := &Finalizer{Debug: true, DebugAddress: "test@email.com"}

	msg := &Message{
		To:  []string{"a@x.com", "b@x.com"},
		CC:  []string{"c@x.com"},
		BCC: []string{"d@x.com"},
	}
	require.NoError(t, fin.Finalize(context.Background(), msg))

	assert.Equal(t, []string{"test@email.com"}, msg.To)
	assert.Empty(t, msg.CC)
	assert.Empty(t, msg.BCC)
}

func TestFinalizeFiltersListsIndependently(t *testing.T) {
	db := newTestDB(t)
	unsubscribe(t, db, "gone@x.com")
	fin := newFinalizer(t, db)

	msg := &Message{
		To: []string{"keep@x.com", "gone@x.com"},
		CC: []string{"Gone Person <gone@x.com>", "cc@x.com"},
	}
	require.NoError(t, fin.Finalize(context.Background(), msg))

	assert.Equal(t, []string{"keep@x.com"}, msg.To)
	assert.Equal(t, []string{"cc@x.com"}, msg.CC)
}

func TestFinalizeRemovesMultiplePreservingOrder(t *testing.T) {
	db := newTestDB(t)
	unsubscribe(t, db, "one@x.com")
	unsubscribe(t, db, "three@x.com")
	fin := newFinalizer(t, db)

	msg := &Message{To: []string{"one@x.com", "two@x.com", "three@x.com", "four@x.com"}}
	require.NoError(t, fin.Finalize(context.Background(), msg))

	assert.Equal(t, []string{"two@x.com", "four@x.com"}, msg.To)
}

func TestFinalizeLeavesUnparseableEntries(t *testing.T) {
	db := newTestDB(t)
	fin := newFinalizer(t, db)

	// Has spaces but no angle brackets, so it cannot be parsed. It stays
	// in the list for the provider to reject.
	msg := &Message{To: []string{"totally bogus entry", "fine@x.com"}}
	require.NoError(t, fin.Finalize(context.Background(), msg))

	assert.Equal(t, []string{"totally bogus entry", "fine@x.com"}, msg.To)
}

func TestCatalogEventName(t *testing.T) {
	assert.Equal(t, "Open", catalogEventName("open"))
	assert.Equal(t, "Click", catalogEventName("Click"))
	assert.Equal(t, "Spam Report", catalogEventName("spamreport"))
	assert.Equal(t, "Unsubscribe", catalogEventName("UNSUBSCRIBE"))
}
