package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/craiglabenz/grapevine/config"
	"github.com/craiglabenz/grapevine/internal/backend"
	"github.com/craiglabenz/grapevine/internal/model"
	"github.com/craiglabenz/grapevine/internal/repository"
	"github.com/craiglabenz/grapevine/internal/sendable"
)

// welcomeEmail is the reference email channel used across these tests.
type welcomeEmail struct {
	sendable.State

	ID        uint `gorm:"primaryKey"`
	Address   string
	FirstName string
	Vetoed    bool
	Panic     bool
}

func (w *welcomeEmail) PrimaryKey() uint             { return w.ID }
func (w *welcomeEmail) SendState() *sendable.State   { return &w.State }
func (w *welcomeEmail) TransportKind() sendable.Kind { return sendable.KindEmail }
func (w *welcomeEmail) Recipients() sendable.Recipients {
	return sendable.Recipients{model.RecipientTo: {w.Address}}
}
func (w *welcomeEmail) RawSubject() string { return "Welcome, {{first_name}}!" }
func (w *welcomeEmail) TemplateContext() map[string]string {
	return map[string]string{"first_name": w.FirstName}
}
func (w *welcomeEmail) RenderBody(viewOnSiteURL string) (string, error) {
	if w.Panic {
		panic("template engine exploded")
	}
	return `<p>Welcome aboard, ` + w.FirstName + `. <a href="` + viewOnSiteURL + `">View in browser</a></p>`, nil
}
func (w *welcomeEmail) RawFromEmail() string { return "" }
func (w *welcomeEmail) RawReplyTo() string   { return "" }
func (w *welcomeEmail) IsSendable() bool     { return true }
func (w *welcomeEmail) ConfirmIndividualSendability(ctx context.Context, db *gorm.DB) bool {
	return !w.Vetoed
}
func (w *welcomeEmail) AlterTransport(ctx context.Context, db *gorm.DB, t sendable.Transport) error {
	return repository.NewEmailRepository(db).AddVariable(ctx, t.Record().ID, model.VarTrackOpens, "1")
}

const welcomeType = "welcome_email"

func welcomeChannel() sendable.ChannelType {
	return sendable.ChannelType{
		Name: welcomeType,
		Kind: sendable.KindEmail,
		Eligible: func(ctx context.Context, db *gorm.DB) ([]sendable.Sendable, error) {
			var rows []*welcomeEmail
			if err := sendable.EligibleQuery(ctx, db, welcomeType, &rows); err != nil {
				return nil, err
			}
			out := make([]sendable.Sendable, 0, len(rows))
			for _, r := range rows {
				out = append(out, r)
			}
			return sendable.FilterSendable(out), nil
		},
		ByID: func(ctx context.Context, db *gorm.DB, id uint) (sendable.Sendable, error) {
			var row welcomeEmail
			if err := db.WithContext(ctx).First(&row, id).Error; err != nil {
				return nil, err
			}
			return &row, nil
		},
	}
}

// opsAlert is the reference chat channel.
type opsAlert struct {
	sendable.State
	sendable.Defaults

	ID   uint `gorm:"primaryKey"`
	Text string
}

func (a *opsAlert) PrimaryKey() uint             { return a.ID }
func (a *opsAlert) SendState() *sendable.State   { return &a.State }
func (a *opsAlert) TransportKind() sendable.Kind { return sendable.KindChat }
func (a *opsAlert) Recipients() sendable.Recipients {
	return nil
}
func (a *opsAlert) RawSubject() string { return "" }
func (a *opsAlert) RenderBody(viewOnSiteURL string) (string, error) {
	return "<b>" + a.Text + "</b>", nil
}

func (a *opsAlert) ChatRoom() int          { return 7 }
func (a *opsAlert) ChatColor() string      { return model.ChatColorRed }
func (a *opsAlert) ChatFromName() string   { return "Ops" }
func (a *opsAlert) ChatShouldNotify() bool { return true }

const alertType = "ops_alert"

func alertChannel() sendable.ChannelType {
	return sendable.ChannelType{
		Name: alertType,
		Kind: sendable.KindChat,
		Eligible: func(ctx context.Context, db *gorm.DB) ([]sendable.Sendable, error) {
			var rows []*opsAlert
			if err := sendable.EligibleQuery(ctx, db, alertType, &rows); err != nil {
				return nil, err
			}
			out := make([]sendable.Sendable, 0, len(rows))
			for _, r := range rows {
				out = append(out, r)
			}
			return out, nil
		},
		ByID: func(ctx context.Context, db *gorm.DB, id uint) (sendable.Sendable, error) {
			var row opsAlert
			if err := db.WithContext(ctx).First(&row, id).Error; err != nil {
				return nil, err
			}
			return &row, nil
		},
	}
}

// stubBackend lets each test script the provider outcome. Safe for the
// concurrent worker tests.
type stubBackend struct {
	mu    sync.Mutex
	fn    func(ctx context.Context, email *model.Email) (bool, error)
	calls []*model.Email
}

func (s *stubBackend) Name() string           { return "stub" }
func (s *stubBackend) ListensForEvents() bool { return false }
func (s *stubBackend) Send(ctx context.Context, email *model.Email) (bool, error) {
	s.mu.Lock()
	s.calls = append(s.calls, email)
	fn := s.fn
	s.mu.Unlock()
	if fn == nil {
		return true, nil
	}
	return fn(ctx, email)
}

func (s *stubBackend) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}
func (s *stubBackend) ProcessEvent(ctx context.Context, raw *model.RawEvent, catalog map[string]model.Event) (bool, float64) {
	return false, 0
}

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
	require.NoError(t, db.AutoMigrate(&welcomeEmail{}, &opsAlert{}))
	return db
}

func testConfig() config.GrapevineConfig {
	return config.GrapevineConfig{
		DefaultFromEmail: "ops@example.com",
		DefaultReplyTo:   "support@example.com",
		DefaultSubject:   "A message for you",
	}
}

func newStubService(t *testing.T, db *gorm.DB) (*SendService, *stubBackend) {
	t.Helper()
	stub := &stubBackend{}
	reg := backend.NewRegistry("stub")
	reg.Register(stub)
	svc := NewSendService(db, reg, nil, testConfig(), "http://grapevine.local")
	return svc, stub
}

func createWelcome(t *testing.T, db *gorm.DB, addr, name string) *welcomeEmail {
	t.Helper()
	w := &welcomeEmail{Address: addr, FirstName: name}
	w.EnsureScheduled()
	require.NoError(t, db.Create(w).Error)
	return w
}
