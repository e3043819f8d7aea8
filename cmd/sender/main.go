// The sender binary runs one scheduling pass and one event-processing
// pass, then exits. It is meant to run from cron. Per-record failures
// are logged on the transport rows, not surfaced as a non-zero exit:
// a bad record must not make cron treat the whole pass as broken.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/craiglabenz/grapevine/config"
	"github.com/craiglabenz/grapevine/internal/backend"
	"github.com/craiglabenz/grapevine/internal/model"
	"github.com/craiglabenz/grapevine/internal/repository"
	"github.com/craiglabenz/grapevine/internal/sendable"
	"github.com/craiglabenz/grapevine/internal/service"
	"github.com/craiglabenz/grapevine/pkg/database"
	"github.com/craiglabenz/grapevine/pkg/logger"
)

func main() {
	var (
		limit      = flag.Int("limit", 500, "max raw events to claim per backend")
		eventsOnly = flag.Bool("events-only", false, "skip the send pass")
		sendOnly   = flag.Bool("send-only", false, "skip the event-processing pass")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Server.Mode); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	db, err := database.InitDB(cfg)
	if err != nil {
		logger.Error("init database", zap.Error(err))
		os.Exit(1)
	}
	if err := model.AutoMigrate(db); err != nil {
		logger.Error("migrate", zap.Error(err))
		os.Exit(1)
	}
	if err := model.SeedEventCatalog(db); err != nil {
		logger.Error("seed event catalog", zap.Error(err))
		os.Exit(1)
	}

	backends, err := backend.BuildRegistry(cfg, db)
	if err != nil {
		logger.Error("build backend registry", zap.Error(err))
		os.Exit(1)
	}

	var chat *backend.ChatWebhook
	if cfg.Grapevine.Chat.WebhookURL != "" {
		chat, err = backend.NewChatWebhook(cfg.Grapevine.Chat.WebhookURL, cfg.Grapevine.Chat.AuthToken,
			cfg.Grapevine.SendTimeout, cfg.Grapevine.FailSilently)
		if err != nil {
			logger.Error("build chat webhook", zap.Error(err))
			os.Exit(1)
		}
	}

	registry := sendable.NewRegistry()
	baseURL := fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	sendSvc := service.NewSendService(db, backends, chat, cfg.Grapevine, baseURL)

	var sender service.Sender
	if cfg.Grapevine.SenderStrategy == "async" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		sender = service.NewAsynchronousSender(repository.NewQueueRepository(db), rdb, cfg.Redis.SendQueue)
	} else {
		sender = service.NewSynchronousSender(sendSvc)
	}

	ctx := context.Background()

	if !*eventsOnly {
		scheduler := service.NewScheduler(db, registry, sender)
		numSent, numTypes := scheduler.DeliverMessages(ctx)
		logger.Info("send pass complete", zap.Int("sent", numSent), zap.Int("types", numTypes))
	}

	if !*sendOnly {
		processor := service.NewEventProcessor(db, backends)
		n, err := processor.ProcessAllBackends(ctx, *limit)
		if err != nil {
			logger.Error("event pass incomplete", zap.Int("processed", n), zap.Error(err))
		} else {
			logger.Info("event pass complete", zap.Int("processed", n))
		}
	}
}
