package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/craiglabenz/grapevine/internal/repository"
	"github.com/craiglabenz/grapevine/internal/sendable"
	"github.com/craiglabenz/grapevine/pkg/logger"
)

// QueueWorker drains the Redis send queue. One goroutine blocks on
// BRPOP and fans envelopes out to a small worker pool; each worker
// resolves the envelope back to a live record and runs the normal send
// path.
type QueueWorker struct {
	db       *gorm.DB
	rdb      *redis.Client
	queueKey string
	registry *sendable.Registry
	svc      *SendService
	queue    repository.QueueRepository
	jobs     chan queueEnvelope
}

func NewQueueWorker(db *gorm.DB, rdb *redis.Client, queueKey string, registry *sendable.Registry, svc *SendService) *QueueWorker {
	return &QueueWorker{
		db:       db,
		rdb:      rdb,
		queueKey: queueKey,
		registry: registry,
		svc:      svc,
		queue:    repository.NewQueueRepository(db),
		jobs:     make(chan queueEnvelope, 256),
	}
}

// Start launches the poller and workers and returns a stop function
// that waits briefly for in-flight jobs to drain.
func (w *QueueWorker) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = 4
	}
	stopCh := make(chan struct{})

	go w.poll(stopCh)
	for i := 0; i < workers; i++ {
		go func() {
			for {
				select {
				case env := <-w.jobs:
					w.process(env)
				case <-stopCh:
					return
				}
			}
		}()
	}

	return func(ctx context.Context) error {
		close(stopCh)
		timeout := time.After(2 * time.Second)
		for {
			select {
			case <-timeout:
				return nil
			default:
				if len(w.jobs) == 0 {
					return nil
				}
				time.Sleep(50 * time.Millisecond)
			}
		}
	}
}

func (w *QueueWorker) poll(stopCh <-chan struct{}) {
	ctx := context.Background()
	for {
		select {
		case <-stopCh:
			return
		default:
		}
		res, err := w.rdb.BRPop(ctx, time.Second, w.queueKey).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				logger.Error("send queue poll failed", zap.Error(err))
				time.Sleep(time.Second)
			}
			continue
		}
		// BRPOP returns [key, value].
		if len(res) != 2 {
			continue
		}
		var env queueEnvelope
		if err := json.Unmarshal([]byte(res[1]), &env); err != nil {
			logger.Warn("dropping malformed queue envelope", zap.String("payload", res[1]), zap.Error(err))
			continue
		}
		w.jobs <- env
	}
}

func (w *QueueWorker) process(env queueEnvelope) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	ct, ok := w.registry.ByName(env.Type)
	if !ok {
		// Envelope from a type no longer registered, likely a deploy
		// raced the queue. Clear the ledger row so the record is not
		// wedged forever.
		logger.Warn("envelope for unregistered channel type", zap.String("type", env.Type), zap.Uint("id", env.ID))
		_ = w.queue.Remove(ctx, env.Type, env.ID)
		return
	}

	snd, err := ct.ByID(ctx, w.db, env.ID)
	if err != nil {
		if repository.IsNotFound(err) {
			logger.Warn("queued record no longer exists", zap.String("type", env.Type), zap.Uint("id", env.ID))
			_ = w.queue.Remove(ctx, env.Type, env.ID)
			return
		}
		logger.Error("failed to load queued record", zap.String("type", env.Type), zap.Uint("id", env.ID), zap.Error(err))
		return
	}

	res := w.svc.Send(ctx, ct, snd, SendOptions{})
	if res.Skipped {
		// Already sent by another path; the ledger row still needs to
		// come out since the skip short-circuits before dispatch.
		_ = w.queue.Remove(ctx, env.Type, env.ID)
	}
}
