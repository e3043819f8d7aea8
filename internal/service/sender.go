package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/craiglabenz/grapevine/internal/repository"
	"github.com/craiglabenz/grapevine/internal/sendable"
)

// Sender is the strategy the scheduler hands eligible records to.
type Sender interface {
	Send(ctx context.Context, ct sendable.ChannelType, snd sendable.Sendable) sendable.Result
}

// SynchronousSender dispatches inline on the scheduler's goroutine.
type SynchronousSender struct {
	svc *SendService
}

func NewSynchronousSender(svc *SendService) *SynchronousSender {
	return &SynchronousSender{svc: svc}
}

func (s *SynchronousSender) Send(ctx context.Context, ct sendable.ChannelType, snd sendable.Sendable) sendable.Result {
	return s.svc.Send(ctx, ct, snd, SendOptions{})
}

// queueEnvelope is the wire format on the Redis send queue.
type queueEnvelope struct {
	Type string `json:"type"`
	ID   uint   `json:"id"`
}

// AsynchronousSender writes a ledger row and pushes an envelope to the
// Redis send queue for a worker to pick up. The ledger row goes in
// first: once it exists, subsequent scheduler passes will not see the
// record as eligible, so a slow worker cannot cause a double send.
type AsynchronousSender struct {
	queue    repository.QueueRepository
	rdb      *redis.Client
	queueKey string
}

func NewAsynchronousSender(queue repository.QueueRepository, rdb *redis.Client, queueKey string) *AsynchronousSender {
	return &AsynchronousSender{queue: queue, rdb: rdb, queueKey: queueKey}
}

func (s *AsynchronousSender) Send(ctx context.Context, ct sendable.ChannelType, snd sendable.Sendable) sendable.Result {
	created, err := s.queue.Denote(ctx, ct.Name, snd.PrimaryKey())
	if err != nil {
		return sendable.Result{Err: fmt.Errorf("denote queued message: %w", err)}
	}
	if !created {
		// A concurrent pass already ledgered this record; exactly one
		// envelope may exist per ledger row.
		return sendable.Result{Skipped: true}
	}
	payload, err := json.Marshal(queueEnvelope{Type: ct.Name, ID: snd.PrimaryKey()})
	if err != nil {
		return sendable.Result{Err: err}
	}
	if err := s.rdb.LPush(ctx, s.queueKey, payload).Err(); err != nil {
		// Undo the ledger row so the record is not stranded invisible
		// to both the scheduler and the workers.
		_ = s.queue.Remove(ctx, ct.Name, snd.PrimaryKey())
		return sendable.Result{Err: fmt.Errorf("enqueue send: %w", err)}
	}
	// Enqueued counts as handled for this scheduling pass.
	return sendable.Result{Sent: true}
}
