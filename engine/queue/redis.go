package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisBroker implements Broker over go-redis, following evalgo's
// queue/redis/queue.go shape: RPush/BLPop for the ready list, a sorted
// set scored by deadline for items currently being processed (the
// "processing" set), generalized here with one additional sorted set
// per queue for delayed (not-yet-ripe) items.
type RedisBroker struct {
	client *redis.Client
	prefix string
}

// NewRedisBroker wraps an existing go-redis client.
func NewRedisBroker(client *redis.Client, prefix string) *RedisBroker {
	if prefix == "" {
		prefix = "pipeline"
	}
	return &RedisBroker{client: client, prefix: prefix}
}

var _ Broker = (*RedisBroker)(nil)

func (b *RedisBroker) readyKey(queue string) string      { return fmt.Sprintf("%s:queue:%s:ready", b.prefix, queue) }
func (b *RedisBroker) delayedKey(queue string) string    { return fmt.Sprintf("%s:queue:%s:delayed", b.prefix, queue) }
func (b *RedisBroker) processingKey(queue string) string { return fmt.Sprintf("%s:queue:%s:processing", b.prefix, queue) }
func (b *RedisBroker) itemKey(queue, id string) string   { return fmt.Sprintf("%s:queue:%s:item:%s", b.prefix, queue, id) }

type wireItem struct {
	JobID       string    `json:"job_id"`
	Payload     []byte    `json:"payload"`
	Description string    `json:"description"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

func (b *RedisBroker) Enqueue(ctx context.Context, queueName string, payload []byte, description string) (string, error) {
	id := uuid.NewString()
	item := wireItem{JobID: id, Payload: payload, Description: description, EnqueuedAt: time.Now().UTC()}
	blob, err := json.Marshal(item)
	if err != nil {
		return "", err
	}
	pipe := b.client.TxPipeline()
	pipe.RPush(ctx, b.readyKey(queueName), blob)
	pipe.HSet(ctx, b.itemKey(queueName, id), map[string]any{
		"status":      string(StatusQueued),
		"progress":    0,
		"enqueued_at": item.EnqueuedAt.Format(time.RFC3339Nano),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("queue: enqueue: %w", err)
	}
	return id, nil
}

func (b *RedisBroker) EnqueueIn(ctx context.Context, queueName string, delay time.Duration, payload []byte, description string) (string, error) {
	id := uuid.NewString()
	notBefore := time.Now().Add(delay)
	item := wireItem{JobID: id, Payload: payload, Description: description, EnqueuedAt: time.Now().UTC()}
	blob, err := json.Marshal(item)
	if err != nil {
		return "", err
	}
	pipe := b.client.TxPipeline()
	pipe.ZAdd(ctx, b.delayedKey(queueName), redis.Z{Score: float64(notBefore.Unix()), Member: blob})
	pipe.HSet(ctx, b.itemKey(queueName, id), map[string]any{
		"status":      string(StatusDeferred),
		"progress":    0,
		"enqueued_at": item.EnqueuedAt.Format(time.RFC3339Nano),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("queue: enqueue_in: %w", err)
	}
	return id, nil
}

// MigrateDueDelayed moves items whose score (ready-at unix seconds)
// has elapsed from the delayed set into the ready list.
func (b *RedisBroker) MigrateDueDelayed(ctx context.Context, queueName string) (int, error) {
	now := float64(time.Now().Unix())
	members, err := b.client.ZRangeByScore(ctx, b.delayedKey(queueName), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: migrate: scan: %w", err)
	}
	if len(members) == 0 {
		return 0, nil
	}
	pipe := b.client.TxPipeline()
	for _, m := range members {
		pipe.RPush(ctx, b.readyKey(queueName), m)
		pipe.ZRem(ctx, b.delayedKey(queueName), m)
		var it wireItem
		if json.Unmarshal([]byte(m), &it) == nil {
			pipe.HSet(ctx, b.itemKey(queueName, it.JobID), "status", string(StatusQueued))
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("queue: migrate: move: %w", err)
	}
	return len(members), nil
}

func (b *RedisBroker) Dequeue(ctx context.Context, queueName string) (Item, bool, error) {
	res, err := b.client.BLPop(ctx, 5*time.Second, b.readyKey(queueName)).Result()
	if err == redis.Nil {
		return Item{}, false, nil
	}
	if err != nil {
		return Item{}, false, fmt.Errorf("queue: dequeue: %w", err)
	}
	var it wireItem
	if err := json.Unmarshal([]byte(res[1]), &it); err != nil {
		return Item{}, false, fmt.Errorf("queue: dequeue: decode: %w", err)
	}

	timeout := DefaultTimeout[queueName]
	if timeout == 0 {
		timeout = 30 * time.Minute
	}
	deadline := time.Now().Add(timeout)

	pipe := b.client.TxPipeline()
	pipe.ZAdd(ctx, b.processingKey(queueName), redis.Z{Score: float64(deadline.Unix()), Member: it.JobID})
	pipe.HSet(ctx, b.itemKey(queueName, it.JobID), "status", string(StatusStarted), "started_at", time.Now().Format(time.RFC3339Nano))
	if _, err := pipe.Exec(ctx); err != nil {
		return Item{}, false, fmt.Errorf("queue: dequeue: mark processing: %w", err)
	}

	return Item{
		JobID:       it.JobID,
		Queue:       queueName,
		Payload:     it.Payload,
		Description: it.Description,
		EnqueuedAt:  it.EnqueuedAt,
		Timeout:     timeout,
	}, true, nil
}

func (b *RedisBroker) Complete(ctx context.Context, queueName, jobID string) error {
	pipe := b.client.TxPipeline()
	pipe.ZRem(ctx, b.processingKey(queueName), jobID)
	pipe.HSet(ctx, b.itemKey(queueName, jobID), "status", string(StatusFinished), "progress", 100,
		"finished_at", time.Now().Format(time.RFC3339Nano))
	pipe.Expire(ctx, b.itemKey(queueName, jobID), 24*time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}

func (b *RedisBroker) Fail(ctx context.Context, queueName, jobID string) error {
	pipe := b.client.TxPipeline()
	pipe.ZRem(ctx, b.processingKey(queueName), jobID)
	pipe.HSet(ctx, b.itemKey(queueName, jobID), "status", string(StatusFinished),
		"finished_at", time.Now().Format(time.RFC3339Nano))
	pipe.Expire(ctx, b.itemKey(queueName, jobID), 24*time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}

func (b *RedisBroker) Fetch(ctx context.Context, queueName, jobID string) (Meta, error) {
	vals, err := b.client.HGetAll(ctx, b.itemKey(queueName, jobID)).Result()
	if err != nil {
		return Meta{}, err
	}
	if len(vals) == 0 {
		return Meta{}, fmt.Errorf("queue: fetch: job %s not found", jobID)
	}
	var meta Meta
	meta.Status = Status(vals["status"])
	if v, ok := vals["progress"]; ok {
		fmt.Sscanf(v, "%d", &meta.Progress)
	}
	if v, ok := vals["enqueued_at"]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			meta.EnqueuedAt = t
		}
	}
	if v, ok := vals["started_at"]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			meta.StartedAt = &t
		}
	}
	if v, ok := vals["finished_at"]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			meta.FinishedAt = &t
		}
	}
	return meta, nil
}

func (b *RedisBroker) QueueDepth(ctx context.Context, queueName string) (int64, error) {
	return b.client.LLen(ctx, b.readyKey(queueName)).Result()
}

// OrphanedInFlight returns job ids whose processing deadline has
// passed without a terminal HSET — the queue-level backstop alongside
// the relational Orphan Reaper (spec §4.2 "Failure mode").
func (b *RedisBroker) OrphanedInFlight(ctx context.Context, queueName string) ([]string, error) {
	now := float64(time.Now().Unix())
	return b.client.ZRangeByScore(ctx, b.processingKey(queueName), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%f", now),
	}).Result()
}
