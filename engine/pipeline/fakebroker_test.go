package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mentorfy/ingestpipe/engine/queue"
	"github.com/mentorfy/ingestpipe/engine/store"
)

var _ store.Store = (*fakeStore)(nil)

// fakeBroker records every enqueue call for assertions; it never
// actually dequeues, since the pipeline package only exercises the
// producer side (Coordinator, retry scheduling).
type fakeBroker struct {
	mu        sync.Mutex
	enqueued  []enqueued
	enqueuedIn []enqueuedIn
}

type enqueued struct {
	Queue       string
	Payload     []byte
	Description string
}

type enqueuedIn struct {
	Queue       string
	Delay       time.Duration
	Payload     []byte
	Description string
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{}
}

func (b *fakeBroker) Enqueue(_ context.Context, queueName string, payload []byte, description string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enqueued = append(b.enqueued, enqueued{Queue: queueName, Payload: payload, Description: description})
	return uuid.NewString(), nil
}

func (b *fakeBroker) EnqueueIn(_ context.Context, queueName string, delay time.Duration, payload []byte, description string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enqueuedIn = append(b.enqueuedIn, enqueuedIn{Queue: queueName, Delay: delay, Payload: payload, Description: description})
	return uuid.NewString(), nil
}

func (b *fakeBroker) Dequeue(_ context.Context, _ string) (queue.Item, bool, error) {
	return queue.Item{}, false, nil
}

func (b *fakeBroker) Complete(_ context.Context, _, _ string) error { return nil }
func (b *fakeBroker) Fail(_ context.Context, _, _ string) error     { return nil }

func (b *fakeBroker) Fetch(_ context.Context, _, jobID string) (queue.Meta, error) {
	return queue.Meta{}, fmt.Errorf("job %s not found", jobID)
}

func (b *fakeBroker) MigrateDueDelayed(_ context.Context, _ string) (int, error) { return 0, nil }
func (b *fakeBroker) QueueDepth(_ context.Context, _ string) (int64, error)      { return 0, nil }

var _ queue.Broker = (*fakeBroker)(nil)
