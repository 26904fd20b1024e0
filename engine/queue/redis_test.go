package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestBroker(t *testing.T) (*RedisBroker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisBroker(client, "test"), mr
}

func TestEnqueueDequeueFIFO(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	id1, err := b.Enqueue(ctx, Chunking, []byte(`{"n":1}`), "first")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	id2, err := b.Enqueue(ctx, Chunking, []byte(`{"n":2}`), "second")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	item, ok, err := b.Dequeue(ctx, Chunking)
	if err != nil || !ok {
		t.Fatalf("dequeue: ok=%v err=%v", ok, err)
	}
	if item.JobID != id1 {
		t.Fatalf("expected FIFO order, got %s want %s", item.JobID, id1)
	}

	item2, ok, err := b.Dequeue(ctx, Chunking)
	if err != nil || !ok {
		t.Fatalf("dequeue: ok=%v err=%v", ok, err)
	}
	if item2.JobID != id2 {
		t.Fatalf("expected second item %s, got %s", id2, item2.JobID)
	}
}

func TestDelayedMigration(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	id, err := b.EnqueueIn(ctx, Chunking, 2*time.Second, []byte(`{}`), "delayed")
	if err != nil {
		t.Fatalf("enqueue_in: %v", err)
	}

	n, err := b.MigrateDueDelayed(ctx, Chunking)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 ripe items before delay elapses, got %d", n)
	}

	time.Sleep(2200 * time.Millisecond)

	n, err = b.MigrateDueDelayed(ctx, Chunking)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 ripe item after delay elapses, got %d", n)
	}

	item, ok, err := b.Dequeue(ctx, Chunking)
	if err != nil || !ok {
		t.Fatalf("dequeue after migration: ok=%v err=%v", ok, err)
	}
	if item.JobID != id {
		t.Fatalf("expected migrated item %s, got %s", id, item.JobID)
	}
}

func TestFetchProgressAndCompletion(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	id, err := b.Enqueue(ctx, KGIngest, []byte(`{}`), "probe")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	meta, err := b.Fetch(ctx, KGIngest, id)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if meta.Status != StatusQueued {
		t.Fatalf("expected queued, got %s", meta.Status)
	}

	if _, _, err := b.Dequeue(ctx, KGIngest); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := b.Complete(ctx, KGIngest, id); err != nil {
		t.Fatalf("complete: %v", err)
	}

	meta, err = b.Fetch(ctx, KGIngest, id)
	if err != nil {
		t.Fatalf("fetch after complete: %v", err)
	}
	if meta.Status != StatusFinished || meta.Progress != 100 {
		t.Fatalf("expected finished/100, got %s/%d", meta.Status, meta.Progress)
	}
}

func TestOrphanedInFlight(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	origTimeout := DefaultTimeout[Chunking]
	DefaultTimeout[Chunking] = 1 * time.Second
	defer func() { DefaultTimeout[Chunking] = origTimeout }()

	id, err := b.Enqueue(ctx, Chunking, []byte(`{}`), "will orphan")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, _, err := b.Dequeue(ctx, Chunking); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	time.Sleep(2200 * time.Millisecond)

	orphaned, err := b.OrphanedInFlight(ctx, Chunking)
	if err != nil {
		t.Fatalf("orphaned: %v", err)
	}
	if len(orphaned) != 1 || orphaned[0] != id {
		t.Fatalf("expected [%s], got %v", id, orphaned)
	}
}
