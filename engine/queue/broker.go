// Package queue implements the Queue Broker (spec §4.2): named FIFO
// queues with delayed re-enqueue, backed by a shared KV store. Modeled
// on the teacher's Redis queue primitive as seen in the rest of the
// retrieved example pack (evalgo's queue/redis/queue.go): RPush/BLPop
// for FIFO semantics, a sorted set for tracking items that are
// in-flight past their deadline.
package queue

import (
	"context"
	"time"
)

// Names of the four pipeline queues (spec §6).
const (
	Extraction    = "extraction"
	IngestExtract = "ingest_extract"
	Chunking      = "chunking"
	KGIngest      = "kg_ingest"
)

// DefaultTimeout is the broker-level guard against a stuck handler
// (spec §4.2), keyed by queue name.
var DefaultTimeout = map[string]time.Duration{
	Extraction:    45 * time.Minute,
	IngestExtract: 60 * time.Minute,
	Chunking:      30 * time.Minute,
	KGIngest:      20 * time.Minute,
}

// Status is the broker-visible lifecycle of one enqueued item,
// distinct from the relational PipelinePhase status: this is queue
// bookkeeping only, used by fetch() for progress polling.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusDeferred   Status = "deferred" // delayed, not yet ripe
	StatusStarted    Status = "started"
	StatusFinished   Status = "finished"
)

// Item is one queue payload plus broker bookkeeping.
type Item struct {
	JobID       string // broker-internal id, distinct from domain.PipelineJob.ID
	Queue       string
	Payload     []byte // JSON-encoded, typed per queue (spec §6)
	Description string
	EnqueuedAt  time.Time
	NotBefore   time.Time // delayed items are not dequeueable before this instant
	Timeout     time.Duration
}

// Meta is what fetch() returns for progress polling.
type Meta struct {
	Status   Status
	Progress int // 0-100
	EnqueuedAt time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Broker is the Queue Broker contract (C6).
type Broker interface {
	// Enqueue places payload on queue immediately. Returns the
	// broker-internal job id.
	Enqueue(ctx context.Context, queueName string, payload []byte, description string) (string, error)

	// EnqueueIn places payload on queue, dequeueable only after delay
	// has elapsed. A separate scheduler migrates ripe items at least
	// every 5 seconds (spec §4.2).
	EnqueueIn(ctx context.Context, queueName string, delay time.Duration, payload []byte, description string) (string, error)

	// Dequeue blocks (bounded by ctx) for the next ripe item on
	// queueName and marks it "started" with the queue's default
	// timeout as its processing deadline.
	Dequeue(ctx context.Context, queueName string) (Item, bool, error)

	// Complete marks an in-flight item finished, clearing it from the
	// processing deadline set.
	Complete(ctx context.Context, queueName, jobID string) error

	// Fail marks an in-flight item finished (broker bookkeeping only;
	// the worker runtime, not the broker, decides whether to retry).
	Fail(ctx context.Context, queueName, jobID string) error

	// Fetch returns progress/status for a broker-internal job id.
	Fetch(ctx context.Context, queueName, jobID string) (Meta, error)

	// MigrateDueDelayed moves delayed items whose NotBefore has
	// elapsed into their queue's ready list. Called by the scheduler
	// process on a tight tick (spec §4.2: "at least once every 5
	// seconds").
	MigrateDueDelayed(ctx context.Context, queueName string) (int, error)

	// QueueDepth returns the number of ready (non-delayed) items
	// waiting on queueName.
	QueueDepth(ctx context.Context, queueName string) (int64, error)
}
