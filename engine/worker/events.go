package worker

import (
	"context"

	"github.com/nats-io/nats.go"

	"github.com/mentorfy/ingestpipe/engine/domain"
	"github.com/mentorfy/ingestpipe/pkg/natsutil"
)

// jobEvent is the wire shape published when a job completes (failed
// and cancelled transitions publish nothing), for any downstream consumer (UI live-updates, webhooks)
// to subscribe to (spec §9 supplemented feature).
type jobEvent struct {
	JobID      string           `json:"job_id"`
	DocumentID string           `json:"document_id"`
	Status     domain.JobStatus `json:"status"`
}

// NatsEventPublisher publishes job events over NATS subject
// "pipeline.job.events", following the teacher's pkg/natsutil generic
// publish helper.
type NatsEventPublisher struct {
	conn *nats.Conn
}

// NewNatsEventPublisher builds an EventPublisher backed by conn.
func NewNatsEventPublisher(conn *nats.Conn) *NatsEventPublisher {
	return &NatsEventPublisher{conn: conn}
}

const jobEventsSubject = "pipeline.job.events"

// PublishJobEvent implements Runtime.EventPublisher.
func (p *NatsEventPublisher) PublishJobEvent(ctx context.Context, jobID, documentID string, status domain.JobStatus) error {
	return natsutil.Publish(ctx, p.conn, jobEventsSubject, jobEvent{
		JobID:      jobID,
		DocumentID: documentID,
		Status:     status,
	})
}
