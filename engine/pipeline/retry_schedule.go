package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mentorfy/ingestpipe/engine/domain"
	"github.com/mentorfy/ingestpipe/engine/queue"
	"github.com/mentorfy/ingestpipe/engine/store"
)

// FailAndSchedule is the shared "step 6" of the worker runtime skeleton
// (spec §4.3): mark the failed phase's terminal status, then either
// schedule a retry phase + requeue, or give up and fail the job
// (spec §4.8). buildPayload receives the new retry count and the new
// phase's id (to carry forward as parent_phase_id) and returns the
// JSON payload to requeue.
func FailAndSchedule(ctx context.Context, st store.Store, broker queue.Broker, queueName string, job domain.PipelineJob, failedPhase domain.PipelinePhase, handlerErr error, buildPayload func(retryCount int, newPhaseID string) ([]byte, error)) error {
	errorType := domain.ErrorTypeOf(handlerErr)
	if err := st.FailPhase(ctx, failedPhase.ID, errorType, handlerErr.Error()); err != nil {
		return fmt.Errorf("pipeline: mark phase %s failed: %w", failedPhase.ID, err)
	}

	decision := Classify(handlerErr, failedPhase.RetryCount)
	if !decision.Retry {
		return st.UpdateJobStatus(ctx, job.ID, domain.JobFailed, true)
	}

	now := time.Now().UTC()
	newPhase := domain.PipelinePhase{
		ID:            uuid.NewString(),
		JobID:         job.ID,
		Phase:         failedPhase.Phase,
		Status:        domain.StatusQueued,
		RetryCount:    decision.RetryCount,
		ParentPhaseID: &failedPhase.ID,
		QueuedAt:      now.Add(decision.Delay),
	}
	newPhase, err := st.CreatePhase(ctx, newPhase)
	if err != nil {
		return fmt.Errorf("pipeline: create retry phase: %w", err)
	}

	if err := st.MergeJobMetadata(ctx, job.ID, map[string]any{
		"retry_at":    newPhase.QueuedAt.Format(time.RFC3339),
		"retry_count": decision.RetryCount,
		"last_error":  handlerErr.Error(),
	}); err != nil {
		return fmt.Errorf("pipeline: merge retry metadata: %w", err)
	}

	payload, err := buildPayload(decision.RetryCount, newPhase.ID)
	if err != nil {
		return fmt.Errorf("pipeline: build retry payload: %w", err)
	}
	if _, err := broker.EnqueueIn(ctx, queueName, decision.Delay, payload, fmt.Sprintf("retry %s", job.DocumentID)); err != nil {
		return fmt.Errorf("pipeline: enqueue retry: %w", err)
	}
	return nil
}

// ClearRetryAt removes the retry_at hint from a job's metadata once a
// retried invocation has actually started (spec §4.3 step 2).
func ClearRetryAt(ctx context.Context, st store.Store, jobID string) error {
	return st.MergeJobMetadata(ctx, jobID, map[string]any{"retry_at": nil})
}
