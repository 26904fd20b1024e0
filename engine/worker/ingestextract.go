package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mentorfy/ingestpipe/engine/domain"
	"github.com/mentorfy/ingestpipe/engine/extract"
	"github.com/mentorfy/ingestpipe/engine/pipeline"
	"github.com/mentorfy/ingestpipe/engine/queue"
)

// handleIngestExtract is the external-source path (spec §4.4): a
// single invocation writes two phase rows, ingestion then extraction,
// so large audio/video bytes never touch the object store unless
// store_raw is set. It is the only handler with two phase rows per
// invocation and two parent-phase chains (parent_ingest_phase_id,
// parent_extract_phase_id).
func (r *Runtime) handleIngestExtract(ctx context.Context, item queue.Item) error {
	var p pipeline.IngestExtractPayload
	if err := json.Unmarshal(item.Payload, &p); err != nil {
		return fmt.Errorf("worker: decode ingest_extract payload: %w", err)
	}

	job, proceed, err := r.precondition(ctx, p.PipelineJobID)
	if err != nil {
		return err
	}
	if !proceed {
		return nil
	}
	if p.RetryCount > 0 {
		if err := pipeline.ClearRetryAt(ctx, r.Store, job.ID); err != nil {
			return err
		}
	}

	now := time.Now().UTC()

	ingestionPhase := domain.PipelinePhase{
		ID:                  uuid.NewString(),
		JobID:               job.ID,
		Phase:               domain.PhaseIngestion,
		Status:              domain.StatusProcessing,
		RetryCount:          p.RetryCount,
		ParentIngestPhaseID: p.ParentIngestPhaseID,
		QueuedAt:            now,
	}
	ingestionPhase, err = r.Store.CreatePhase(ctx, ingestionPhase)
	if err != nil {
		return fmt.Errorf("worker: create ingestion phase: %w", err)
	}
	if err := r.Store.StartPhase(ctx, ingestionPhase.ID, pipeline.ExpectedCompletion(domain.PhaseIngestion, now)); err != nil {
		return fmt.Errorf("worker: start ingestion phase: %w", err)
	}

	extractionPhase := domain.PipelinePhase{
		ID:                   uuid.NewString(),
		JobID:                job.ID,
		Phase:                domain.PhaseExtraction,
		Status:               domain.StatusQueued,
		RetryCount:           p.RetryCount,
		ParentExtractPhaseID: p.ParentExtractPhaseID,
		QueuedAt:             now,
	}
	extractionPhase, err = r.Store.CreatePhase(ctx, extractionPhase)
	if err != nil {
		return fmt.Errorf("worker: create extraction phase: %w", err)
	}

	failBoth := func(handlerErr error) error {
		errorType := domain.ErrorTypeOf(handlerErr)
		if err := r.Store.FailPhase(ctx, ingestionPhase.ID, errorType, handlerErr.Error()); err != nil {
			return err
		}
		if err := r.Store.FailPhase(ctx, extractionPhase.ID, errorType, handlerErr.Error()); err != nil {
			return err
		}

		decision := pipeline.Classify(handlerErr, p.RetryCount)
		if !decision.Retry {
			return r.Store.UpdateJobStatus(ctx, job.ID, domain.JobFailed, true)
		}

		retryAt := time.Now().UTC().Add(decision.Delay)
		newIngest := domain.PipelinePhase{
			ID:                  uuid.NewString(),
			JobID:               job.ID,
			Phase:               domain.PhaseIngestion,
			Status:              domain.StatusQueued,
			RetryCount:          decision.RetryCount,
			ParentIngestPhaseID: &ingestionPhase.ID,
			QueuedAt:            retryAt,
		}
		newIngest, err := r.Store.CreatePhase(ctx, newIngest)
		if err != nil {
			return fmt.Errorf("worker: create ingestion retry phase: %w", err)
		}
		newExtract := domain.PipelinePhase{
			ID:                   uuid.NewString(),
			JobID:                job.ID,
			Phase:                domain.PhaseExtraction,
			Status:               domain.StatusQueued,
			RetryCount:           decision.RetryCount,
			ParentExtractPhaseID: &extractionPhase.ID,
			QueuedAt:             retryAt,
		}
		newExtract, err = r.Store.CreatePhase(ctx, newExtract)
		if err != nil {
			return fmt.Errorf("worker: create extraction retry phase: %w", err)
		}

		if err := r.Store.MergeJobMetadata(ctx, job.ID, map[string]any{
			"retry_at":    retryAt.Format(time.RFC3339),
			"retry_count": decision.RetryCount,
			"last_error":  handlerErr.Error(),
		}); err != nil {
			return err
		}

		p.RetryCount = decision.RetryCount
		p.ParentIngestPhaseID = &newIngest.ID
		p.ParentExtractPhaseID = &newExtract.ID
		payload, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("worker: encode retry payload: %w", err)
		}
		if _, err := r.Broker.EnqueueIn(ctx, queue.IngestExtract, decision.Delay, payload, fmt.Sprintf("retry ingest %s", p.DocumentID)); err != nil {
			return fmt.Errorf("worker: enqueue ingest_extract retry: %w", err)
		}
		return nil
	}

	downloader, origin, err := r.Tokens.GetToken(ctx, p.UserID, p.TenantID)
	if err != nil {
		return failBoth(fmt.Errorf("worker: resolve origin token: %w", err))
	}

	data, err := extract.DownloadOrigin(ctx, downloader, origin)
	if err != nil {
		return failBoth(err)
	}

	if err := r.Store.CompletePhase(ctx, ingestionPhase.ID, "", nil); err != nil {
		return err
	}

	if p.StoreRaw {
		ext := extract.ExtensionFor(p.FileType)
		if _, err := r.Gateway.PutRaw(ctx, p.DocumentID, ext, bytes.NewReader(data), p.FileType); err != nil {
			return failBoth(fmt.Errorf("worker: store raw bytes: %w", err))
		}
	}

	if err := r.Store.StartPhase(ctx, extractionPhase.ID, pipeline.ExpectedCompletion(domain.PhaseExtraction, time.Now().UTC())); err != nil {
		return fmt.Errorf("worker: start extraction phase: %w", err)
	}

	text, err := r.extractBytes(ctx, p.FileType, data)
	if err != nil {
		return failBoth(err)
	}

	if text == "" {
		if err := r.Store.CompletePhase(ctx, extractionPhase.ID, "", map[string]any{"empty_extraction": true}); err != nil {
			return err
		}
		if err := r.Store.UpdateJobStatus(ctx, job.ID, domain.JobCompleted, true); err != nil {
			return err
		}
		if err := r.Store.UpdateDocumentStatus(ctx, p.DocumentID, domain.DocStatusAvailable); err != nil {
			return err
		}
		job.Status = domain.JobCompleted
		r.publish(ctx, job)
		return nil
	}

	textKey, err := r.Gateway.PutExtractedText(ctx, p.DocumentID, text)
	if err != nil {
		return failBoth(fmt.Errorf("worker: store extracted text: %w", err))
	}
	if err := r.Store.CompletePhase(ctx, extractionPhase.ID, textKey, nil); err != nil {
		return err
	}
	if err := r.Store.UpdateJobPhase(ctx, job.ID, domain.PhaseChunking); err != nil {
		return err
	}

	chunkPhase := domain.PipelinePhase{
		ID:       uuid.NewString(),
		JobID:    job.ID,
		Phase:    domain.PhaseChunking,
		Status:   domain.StatusQueued,
		QueuedAt: time.Now().UTC(),
	}
	if _, err := r.Store.CreatePhase(ctx, chunkPhase); err != nil {
		return fmt.Errorf("worker: create chunking phase: %w", err)
	}

	payload, err := json.Marshal(ChunkingPayload{
		PipelineJobID:  job.ID,
		DocumentID:     p.DocumentID,
		TextLocation:   textKey,
		SourceName:     p.SourceName,
		SourcePlatform: p.SourcePlatform,
		TenantID:       p.TenantID,
	})
	if err != nil {
		return fmt.Errorf("worker: encode chunking payload: %w", err)
	}
	if _, err := r.Broker.Enqueue(ctx, queue.Chunking, payload, fmt.Sprintf("chunk %s", p.DocumentID)); err != nil {
		return fmt.Errorf("worker: enqueue chunking: %w", err)
	}
	return nil
}
