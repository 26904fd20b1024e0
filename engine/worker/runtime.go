// Package worker implements the Worker Runtime (spec §4.3, C7): one
// handler per queue, each following the same precondition-check,
// process, complete-or-retry skeleton. Grounded on the teacher's
// cmd/ingest main.go directory-watch loop, generalized from "watch a
// directory, process with one code path" into "dequeue from a named
// queue, dispatch to a phase-specific handler".
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mentorfy/ingestpipe/engine/chunk"
	"github.com/mentorfy/ingestpipe/engine/domain"
	"github.com/mentorfy/ingestpipe/engine/extract"
	"github.com/mentorfy/ingestpipe/engine/graph"
	"github.com/mentorfy/ingestpipe/engine/pipeline"
	"github.com/mentorfy/ingestpipe/engine/queue"
	"github.com/mentorfy/ingestpipe/engine/store"
	"github.com/mentorfy/ingestpipe/pkg/metrics"
	"github.com/mentorfy/ingestpipe/pkg/storage"
)

// ChunkingPayload is the chunking queue's required payload (spec §6).
type ChunkingPayload struct {
	PipelineJobID  string  `json:"pipeline_job_id"`
	DocumentID     string  `json:"document_id"`
	TextLocation   string  `json:"text_location"`
	SourceName     string  `json:"source_name"`
	SourcePlatform string  `json:"source_platform"`
	TenantID       string  `json:"tenant_id"`
	RetryCount     int     `json:"retry_count"`
	ParentPhaseID  *string `json:"parent_phase_id"`
}

// KGIngestPayload is the kg_ingest queue's required payload (spec §6).
type KGIngestPayload struct {
	PipelineJobID  string  `json:"pipeline_job_id"`
	DocumentID     string  `json:"document_id"`
	SourceName     string  `json:"source_name"`
	SourcePlatform string  `json:"source_platform"`
	TenantID       string  `json:"tenant_id"`
	RetryCount     int     `json:"retry_count"`
	ParentPhaseID  *string `json:"parent_phase_id"`
}

// TokenStore resolves a stored OAuth token for a (user, tenant) pair,
// the origin adapter's authorization source (spec §6: "resolution
// requires an OAuth token row keyed by (user_id, tenant_id)").
type TokenStore interface {
	GetToken(ctx context.Context, userID, tenantID string) (*storage.GDriveDownloader, extract.OriginFile, error)
}

// Runtime wires every dependency the four phase handlers need.
type Runtime struct {
	Store       store.Store
	Broker      queue.Broker
	Gateway     *storage.Gateway
	Chunker     *chunk.Generator
	Ingestor    *graph.Ingestor
	Transcriber *extract.TranscriptionClient
	Media       *extract.MediaPreprocessor
	Tokens      TokenStore
	Events      EventPublisher
	Metrics     *metrics.Registry
	Log         *slog.Logger
}

func (r *Runtime) phaseMetrics() *phaseMetrics {
	return newPhaseMetrics(r.Metrics)
}

// EventPublisher fans out job-completion notifications for downstream
// consumers (spec §9 supplemented feature); the runtime calls it only
// when a job completes.
type EventPublisher interface {
	PublishJobEvent(ctx context.Context, jobID, documentID string, status domain.JobStatus) error
}

func (r *Runtime) logger() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

// precondition fetches the owning job and reports whether the handler
// should proceed. A missing, cancelled or completed job means the
// handler returns "skipped" without touching anything else (a failed
// job is not skipped)
// (spec §4.3 step 1, §4.7a).
func (r *Runtime) precondition(ctx context.Context, jobID string) (domain.PipelineJob, bool, error) {
	job, err := r.Store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobGone) {
			return domain.PipelineJob{}, false, nil
		}
		return domain.PipelineJob{}, false, fmt.Errorf("worker: fetch job %s: %w", jobID, err)
	}
	if job.Status == domain.JobCancelled || job.Status == domain.JobCompleted {
		return job, false, nil
	}
	return job, true, nil
}

func (r *Runtime) publish(ctx context.Context, job domain.PipelineJob) {
	if r.Events == nil {
		return
	}
	if err := r.Events.PublishJobEvent(ctx, job.ID, job.DocumentID, job.Status); err != nil {
		r.logger().Warn("publish job event failed", "job_id", job.ID, "error", err)
	}
}

// RunExtraction drains the extraction queue until ctx is cancelled.
func (r *Runtime) RunExtraction(ctx context.Context) error {
	return r.loop(ctx, queue.Extraction, r.handleExtraction)
}

// RunChunking drains the chunking queue until ctx is cancelled.
func (r *Runtime) RunChunking(ctx context.Context) error {
	return r.loop(ctx, queue.Chunking, r.handleChunking)
}

// RunKGIngest drains the kg_ingest queue until ctx is cancelled.
func (r *Runtime) RunKGIngest(ctx context.Context) error {
	return r.loop(ctx, queue.KGIngest, r.handleKGIngest)
}

// RunIngestExtract drains the ingest_extract queue until ctx is
// cancelled.
func (r *Runtime) RunIngestExtract(ctx context.Context) error {
	return r.loop(ctx, queue.IngestExtract, r.handleIngestExtract)
}

func (r *Runtime) loop(ctx context.Context, queueName string, handle func(context.Context, queue.Item) error) error {
	for {
		item, ok, err := r.Broker.Dequeue(ctx, queueName)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger().Error("dequeue failed", "queue", queueName, "error", err)
			continue
		}
		if !ok {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		if err := handle(ctx, item); err != nil {
			// The handler's own contract is to never raise (spec §4.3);
			// reaching here means a store/broker-level failure outside
			// that contract, logged and left for the orphan reaper.
			r.logger().Error("handler returned error outside its boundary", "queue", queueName, "error", err)
			_ = r.Broker.Fail(ctx, queueName, item.JobID)
			continue
		}
		if err := r.Broker.Complete(ctx, queueName, item.JobID); err != nil {
			r.logger().Error("broker complete failed", "queue", queueName, "error", err)
		}
	}
}

func (r *Runtime) handleExtraction(ctx context.Context, item queue.Item) error {
	var p pipeline.ExtractionPayload
	if err := json.Unmarshal(item.Payload, &p); err != nil {
		return fmt.Errorf("worker: decode extraction payload: %w", err)
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

	phase := domain.PipelinePhase{
		ID:            uuid.NewString(),
		JobID:         job.ID,
		Phase:         domain.PhaseExtraction,
		Status:        domain.StatusProcessing,
		RetryCount:    p.RetryCount,
		ParentPhaseID: p.ParentPhaseID,
		QueuedAt:      time.Now().UTC(),
	}
	expected := pipeline.ExpectedCompletion(domain.PhaseExtraction, time.Now().UTC())
	phase, err = r.Store.CreatePhase(ctx, phase)
	if err != nil {
		return fmt.Errorf("worker: create extraction phase: %w", err)
	}
	if err := r.Store.StartPhase(ctx, phase.ID, expected); err != nil {
		return fmt.Errorf("worker: start extraction phase: %w", err)
	}

	text, handlerErr := r.extractFromRaw(ctx, p.RawLocation, p.FileType)
	if handlerErr != nil {
		r.phaseMetrics().failed(string(domain.PhaseExtraction), domain.ErrorTypeOf(handlerErr))
		return FailAndRetryExtraction(ctx, r, job, phase, p, handlerErr)
	}

	if text == "" {
		if err := r.Store.CompletePhase(ctx, phase.ID, "", map[string]any{"empty_extraction": true}); err != nil {
			return err
		}
		r.phaseMetrics().completed(string(domain.PhaseExtraction))
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
		return fmt.Errorf("worker: store extracted text: %w", err)
	}
	if err := r.Store.CompletePhase(ctx, phase.ID, textKey, nil); err != nil {
		return err
	}
	r.phaseMetrics().completed(string(domain.PhaseExtraction))
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

// FailAndRetryExtraction is split out so the ingest_extract handler
// (which performs the same extraction step after its own ingestion
// step) can share the identical retry-scheduling contract.
func FailAndRetryExtraction(ctx context.Context, r *Runtime, job domain.PipelineJob, phase domain.PipelinePhase, p pipeline.ExtractionPayload, handlerErr error) error {
	return pipeline.FailAndSchedule(ctx, r.Store, r.Broker, queue.Extraction, job, phase, handlerErr, func(retryCount int, newPhaseID string) ([]byte, error) {
		p.RetryCount = retryCount
		p.ParentPhaseID = &newPhaseID
		return json.Marshal(p)
	})
}

// extractFromRaw downloads raw_location and dispatches on MIME to the
// document parser, subtitle stripper, or transcription path
// (spec §4.4).
func (r *Runtime) extractFromRaw(ctx context.Context, rawLocation, fileType string) (string, error) {
	body, err := r.Gateway.GetRaw(ctx, rawLocation)
	if err != nil {
		return "", fmt.Errorf("worker: download raw %s: %w", rawLocation, err)
	}
	defer body.Close()

	data, err := readAll(body)
	if err != nil {
		return "", fmt.Errorf("worker: read raw %s: %w", rawLocation, err)
	}
	return r.extractBytes(ctx, fileType, data)
}

func (r *Runtime) extractBytes(ctx context.Context, mimeType string, data []byte) (string, error) {
	cat, err := extract.Categorize(mimeType)
	if err != nil {
		return "", err
	}
	if err := extract.CheckSize(cat, int64(len(data))); err != nil {
		return "", err
	}

	switch cat {
	case extract.CategoryDocument:
		return extract.ExtractDocument(mimeType, data)
	case extract.CategorySubtitle:
		return extract.ExtractSubtitle(mimeType, data)
	case extract.CategoryAudio, extract.CategoryVideo:
		return r.transcribe(ctx, cat, mimeType, data)
	default:
		return "", fmt.Errorf("worker: unhandled category %s: %w", cat, domain.ErrUnsupportedMIME)
	}
}

func (r *Runtime) transcribe(ctx context.Context, cat extract.Category, mimeType string, data []byte) (string, error) {
	audioPath, err := r.Media.PrepareAudioSource(ctx, cat, mimeType, data)
	if err != nil {
		return "", err
	}
	defer removeTemp(audioPath)

	f, err := openFile(audioPath)
	if err != nil {
		return "", fmt.Errorf("worker: open prepared audio: %w", err)
	}
	defer f.Close()

	transcript, err := r.Transcriber.Transcribe(ctx, f, "audio/mpeg")
	if err != nil {
		return "", fmt.Errorf("worker: transcribe: %w", err)
	}
	return transcript.Text, nil
}

func (r *Runtime) handleChunking(ctx context.Context, item queue.Item) error {
	var p ChunkingPayload
	if err := json.Unmarshal(item.Payload, &p); err != nil {
		return fmt.Errorf("worker: decode chunking payload: %w", err)
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

	phase := domain.PipelinePhase{
		ID:            uuid.NewString(),
		JobID:         job.ID,
		Phase:         domain.PhaseChunking,
		Status:        domain.StatusProcessing,
		RetryCount:    p.RetryCount,
		ParentPhaseID: p.ParentPhaseID,
		QueuedAt:      time.Now().UTC(),
	}
	expected := pipeline.ExpectedCompletion(domain.PhaseChunking, time.Now().UTC())
	phase, err = r.Store.CreatePhase(ctx, phase)
	if err != nil {
		return fmt.Errorf("worker: create chunking phase: %w", err)
	}
	if err := r.Store.StartPhase(ctx, phase.ID, expected); err != nil {
		return fmt.Errorf("worker: start chunking phase: %w", err)
	}

	failRetry := func(handlerErr error) error {
		r.phaseMetrics().failed(string(domain.PhaseChunking), domain.ErrorTypeOf(handlerErr))
		return pipeline.FailAndSchedule(ctx, r.Store, r.Broker, queue.Chunking, job, phase, handlerErr, func(retryCount int, newPhaseID string) ([]byte, error) {
			p.RetryCount = retryCount
			p.ParentPhaseID = &newPhaseID
			return json.Marshal(p)
		})
	}

	text, err := r.Gateway.GetExtractedText(ctx, p.TextLocation)
	if err != nil {
		return failRetry(fmt.Errorf("worker: fetch extracted text: %w", err))
	}

	chunked, err := r.Chunker.Generate(ctx, p.SourceName, text)
	if err != nil {
		return failRetry(err)
	}

	rows := make([]domain.DocumentChunk, len(chunked))
	for i, c := range chunked {
		rows[i] = domain.DocumentChunk{
			ID:         uuid.NewString(),
			DocumentID: p.DocumentID,
			ChunkIndex: c.Index,
			Content:    c.Content,
			Context:    c.Context,
			TokenCount: c.Tokens,
			CharStart:  c.CharStart,
			CharEnd:    c.CharEnd,
		}
	}
	if err := r.Store.InsertChunks(ctx, rows); err != nil {
		return failRetry(fmt.Errorf("worker: insert chunks: %w", err))
	}

	if err := r.Store.CompletePhase(ctx, phase.ID, "", map[string]any{"chunk_count": len(rows)}); err != nil {
		return err
	}
	r.phaseMetrics().completed(string(domain.PhaseChunking))
	if err := r.Store.UpdateJobPhase(ctx, job.ID, domain.PhaseKGIngest); err != nil {
		return err
	}

	kgPhase := domain.PipelinePhase{
		ID:       uuid.NewString(),
		JobID:    job.ID,
		Phase:    domain.PhaseKGIngest,
		Status:   domain.StatusQueued,
		QueuedAt: time.Now().UTC(),
	}
	if _, err := r.Store.CreatePhase(ctx, kgPhase); err != nil {
		return fmt.Errorf("worker: create kg_ingest phase: %w", err)
	}

	payload, err := json.Marshal(KGIngestPayload{
		PipelineJobID:  job.ID,
		DocumentID:     p.DocumentID,
		SourceName:     p.SourceName,
		SourcePlatform: p.SourcePlatform,
		TenantID:       p.TenantID,
	})
	if err != nil {
		return fmt.Errorf("worker: encode kg_ingest payload: %w", err)
	}
	if _, err := r.Broker.Enqueue(ctx, queue.KGIngest, payload, fmt.Sprintf("kg_ingest %s", p.DocumentID)); err != nil {
		return fmt.Errorf("worker: enqueue kg_ingest: %w", err)
	}
	return nil
}

func (r *Runtime) handleKGIngest(ctx context.Context, item queue.Item) error {
	var p KGIngestPayload
	if err := json.Unmarshal(item.Payload, &p); err != nil {
		return fmt.Errorf("worker: decode kg_ingest payload: %w", err)
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

	phase := domain.PipelinePhase{
		ID:            uuid.NewString(),
		JobID:         job.ID,
		Phase:         domain.PhaseKGIngest,
		Status:        domain.StatusProcessing,
		RetryCount:    p.RetryCount,
		ParentPhaseID: p.ParentPhaseID,
		QueuedAt:      time.Now().UTC(),
	}
	expected := pipeline.ExpectedCompletion(domain.PhaseKGIngest, time.Now().UTC())
	phase, err = r.Store.CreatePhase(ctx, phase)
	if err != nil {
		return fmt.Errorf("worker: create kg_ingest phase: %w", err)
	}
	if err := r.Store.StartPhase(ctx, phase.ID, expected); err != nil {
		return fmt.Errorf("worker: start kg_ingest phase: %w", err)
	}

	failRetry := func(handlerErr error) error {
		r.phaseMetrics().failed(string(domain.PhaseKGIngest), domain.ErrorTypeOf(handlerErr))
		return pipeline.FailAndSchedule(ctx, r.Store, r.Broker, queue.KGIngest, job, phase, handlerErr, func(retryCount int, newPhaseID string) ([]byte, error) {
			p.RetryCount = retryCount
			p.ParentPhaseID = &newPhaseID
			return json.Marshal(p)
		})
	}

	docChunks, err := r.Store.ChunksForDocument(ctx, p.DocumentID)
	if err != nil {
		return failRetry(fmt.Errorf("worker: fetch chunks: %w", err))
	}

	doc, err := r.Store.GetDocument(ctx, p.DocumentID)
	if err != nil {
		return failRetry(fmt.Errorf("worker: fetch document: %w", err))
	}

	ingestChunks := make([]graph.Chunk, len(docChunks))
	for i, c := range docChunks {
		ingestChunks[i] = graph.Chunk{
			ID:            c.ID,
			Name:          fmt.Sprintf("%s - Chunk %d", p.SourceName, c.ChunkIndex),
			Content:       fmt.Sprintf("%s\n\n%s", c.Context, c.Content),
			ReferenceTime: doc.CreatedAt,
		}
	}

	if err := r.Ingestor.IngestDocument(ctx, p.TenantID, p.DocumentID, ingestChunks); err != nil {
		return failRetry(err)
	}

	if err := r.Store.CompletePhase(ctx, phase.ID, "", map[string]any{"episode_count": len(ingestChunks)}); err != nil {
		return err
	}
	r.phaseMetrics().completed(string(domain.PhaseKGIngest))
	if err := r.Store.UpdateJobPhase(ctx, job.ID, domain.PhaseCompleted); err != nil {
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
