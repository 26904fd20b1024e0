package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mentorfy/ingestpipe/engine/domain"
	"github.com/mentorfy/ingestpipe/engine/queue"
	"github.com/mentorfy/ingestpipe/engine/store"
)

// Coordinator is the Pipeline Coordinator (spec §4.1, C8): it submits
// new pipelines and cancels in-flight ones. Grounded on the teacher's
// cmd/ingest main.go watch-loop, generalized from "discover a file and
// hand it to one worker" into "create job/phase rows and enqueue".
type Coordinator struct {
	store  store.Store
	broker queue.Broker
	log    *slog.Logger
}

// NewCoordinator builds a Coordinator.
func NewCoordinator(st store.Store, broker queue.Broker, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{store: st, broker: broker, log: log}
}

// ExtractionPayload is the extraction queue's required payload (spec §6).
type ExtractionPayload struct {
	PipelineJobID  string `json:"pipeline_job_id"`
	DocumentID     string `json:"document_id"`
	RawLocation    string `json:"raw_location"`
	FileType       string `json:"file_type"`
	SourceName     string `json:"source_name"`
	SourcePlatform string `json:"source_platform"`
	TenantID       string `json:"tenant_id"`
	RetryCount     int    `json:"retry_count"`
	ParentPhaseID  *string `json:"parent_phase_id"`
}

// IngestExtractPayload is the ingest_extract queue's required payload
// (spec §6).
type IngestExtractPayload struct {
	PipelineJobID        string  `json:"pipeline_job_id"`
	DocumentID           string  `json:"document_id"`
	SourceLocation       string  `json:"source_location"`
	FileType             string  `json:"file_type"`
	SourceName           string  `json:"source_name"`
	SourcePlatform       string  `json:"source_platform"`
	TenantID             string  `json:"tenant_id"`
	StoreRaw             bool    `json:"store_raw"`
	UserID               string  `json:"user_id"`
	RetryCount           int     `json:"retry_count"`
	ParentIngestPhaseID  *string `json:"parent_ingest_phase_id"`
	ParentExtractPhaseID *string `json:"parent_extract_phase_id"`
}

// Submit creates a pipeline_job for doc (spec §4.1): current_phase is
// `extraction` when rawLocation is given, else `ingestion`. Exactly one
// of rawLocation/sourceLocation must be set (domain.ValidateSubmission
// enforces this). Returns the job id and the first phase's broker job
// id.
func (c *Coordinator) Submit(ctx context.Context, doc domain.Document, tenantID, rawLocation, sourceLocation string, storeRaw bool, userID string) (jobID, firstPhaseJobID string, err error) {
	if err := domain.ValidateSubmission(doc, tenantID, rawLocation, sourceLocation); err != nil {
		return "", "", err
	}

	firstPhase := domain.PhaseIngestion
	if rawLocation != "" {
		firstPhase = domain.PhaseExtraction
	}

	job := domain.PipelineJob{
		ID:           uuid.NewString(),
		DocumentID:   doc.ID,
		TenantID:     tenantID,
		CurrentPhase: firstPhase,
		Status:       domain.JobPending,
		Metadata:     map[string]any{},
		CreatedAt:    time.Now().UTC(),
	}
	job, err = c.store.CreateJob(ctx, job)
	if err != nil {
		return "", "", fmt.Errorf("pipeline: create job: %w", err)
	}

	if rawLocation != "" {
		// Local-upload path: synthetic skipped ingestion phase keeps
		// phase history uniform (spec §4.1).
		skipped := domain.PipelinePhase{
			ID:        uuid.NewString(),
			JobID:     job.ID,
			Phase:     domain.PhaseIngestion,
			Status:    domain.StatusSkipped,
			QueuedAt:  time.Now().UTC(),
		}
		if _, err := c.store.CreatePhase(ctx, skipped); err != nil {
			return "", "", fmt.Errorf("pipeline: create synthetic ingestion phase: %w", err)
		}

		extractionPhase := domain.PipelinePhase{
			ID:       uuid.NewString(),
			JobID:    job.ID,
			Phase:    domain.PhaseExtraction,
			Status:   domain.StatusQueued,
			QueuedAt: time.Now().UTC(),
		}
		extractionPhase, err = c.store.CreatePhase(ctx, extractionPhase)
		if err != nil {
			return "", "", fmt.Errorf("pipeline: create extraction phase: %w", err)
		}

		payload, err := json.Marshal(ExtractionPayload{
			PipelineJobID:  job.ID,
			DocumentID:     doc.ID,
			RawLocation:    rawLocation,
			FileType:       doc.FileType,
			SourceName:     doc.SourceName,
			SourcePlatform: doc.SourcePlatform,
			TenantID:       tenantID,
			RetryCount:     0,
		})
		if err != nil {
			return "", "", fmt.Errorf("pipeline: encode extraction payload: %w", err)
		}
		broketJobID, err := c.broker.Enqueue(ctx, queue.Extraction, payload, fmt.Sprintf("extract %s", doc.ID))
		if err != nil {
			return "", "", fmt.Errorf("pipeline: enqueue extraction: %w", err)
		}
		return job.ID, broketJobID, nil
	}

	ingestPhase := domain.PipelinePhase{
		ID:       uuid.NewString(),
		JobID:    job.ID,
		Phase:    domain.PhaseIngestion,
		Status:   domain.StatusQueued,
		QueuedAt: time.Now().UTC(),
	}
	ingestPhase, err = c.store.CreatePhase(ctx, ingestPhase)
	if err != nil {
		return "", "", fmt.Errorf("pipeline: create ingestion phase: %w", err)
	}

	payload, err := json.Marshal(IngestExtractPayload{
		PipelineJobID:  job.ID,
		DocumentID:     doc.ID,
		SourceLocation: sourceLocation,
		FileType:       doc.FileType,
		SourceName:     doc.SourceName,
		SourcePlatform: doc.SourcePlatform,
		TenantID:       tenantID,
		StoreRaw:       storeRaw,
		UserID:         userID,
		RetryCount:     0,
	})
	if err != nil {
		return "", "", fmt.Errorf("pipeline: encode ingest_extract payload: %w", err)
	}
	brokerJobID, err := c.broker.Enqueue(ctx, queue.IngestExtract, payload, fmt.Sprintf("ingest %s", doc.ID))
	if err != nil {
		return "", "", fmt.Errorf("pipeline: enqueue ingest_extract: %w", err)
	}
	_ = ingestPhase
	return job.ID, brokerJobID, nil
}

// Cancel marks every non-terminal pipeline_job for documentID, and
// their non-terminal phases, cancelled (spec §4.1). It does not reach
// into the broker to remove queued items; cancellation propagates
// cooperatively via each handler's precondition check (spec §4.7a).
func (c *Coordinator) Cancel(ctx context.Context, documentID, tenantID string) error {
	jobs, err := c.store.ActiveJobsForDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("pipeline: cancel: list active jobs: %w", err)
	}
	for _, job := range jobs {
		if job.TenantID != tenantID {
			return fmt.Errorf("pipeline: cancel: %w", domain.ErrTenantMismatch)
		}
		if err := c.store.CancelNonTerminalPhasesForJob(ctx, job.ID, "Document was deleted"); err != nil {
			return fmt.Errorf("pipeline: cancel phases for job %s: %w", job.ID, err)
		}
		if err := c.store.UpdateJobStatus(ctx, job.ID, domain.JobCancelled, true); err != nil {
			return fmt.Errorf("pipeline: cancel job %s: %w", job.ID, err)
		}
	}
	return nil
}
