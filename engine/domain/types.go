// Package domain defines the core entities of the document ingestion
// pipeline: documents, pipeline jobs and phases, chunks, and the
// knowledge-graph provenance table that links them together.
package domain

import "time"

// PhaseLabel names one step of the pipeline topology. Topology is
// fixed and known at compile time (spec §1 Non-goals).
type PhaseLabel string

const (
	PhaseIngestion PhaseLabel = "ingestion"
	PhaseExtraction PhaseLabel = "extraction"
	PhaseChunking   PhaseLabel = "chunking"
	PhaseKGIngest   PhaseLabel = "kg_ingest"
	PhaseCompleted  PhaseLabel = "completed"
)

// JobStatus is the lifecycle state of a PipelineJob.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status is one a job never leaves.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// PhaseStatus is the lifecycle state of a single PipelinePhase attempt.
type PhaseStatus string

const (
	StatusQueued     PhaseStatus = "queued"
	StatusProcessing PhaseStatus = "processing"
	StatusCompleted  PhaseStatus = "completed"
	StatusFailed     PhaseStatus = "failed"
	StatusSkipped    PhaseStatus = "skipped"
	StatusCancelled  PhaseStatus = "cancelled"
)

// Terminal reports whether the phase status is one a phase row never leaves.
func (s PhaseStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkipped, StatusCancelled:
		return true
	}
	return false
}

// DocumentStatus tracks the document's own processing status, distinct
// from its pipeline job's status (spec §4.8: "document's processing
// status is not touched by the worker on failure").
type DocumentStatus string

const (
	DocStatusPending    DocumentStatus = "pending"
	DocStatusProcessing DocumentStatus = "processing"
	DocStatusAvailable  DocumentStatus = "available"
	DocStatusFailed     DocumentStatus = "failed"
)

// Document is a single uploaded or imported source file, owned by
// exactly one tenant for its entire lifetime.
type Document struct {
	ID             string
	TenantID       string
	FileType       string // extension label or MIME, see extract.Categorize
	SourcePlatform string // "upload", "gdrive", ...
	SourceName     string
	FolderID       string
	Metadata       Metadata
	Status         DocumentStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PipelineJob is one logical ingestion of one document.
type PipelineJob struct {
	ID           string
	DocumentID   string
	TenantID     string
	CurrentPhase PhaseLabel
	Status       JobStatus
	Metadata     map[string]any // retry_at, retry_count, last_error
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	UpdatedAt    time.Time
}

// PipelinePhase is one attempt at one named step. Failed attempts are
// preserved; a retry inserts a new row with ParentPhaseID pointing at
// the attempt it retries (spec §3, §9 "Parent-phase graph").
type PipelinePhase struct {
	ID        string
	JobID     string
	Phase     PhaseLabel
	Status    PhaseStatus
	RetryCount int

	// ParentPhaseID chains retries of the same (job, phase label).
	ParentPhaseID *string

	// ParentIngestPhaseID / ParentExtractPhaseID back the dual-row
	// ingest_extract handler (spec §4.4, §9): two parallel chains
	// instead of one, modeled as two nullable foreign keys rather than
	// shared list machinery.
	ParentIngestPhaseID  *string
	ParentExtractPhaseID *string

	InputLocation  string
	OutputLocation string

	QueuedAt             time.Time
	StartedAt             *time.Time
	CompletedAt           *time.Time
	ExpectedCompletionAt  *time.Time

	ErrorType    string
	ErrorMessage string

	Metadata map[string]any
}

// DocumentChunk is one contextualized, sentence-aligned slice of a
// document's extracted text.
type DocumentChunk struct {
	ID         string
	DocumentID string
	ChunkIndex int
	Content    string
	Context    string
	TokenCount int
	CharStart  int
	CharEnd    int
}

// KGEntityMapping is the reconciliation ledger between one chunk and
// the episode the graph engine created for it. Deleting all rows for a
// document is the deletion coordinator's pointer to what must be
// removed from the graph engine too.
type KGEntityMapping struct {
	ID           string
	TenantID     string
	DocumentID   string
	ExternalID   string // episode uuid from the graph engine
	Provider     string // currently only one supported value
	ChunkIDs     []string
	CreatedAt    time.Time
}
