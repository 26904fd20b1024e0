// Package store defines the relational persistence contract for the
// pipeline: documents, pipeline jobs/phases, chunks, and knowledge
// graph entity mappings. The relational store is the source of truth
// for job/phase/chunk/mapping state (spec §5).
package store

import (
	"context"
	"time"

	"github.com/mentorfy/ingestpipe/engine/domain"
)

// Store is the full relational contract used by the coordinator,
// worker runtime, reaper, and deletion coordinator.
type Store interface {
	DocumentStore
	JobStore
	PhaseStore
	ChunkStore
	MappingStore
}

// DocumentStore manages Document rows.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc domain.Document) (domain.Document, error)
	GetDocument(ctx context.Context, id string) (domain.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status domain.DocumentStatus) error
	UpdateDocumentMetadata(ctx context.Context, id string, meta domain.Metadata) error
	DeleteDocument(ctx context.Context, id string) error // cascades to chunks and mappings
}

// JobStore manages PipelineJob rows.
type JobStore interface {
	CreateJob(ctx context.Context, job domain.PipelineJob) (domain.PipelineJob, error)
	GetJob(ctx context.Context, id string) (domain.PipelineJob, error)
	UpdateJobPhase(ctx context.Context, id string, phase domain.PhaseLabel) error
	UpdateJobStatus(ctx context.Context, id string, status domain.JobStatus, completedAt bool) error
	MergeJobMetadata(ctx context.Context, id string, updates map[string]any) error
	ActiveJobsForDocument(ctx context.Context, documentID string) ([]domain.PipelineJob, error)
}

// PhaseStore manages PipelinePhase rows. Rows are append-only: created
// once per attempt, mutated only queued -> processing -> terminal.
type PhaseStore interface {
	CreatePhase(ctx context.Context, phase domain.PipelinePhase) (domain.PipelinePhase, error)
	GetPhase(ctx context.Context, id string) (domain.PipelinePhase, error)
	StartPhase(ctx context.Context, id string, expectedCompletionAt time.Time) error
	CompletePhase(ctx context.Context, id string, outputLocation string, meta map[string]any) error
	FailPhase(ctx context.Context, id string, errorType, errorMessage string) error
	CancelNonTerminalPhasesForJob(ctx context.Context, jobID string, message string) error
	OrphanedPhases(ctx context.Context) ([]domain.PipelinePhase, error)
}

// ChunkStore manages DocumentChunk rows, inserted in one atomic batch.
type ChunkStore interface {
	InsertChunks(ctx context.Context, chunks []domain.DocumentChunk) error
	ChunksForDocument(ctx context.Context, documentID string) ([]domain.DocumentChunk, error)
}

// MappingStore manages KGEntityMapping provenance rows.
type MappingStore interface {
	InsertMapping(ctx context.Context, m domain.KGEntityMapping) error
	MappingsForDocument(ctx context.Context, documentID string) ([]domain.KGEntityMapping, error)
	DeleteMappingsForDocument(ctx context.Context, documentID string) error
}
