package store

import (
	"context"
	"sync"
	"time"

	"github.com/mentorfy/ingestpipe/engine/domain"
)

// Mem is an in-memory Store. It is not used in production, and no test
// suite in this repo constructs it: the pipeline tests use their own
// in-package fakeStore, following the teacher's small-fake test style.
type Mem struct {
	mu        sync.Mutex
	documents map[string]domain.Document
	jobs      map[string]domain.PipelineJob
	phases    map[string]domain.PipelinePhase
	chunks    map[string][]domain.DocumentChunk
	mappings  map[string][]domain.KGEntityMapping
}

// NewMem creates an empty in-memory store.
func NewMem() *Mem {
	return &Mem{
		documents: map[string]domain.Document{},
		jobs:      map[string]domain.PipelineJob{},
		phases:    map[string]domain.PipelinePhase{},
		chunks:    map[string][]domain.DocumentChunk{},
		mappings:  map[string][]domain.KGEntityMapping{},
	}
}

var _ Store = (*Mem)(nil)

// PutDocument seeds a document for a test.
func (m *Mem) PutDocument(d domain.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[d.ID] = d
}

func (m *Mem) CreateDocument(_ context.Context, doc domain.Document) (domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc.Status == "" {
		doc.Status = domain.DocStatusPending
	}
	doc.CreatedAt = time.Now()
	doc.UpdatedAt = doc.CreatedAt
	m.documents[doc.ID] = doc
	return doc, nil
}

func (m *Mem) GetDocument(_ context.Context, id string) (domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok {
		return d, domain.ErrJobGone
	}
	return d, nil
}

func (m *Mem) UpdateDocumentStatus(_ context.Context, id string, status domain.DocumentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.documents[id]
	d.Status = status
	d.UpdatedAt = time.Now()
	m.documents[id] = d
	return nil
}

func (m *Mem) UpdateDocumentMetadata(_ context.Context, id string, meta domain.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.documents[id]
	d.Metadata = meta
	m.documents[id] = d
	return nil
}

func (m *Mem) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.documents, id)
	delete(m.chunks, id)
	delete(m.mappings, id)
	for jid, j := range m.jobs {
		if j.DocumentID == id {
			delete(m.jobs, jid)
		}
	}
	return nil
}

func (m *Mem) CreateJob(_ context.Context, job domain.PipelineJob) (domain.PipelineJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job.CreatedAt = time.Now()
	job.UpdatedAt = job.CreatedAt
	m.jobs[job.ID] = job
	return job, nil
}

func (m *Mem) GetJob(_ context.Context, id string) (domain.PipelineJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return j, domain.ErrJobGone
	}
	return j, nil
}

func (m *Mem) UpdateJobPhase(_ context.Context, id string, phase domain.PhaseLabel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[id]
	j.CurrentPhase = phase
	j.UpdatedAt = time.Now()
	m.jobs[id] = j
	return nil
}

func (m *Mem) UpdateJobStatus(_ context.Context, id string, status domain.JobStatus, completedAt bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[id]
	j.Status = status
	if completedAt {
		now := time.Now()
		j.CompletedAt = &now
	}
	j.UpdatedAt = time.Now()
	m.jobs[id] = j
	return nil
}

func (m *Mem) MergeJobMetadata(_ context.Context, id string, updates map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[id]
	j.Metadata = domain.MergeJobMetadata(j.Metadata, updates)
	m.jobs[id] = j
	return nil
}

func (m *Mem) ActiveJobsForDocument(_ context.Context, documentID string) ([]domain.PipelineJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PipelineJob
	for _, j := range m.jobs {
		if j.DocumentID == documentID && (j.Status == domain.JobPending || j.Status == domain.JobProcessing) {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *Mem) CreatePhase(_ context.Context, ph domain.PipelinePhase) (domain.PipelinePhase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ph.QueuedAt.IsZero() {
		ph.QueuedAt = time.Now()
	}
	m.phases[ph.ID] = ph
	return ph, nil
}

func (m *Mem) GetPhase(_ context.Context, id string) (domain.PipelinePhase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ph, ok := m.phases[id]
	if !ok {
		return ph, domain.ErrJobGone
	}
	return ph, nil
}

func (m *Mem) StartPhase(_ context.Context, id string, expectedCompletionAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ph := m.phases[id]
	ph.Status = domain.StatusProcessing
	now := time.Now()
	ph.StartedAt = &now
	ph.ExpectedCompletionAt = &expectedCompletionAt
	m.phases[id] = ph
	return nil
}

func (m *Mem) CompletePhase(_ context.Context, id string, outputLocation string, meta map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ph := m.phases[id]
	ph.Status = domain.StatusCompleted
	now := time.Now()
	ph.CompletedAt = &now
	ph.OutputLocation = outputLocation
	if ph.Metadata == nil {
		ph.Metadata = map[string]any{}
	}
	for k, v := range meta {
		ph.Metadata[k] = v
	}
	m.phases[id] = ph
	return nil
}

func (m *Mem) FailPhase(_ context.Context, id string, errorType, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ph := m.phases[id]
	ph.Status = domain.StatusFailed
	now := time.Now()
	ph.CompletedAt = &now
	ph.ErrorType = errorType
	ph.ErrorMessage = errorMessage
	m.phases[id] = ph
	return nil
}

func (m *Mem) CancelNonTerminalPhasesForJob(_ context.Context, jobID string, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ph := range m.phases {
		if ph.JobID == jobID && (ph.Status == domain.StatusQueued || ph.Status == domain.StatusProcessing) {
			ph.Status = domain.StatusCancelled
			now := time.Now()
			ph.CompletedAt = &now
			ph.ErrorMessage = message
			m.phases[id] = ph
		}
	}
	return nil
}

func (m *Mem) OrphanedPhases(_ context.Context) ([]domain.PipelinePhase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PipelinePhase
	now := time.Now()
	for _, ph := range m.phases {
		if ph.Status == domain.StatusProcessing && ph.ExpectedCompletionAt != nil && ph.ExpectedCompletionAt.Before(now) {
			out = append(out, ph)
		}
	}
	return out, nil
}

func (m *Mem) InsertChunks(_ context.Context, chunks []domain.DocumentChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(chunks) == 0 {
		return nil
	}
	m.chunks[chunks[0].DocumentID] = append([]domain.DocumentChunk{}, chunks...)
	return nil
}

func (m *Mem) ChunksForDocument(_ context.Context, documentID string) ([]domain.DocumentChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.DocumentChunk{}, m.chunks[documentID]...), nil
}

func (m *Mem) InsertMapping(_ context.Context, e domain.KGEntityMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.CreatedAt = time.Now()
	m.mappings[e.DocumentID] = append(m.mappings[e.DocumentID], e)
	return nil
}

func (m *Mem) MappingsForDocument(_ context.Context, documentID string) ([]domain.KGEntityMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.KGEntityMapping{}, m.mappings[documentID]...), nil
}

func (m *Mem) DeleteMappingsForDocument(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mappings, documentID)
	return nil
}
