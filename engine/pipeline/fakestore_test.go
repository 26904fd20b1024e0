package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mentorfy/ingestpipe/engine/domain"
)

// fakeStore is an in-memory store.Store used across pipeline package
// tests, mirroring the shape of engine/store.Postgres without a real
// database.
type fakeStore struct {
	mu        sync.Mutex
	docs      map[string]domain.Document
	jobs      map[string]domain.PipelineJob
	phases    map[string]domain.PipelinePhase
	chunks    map[string][]domain.DocumentChunk
	mappings  map[string][]domain.KGEntityMapping
	deleted   map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:     map[string]domain.Document{},
		jobs:     map[string]domain.PipelineJob{},
		phases:   map[string]domain.PipelinePhase{},
		chunks:   map[string][]domain.DocumentChunk{},
		mappings: map[string][]domain.KGEntityMapping{},
		deleted:  map[string]bool{},
	}
}

func (s *fakeStore) CreateDocument(_ context.Context, doc domain.Document) (domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc.CreatedAt = time.Now()
	doc.UpdatedAt = doc.CreatedAt
	s.docs[doc.ID] = doc
	return doc, nil
}

func (s *fakeStore) GetDocument(_ context.Context, id string) (domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return domain.Document{}, fmt.Errorf("document %s not found", id)
	}
	return d, nil
}

func (s *fakeStore) UpdateDocumentStatus(_ context.Context, id string, status domain.DocumentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.docs[id]
	d.Status = status
	s.docs[id] = d
	return nil
}

func (s *fakeStore) UpdateDocumentMetadata(_ context.Context, id string, meta domain.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.docs[id]
	d.Metadata = meta
	s.docs[id] = d
	return nil
}

func (s *fakeStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	delete(s.chunks, id)
	delete(s.mappings, id)
	s.deleted[id] = true
	return nil
}

func (s *fakeStore) CreateJob(_ context.Context, job domain.PipelineJob) (domain.PipelineJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return job, nil
}

func (s *fakeStore) GetJob(_ context.Context, id string) (domain.PipelineJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return domain.PipelineJob{}, domain.ErrJobGone
	}
	return j, nil
}

func (s *fakeStore) UpdateJobPhase(_ context.Context, id string, phase domain.PhaseLabel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[id]
	j.CurrentPhase = phase
	s.jobs[id] = j
	return nil
}

func (s *fakeStore) UpdateJobStatus(_ context.Context, id string, status domain.JobStatus, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[id]
	j.Status = status
	s.jobs[id] = j
	return nil
}

func (s *fakeStore) MergeJobMetadata(_ context.Context, id string, updates map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[id]
	if j.Metadata == nil {
		j.Metadata = map[string]any{}
	}
	for k, v := range updates {
		j.Metadata[k] = v
	}
	s.jobs[id] = j
	return nil
}

func (s *fakeStore) ActiveJobsForDocument(_ context.Context, documentID string) ([]domain.PipelineJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PipelineJob
	for _, j := range s.jobs {
		if j.DocumentID == documentID && !j.Status.Terminal() {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *fakeStore) CreatePhase(_ context.Context, phase domain.PipelinePhase) (domain.PipelinePhase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phases[phase.ID] = phase
	return phase, nil
}

func (s *fakeStore) GetPhase(_ context.Context, id string) (domain.PipelinePhase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.phases[id]
	if !ok {
		return domain.PipelinePhase{}, fmt.Errorf("phase %s not found", id)
	}
	return p, nil
}

func (s *fakeStore) StartPhase(_ context.Context, id string, expected time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.phases[id]
	p.Status = domain.StatusProcessing
	now := time.Now()
	p.StartedAt = &now
	p.ExpectedCompletionAt = &expected
	s.phases[id] = p
	return nil
}

func (s *fakeStore) CompletePhase(_ context.Context, id string, outputLocation string, meta map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.phases[id]
	p.Status = domain.StatusCompleted
	p.OutputLocation = outputLocation
	now := time.Now()
	p.CompletedAt = &now
	if p.Metadata == nil {
		p.Metadata = map[string]any{}
	}
	for k, v := range meta {
		p.Metadata[k] = v
	}
	s.phases[id] = p
	return nil
}

func (s *fakeStore) FailPhase(_ context.Context, id string, errorType, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.phases[id]
	p.Status = domain.StatusFailed
	p.ErrorType = errorType
	p.ErrorMessage = errorMessage
	now := time.Now()
	p.CompletedAt = &now
	s.phases[id] = p
	return nil
}

func (s *fakeStore) CancelNonTerminalPhasesForJob(_ context.Context, jobID string, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.phases {
		if p.JobID != jobID || p.Status.Terminal() {
			continue
		}
		p.Status = domain.StatusCancelled
		p.ErrorMessage = message
		s.phases[id] = p
	}
	return nil
}

func (s *fakeStore) OrphanedPhases(_ context.Context) ([]domain.PipelinePhase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PipelinePhase
	now := time.Now()
	for _, p := range s.phases {
		if p.Status == domain.StatusProcessing && p.ExpectedCompletionAt != nil && p.ExpectedCompletionAt.Before(now) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) InsertChunks(_ context.Context, chunks []domain.DocumentChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(chunks) == 0 {
		return nil
	}
	s.chunks[chunks[0].DocumentID] = append(s.chunks[chunks[0].DocumentID], chunks...)
	return nil
}

func (s *fakeStore) ChunksForDocument(_ context.Context, documentID string) ([]domain.DocumentChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunks[documentID], nil
}

func (s *fakeStore) InsertMapping(_ context.Context, m domain.KGEntityMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings[m.DocumentID] = append(s.mappings[m.DocumentID], m)
	return nil
}

func (s *fakeStore) MappingsForDocument(_ context.Context, documentID string) ([]domain.KGEntityMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mappings[documentID], nil
}

func (s *fakeStore) DeleteMappingsForDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mappings, documentID)
	return nil
}
