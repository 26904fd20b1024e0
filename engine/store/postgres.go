package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mentorfy/ingestpipe/engine/domain"
)

// Postgres wraps a pgxpool.Pool and implements Store with raw SQL,
// following the teacher's own thin-wrapper-over-pgx convention
// (grounded on evalgo's db.PostgresDB).
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres dials a pgxpool against dsn.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the pool.
func (p *Postgres) Close() { p.pool.Close() }

var _ Store = (*Postgres)(nil)

func (p *Postgres) CreateDocument(ctx context.Context, doc domain.Document) (domain.Document, error) {
	if doc.Status == "" {
		doc.Status = domain.DocStatusPending
	}
	payload, _ := json.Marshal(map[string]any{"source": doc.Metadata.Source, "processing": doc.Metadata.Processing})
	row := p.pool.QueryRow(ctx, `
		INSERT INTO document (id, tenant_id, file_type, source_platform, source_name, folder_id, metadata, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, nullif($6, ''), $7, $8, now(), now())
		RETURNING created_at, updated_at`,
		doc.ID, doc.TenantID, doc.FileType, doc.SourcePlatform, doc.SourceName, doc.FolderID, payload, doc.Status)
	if err := row.Scan(&doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return doc, fmt.Errorf("store: create document: %w", err)
	}
	return doc, nil
}

func (p *Postgres) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	var d domain.Document
	var metaJSON []byte
	row := p.pool.QueryRow(ctx, `
		SELECT id, tenant_id, file_type, source_platform, source_name,
		       coalesce(folder_id, ''), metadata, status, created_at, updated_at
		FROM document WHERE id = $1`, id)
	if err := row.Scan(&d.ID, &d.TenantID, &d.FileType, &d.SourcePlatform, &d.SourceName,
		&d.FolderID, &metaJSON, &d.Status, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return d, fmt.Errorf("store: get document %s: %w", id, err)
	}
	d.Metadata = decodeMetadata(metaJSON)
	return d, nil
}

func (p *Postgres) UpdateDocumentStatus(ctx context.Context, id string, status domain.DocumentStatus) error {
	_, err := p.pool.Exec(ctx, `UPDATE document SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	return err
}

func (p *Postgres) UpdateDocumentMetadata(ctx context.Context, id string, meta domain.Metadata) error {
	payload, _ := json.Marshal(map[string]any{"source": meta.Source, "processing": meta.Processing})
	_, err := p.pool.Exec(ctx, `UPDATE document SET metadata = $2, updated_at = now() WHERE id = $1`, id, payload)
	return err
}

func (p *Postgres) DeleteDocument(ctx context.Context, id string) error {
	// Cascades to document_chunk and kg_entity_mapping via FK ON DELETE CASCADE.
	_, err := p.pool.Exec(ctx, `DELETE FROM document WHERE id = $1`, id)
	return err
}

func (p *Postgres) CreateJob(ctx context.Context, job domain.PipelineJob) (domain.PipelineJob, error) {
	metaJSON, _ := json.Marshal(job.Metadata)
	row := p.pool.QueryRow(ctx, `
		INSERT INTO pipeline_job (id, document_id, tenant_id, current_phase, status, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING created_at, updated_at`,
		job.ID, job.DocumentID, job.TenantID, job.CurrentPhase, job.Status, metaJSON)
	if err := row.Scan(&job.CreatedAt, &job.UpdatedAt); err != nil {
		return job, fmt.Errorf("store: create job: %w", err)
	}
	return job, nil
}

func (p *Postgres) GetJob(ctx context.Context, id string) (domain.PipelineJob, error) {
	var j domain.PipelineJob
	var metaJSON []byte
	row := p.pool.QueryRow(ctx, `
		SELECT id, document_id, tenant_id, current_phase, status, metadata,
		       created_at, started_at, completed_at, updated_at
		FROM pipeline_job WHERE id = $1`, id)
	if err := row.Scan(&j.ID, &j.DocumentID, &j.TenantID, &j.CurrentPhase, &j.Status, &metaJSON,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return j, domain.ErrJobGone
		}
		return j, fmt.Errorf("store: get job %s: %w", id, err)
	}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &j.Metadata)
	}
	return j, nil
}

func (p *Postgres) UpdateJobPhase(ctx context.Context, id string, phase domain.PhaseLabel) error {
	_, err := p.pool.Exec(ctx, `UPDATE pipeline_job SET current_phase = $2, updated_at = now() WHERE id = $1`, id, phase)
	return err
}

func (p *Postgres) UpdateJobStatus(ctx context.Context, id string, status domain.JobStatus, completedAt bool) error {
	if completedAt {
		_, err := p.pool.Exec(ctx, `UPDATE pipeline_job SET status = $2, completed_at = now(), updated_at = now() WHERE id = $1`, id, status)
		return err
	}
	_, err := p.pool.Exec(ctx, `UPDATE pipeline_job SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	return err
}

// MergeJobMetadata performs a read-modify-write merge so concurrent
// writers don't clobber each other's keys (spec §4.8 step 2).
func (p *Postgres) MergeJobMetadata(ctx context.Context, id string, updates map[string]any) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var metaJSON []byte
	if err := tx.QueryRow(ctx, `SELECT metadata FROM pipeline_job WHERE id = $1 FOR UPDATE`, id).Scan(&metaJSON); err != nil {
		return fmt.Errorf("store: merge job metadata: lock %s: %w", id, err)
	}
	existing := map[string]any{}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &existing)
	}
	merged := domain.MergeJobMetadata(existing, updates)
	payload, _ := json.Marshal(merged)
	if _, err := tx.Exec(ctx, `UPDATE pipeline_job SET metadata = $2, updated_at = now() WHERE id = $1`, id, payload); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *Postgres) ActiveJobsForDocument(ctx context.Context, documentID string) ([]domain.PipelineJob, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, document_id, tenant_id, current_phase, status, metadata, created_at, started_at, completed_at, updated_at
		FROM pipeline_job WHERE document_id = $1 AND status IN ('pending', 'processing')`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.PipelineJob
	for rows.Next() {
		var j domain.PipelineJob
		var metaJSON []byte
		if err := rows.Scan(&j.ID, &j.DocumentID, &j.TenantID, &j.CurrentPhase, &j.Status, &metaJSON,
			&j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.UpdatedAt); err != nil {
			return nil, err
		}
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &j.Metadata)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (p *Postgres) CreatePhase(ctx context.Context, ph domain.PipelinePhase) (domain.PipelinePhase, error) {
	metaJSON, _ := json.Marshal(ph.Metadata)
	row := p.pool.QueryRow(ctx, `
		INSERT INTO pipeline_phase (
			id, pipeline_job_id, phase, status, retry_count,
			parent_phase_id, parent_ingest_phase_id, parent_extract_phase_id,
			input_location, queued_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING queued_at`,
		ph.ID, ph.JobID, ph.Phase, ph.Status, ph.RetryCount,
		ph.ParentPhaseID, ph.ParentIngestPhaseID, ph.ParentExtractPhaseID,
		ph.InputLocation, ph.QueuedAt, metaJSON)
	if err := row.Scan(&ph.QueuedAt); err != nil {
		return ph, fmt.Errorf("store: create phase: %w", err)
	}
	return ph, nil
}

func (p *Postgres) GetPhase(ctx context.Context, id string) (domain.PipelinePhase, error) {
	var ph domain.PipelinePhase
	var metaJSON []byte
	row := p.pool.QueryRow(ctx, `
		SELECT id, pipeline_job_id, phase, status, retry_count,
		       parent_phase_id, parent_ingest_phase_id, parent_extract_phase_id,
		       input_location, output_location, queued_at, started_at, completed_at,
		       expected_completion_at, error_type, error_message, metadata
		FROM pipeline_phase WHERE id = $1`, id)
	if err := row.Scan(&ph.ID, &ph.JobID, &ph.Phase, &ph.Status, &ph.RetryCount,
		&ph.ParentPhaseID, &ph.ParentIngestPhaseID, &ph.ParentExtractPhaseID,
		&ph.InputLocation, &ph.OutputLocation, &ph.QueuedAt, &ph.StartedAt, &ph.CompletedAt,
		&ph.ExpectedCompletionAt, &ph.ErrorType, &ph.ErrorMessage, &metaJSON); err != nil {
		return ph, fmt.Errorf("store: get phase %s: %w", id, err)
	}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &ph.Metadata)
	}
	return ph, nil
}

func (p *Postgres) StartPhase(ctx context.Context, id string, expectedCompletionAt time.Time) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE pipeline_phase SET status = 'processing', started_at = now(), expected_completion_at = $2
		WHERE id = $1`, id, expectedCompletionAt)
	return err
}

func (p *Postgres) CompletePhase(ctx context.Context, id string, outputLocation string, meta map[string]any) error {
	payload, _ := json.Marshal(meta)
	_, err := p.pool.Exec(ctx, `
		UPDATE pipeline_phase SET status = 'completed', completed_at = now(),
		       output_location = $2, metadata = metadata || $3::jsonb
		WHERE id = $1`, id, outputLocation, payload)
	return err
}

func (p *Postgres) FailPhase(ctx context.Context, id string, errorType, errorMessage string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE pipeline_phase SET status = 'failed', completed_at = now(),
		       error_type = $2, error_message = $3
		WHERE id = $1`, id, errorType, errorMessage)
	return err
}

func (p *Postgres) CancelNonTerminalPhasesForJob(ctx context.Context, jobID string, message string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE pipeline_phase SET status = 'cancelled', completed_at = now(), error_message = $2
		WHERE pipeline_job_id = $1 AND status IN ('queued', 'processing')`, jobID, message)
	return err
}

func (p *Postgres) OrphanedPhases(ctx context.Context) ([]domain.PipelinePhase, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, pipeline_job_id, phase, started_at, expected_completion_at
		FROM pipeline_phase
		WHERE status = 'processing' AND expected_completion_at < now()`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var phases []domain.PipelinePhase
	for rows.Next() {
		var ph domain.PipelinePhase
		if err := rows.Scan(&ph.ID, &ph.JobID, &ph.Phase, &ph.StartedAt, &ph.ExpectedCompletionAt); err != nil {
			return nil, err
		}
		phases = append(phases, ph)
	}
	return phases, rows.Err()
}

func (p *Postgres) InsertChunks(ctx context.Context, chunks []domain.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`
			INSERT INTO document_chunk (id, document_id, chunk_index, content, context, token_count, char_start, char_end)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			c.ID, c.DocumentID, c.ChunkIndex, c.Content, c.Context, c.TokenCount, c.CharStart, c.CharEnd)
	}
	// All-or-nothing: run inside one transaction so a mid-batch failure
	// leaves zero rows (spec §3: "inserted atomically (all-or-nothing)").
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	br := tx.SendBatch(ctx, batch)
	for range chunks {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("store: insert chunks: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *Postgres) ChunksForDocument(ctx context.Context, documentID string) ([]domain.DocumentChunk, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, document_id, chunk_index, content, context, token_count, char_start, char_end
		FROM document_chunk WHERE document_id = $1 ORDER BY chunk_index ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []domain.DocumentChunk
	for rows.Next() {
		var c domain.DocumentChunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &c.Context, &c.TokenCount, &c.CharStart, &c.CharEnd); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (p *Postgres) InsertMapping(ctx context.Context, m domain.KGEntityMapping) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO kg_entity_mapping (id, tenant_id, document_id, external_id, provider, chunk_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())`,
		m.ID, m.TenantID, m.DocumentID, m.ExternalID, m.Provider, m.ChunkIDs)
	return err
}

func (p *Postgres) MappingsForDocument(ctx context.Context, documentID string) ([]domain.KGEntityMapping, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, tenant_id, document_id, external_id, provider, chunk_ids, created_at
		FROM kg_entity_mapping WHERE document_id = $1`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mappings []domain.KGEntityMapping
	for rows.Next() {
		var m domain.KGEntityMapping
		if err := rows.Scan(&m.ID, &m.TenantID, &m.DocumentID, &m.ExternalID, &m.Provider, &m.ChunkIDs, &m.CreatedAt); err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

func (p *Postgres) DeleteMappingsForDocument(ctx context.Context, documentID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM kg_entity_mapping WHERE document_id = $1`, documentID)
	return err
}

func decodeMetadata(raw []byte) domain.Metadata {
	if len(raw) == 0 {
		return domain.Metadata{Source: map[string]any{}, Processing: map[string]any{}}
	}
	var namespaced struct {
		Source     map[string]any `json:"source"`
		Processing map[string]any `json:"processing"`
	}
	if err := json.Unmarshal(raw, &namespaced); err == nil && (namespaced.Source != nil || namespaced.Processing != nil) {
		if namespaced.Source == nil {
			namespaced.Source = map[string]any{}
		}
		if namespaced.Processing == nil {
			namespaced.Processing = map[string]any{}
		}
		return domain.Metadata{Source: namespaced.Source, Processing: namespaced.Processing}
	}
	var flat map[string]any
	_ = json.Unmarshal(raw, &flat)
	return domain.MigrateFlatMetadata(flat)
}
