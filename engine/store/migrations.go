package store

// Schema is the relational schema for the pipeline's entities (spec
// §3) as a single idempotent statement batch. No cmd/ entrypoint in
// this repo executes it; this repo does not carry a migration runner,
// matching the teacher's scope (migration scripts are called out in
// spec §2's "Implementation budget" as peripheral surface).
const Schema = `
CREATE TABLE IF NOT EXISTS document (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	file_type       TEXT NOT NULL,
	source_platform TEXT NOT NULL,
	source_name     TEXT NOT NULL,
	folder_id       TEXT,
	metadata        JSONB NOT NULL DEFAULT '{}',
	status          TEXT NOT NULL DEFAULT 'pending',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pipeline_job (
	id             TEXT PRIMARY KEY,
	document_id    TEXT NOT NULL REFERENCES document(id) ON DELETE CASCADE,
	tenant_id      TEXT NOT NULL,
	current_phase  TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	metadata       JSONB NOT NULL DEFAULT '{}',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at     TIMESTAMPTZ,
	completed_at   TIMESTAMPTZ,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_pipeline_job_document ON pipeline_job(document_id);

CREATE TABLE IF NOT EXISTS pipeline_phase (
	id                       TEXT PRIMARY KEY,
	pipeline_job_id          TEXT NOT NULL REFERENCES pipeline_job(id) ON DELETE CASCADE,
	phase                    TEXT NOT NULL,
	status                   TEXT NOT NULL DEFAULT 'queued',
	retry_count              INT NOT NULL DEFAULT 0,
	parent_phase_id          TEXT REFERENCES pipeline_phase(id),
	parent_ingest_phase_id   TEXT REFERENCES pipeline_phase(id),
	parent_extract_phase_id  TEXT REFERENCES pipeline_phase(id),
	input_location           TEXT,
	output_location          TEXT,
	queued_at                TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at               TIMESTAMPTZ,
	completed_at             TIMESTAMPTZ,
	expected_completion_at   TIMESTAMPTZ,
	error_type               TEXT,
	error_message            TEXT,
	metadata                 JSONB NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_pipeline_phase_job ON pipeline_phase(pipeline_job_id);
CREATE INDEX IF NOT EXISTS idx_pipeline_phase_orphan ON pipeline_phase(status, expected_completion_at)
	WHERE status = 'processing';

CREATE TABLE IF NOT EXISTS document_chunk (
	id           TEXT PRIMARY KEY,
	document_id  TEXT NOT NULL REFERENCES document(id) ON DELETE CASCADE,
	chunk_index  INT NOT NULL,
	content      TEXT NOT NULL,
	context      TEXT NOT NULL DEFAULT '',
	token_count  INT NOT NULL,
	char_start   INT NOT NULL,
	char_end     INT NOT NULL,
	UNIQUE (document_id, chunk_index)
);

CREATE TABLE IF NOT EXISTS kg_entity_mapping (
	id           TEXT PRIMARY KEY,
	tenant_id    TEXT NOT NULL,
	document_id  TEXT NOT NULL REFERENCES document(id) ON DELETE CASCADE,
	external_id  TEXT NOT NULL,
	provider     TEXT NOT NULL,
	chunk_ids    TEXT[] NOT NULL DEFAULT '{}',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_kg_mapping_document ON kg_entity_mapping(document_id);
`
