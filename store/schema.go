package store

import "fmt"

// schemaSQL returns the DDL for the semantic store. embeddingDim controls
// the vec0 virtual table dimension.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Tribunal decision registry, hash-based change detection for idempotent
-- re-ingestion.
CREATE TABLE IF NOT EXISTS documents (
    id INTEGER PRIMARY KEY,
    path TEXT NOT NULL UNIQUE,
    filename TEXT NOT NULL,
    case_reference TEXT NOT NULL UNIQUE,
    region TEXT,
    case_type TEXT,
    year INTEGER,
    content_hash TEXT NOT NULL,
    parse_method TEXT NOT NULL,
    status TEXT DEFAULT 'pending',
    metadata JSON,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Flat, section-kind-tagged chunks. No parent/child hierarchy:
-- a chunk either is a whole section or one bounded fragment of one.
CREATE TABLE IF NOT EXISTS chunks (
    id INTEGER PRIMARY KEY,
    document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    content TEXT NOT NULL,
    heading TEXT,
    section_kind TEXT NOT NULL,
    page_number INTEGER,
    position_in_doc INTEGER,
    token_count INTEGER,
    metadata JSON,
    content_hash TEXT NOT NULL
);

-- Dense vector index via sqlite-vec.
CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(
    chunk_id INTEGER PRIMARY KEY,
    embedding float[%d] distance_metric=cosine
);

-- Prediction audit log.
CREATE TABLE IF NOT EXISTS query_log (
    id INTEGER PRIMARY KEY,
    case_summary TEXT NOT NULL,
    outcome TEXT,
    confidence REAL,
    citations JSON,
    retrieval_method TEXT,
    model_used TEXT,
    retries INTEGER,
    prompt_tokens INTEGER DEFAULT 0,
    completion_tokens INTEGER DEFAULT 0,
    total_tokens INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_chunks_section_kind ON chunks(section_kind);
CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(content_hash);
CREATE INDEX IF NOT EXISTS idx_documents_case_reference ON documents(case_reference);
`, embeddingDim)
}
