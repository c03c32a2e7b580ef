package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Document represents a row in the documents table — one ingested tribunal
// decision.
type Document struct {
	ID            int64  `json:"id"`
	Path          string `json:"path"`
	Filename      string `json:"filename"`
	CaseReference string `json:"case_reference"`
	Region        string `json:"region"`
	CaseType      string `json:"case_type"`
	Year          int    `json:"year"`
	ContentHash   string `json:"content_hash"`
	ParseMethod   string `json:"parse_method"`
	Status        string `json:"status"`
	Metadata      string `json:"metadata,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// Chunk represents a row in the chunks table.
type Chunk struct {
	ID            int64  `json:"id"`
	DocumentID    int64  `json:"document_id"`
	Content       string `json:"content"`
	Heading       string `json:"heading"`
	SectionKind   string `json:"section_kind"`
	PageNumber    int    `json:"page_number"`
	PositionInDoc int    `json:"position_in_doc"`
	TokenCount    int    `json:"token_count"`
	Metadata      string `json:"metadata,omitempty"`
	ContentHash   string `json:"content_hash"`
}

// QueryLog represents a row in the query_log table.
type QueryLog struct {
	CaseSummary      string      `json:"case_summary"`
	Outcome          string      `json:"outcome"`
	Confidence       float64     `json:"confidence"`
	Citations        interface{} `json:"citations"`
	RetrievalMethod  string      `json:"retrieval_method"`
	ModelUsed        string      `json:"model_used"`
	Retries          int         `json:"retries"`
	PromptTokens     int         `json:"prompt_tokens"`
	CompletionTokens int         `json:"completion_tokens"`
	TotalTokens      int         `json:"total_tokens"`
}

// RetrievalResult holds a chunk with its retrieval score and enough document
// context for reranking.
type RetrievalResult struct {
	ChunkID       int64   `json:"chunk_id"`
	DocumentID    int64   `json:"document_id"`
	Content       string  `json:"content"`
	Heading       string  `json:"heading"`
	SectionKind   string  `json:"section_kind"`
	PageNumber    int     `json:"page_number"`
	CaseReference string  `json:"case_reference"`
	Region        string  `json:"region"`
	CaseType      string  `json:"case_type"`
	Year          int     `json:"year"`
	Filename      string  `json:"filename"`
	Path          string  `json:"path"`
	Score         float64 `json:"score"`
}

// Store wraps the SQLite database holding the semantic index and document
// registry. The sparse (BM25) index lives separately — see package sparse —
// and is synchronized to this store's chunk IDs via RebuildFromChunks.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including the sqlite-vec virtual table.
func New(dbPath string, embeddingDim int) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) EmbeddingDim() int { return s.embeddingDim }

// --- Document operations ---

// UpsertDocument inserts or updates a document keyed by case reference, so
// re-ingesting the same decision is idempotent.
func (s *Store) UpsertDocument(ctx context.Context, doc Document) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (path, filename, case_reference, region, case_type, year, content_hash, parse_method, status, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(case_reference) DO UPDATE SET
			path = excluded.path,
			filename = excluded.filename,
			region = excluded.region,
			case_type = excluded.case_type,
			year = excluded.year,
			content_hash = excluded.content_hash,
			parse_method = excluded.parse_method,
			status = excluded.status,
			metadata = excluded.metadata,
			updated_at = CURRENT_TIMESTAMP
	`, doc.Path, doc.Filename, doc.CaseReference, doc.Region, doc.CaseType, doc.Year,
		doc.ContentHash, doc.ParseMethod, doc.Status, doc.Metadata)
	if err != nil {
		return 0, err
	}

	// LastInsertId is not updated when the DO UPDATE branch runs, so the id
	// is always read back by case reference.
	var id int64
	row := s.db.QueryRowContext(ctx, "SELECT id FROM documents WHERE case_reference = ?", doc.CaseReference)
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func scanDocument(row interface{ Scan(...interface{}) error }) (*Document, error) {
	doc := &Document{}
	var metadata, region, caseType sql.NullString
	var year sql.NullInt64
	if err := row.Scan(&doc.ID, &doc.Path, &doc.Filename, &doc.CaseReference,
		&region, &caseType, &year, &doc.ContentHash, &doc.ParseMethod, &doc.Status,
		&metadata, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	doc.Region = region.String
	doc.CaseType = caseType.String
	doc.Year = int(year.Int64)
	doc.Metadata = metadata.String
	return doc, nil
}

const documentColumns = `id, path, filename, case_reference, region, case_type, year, content_hash, parse_method, status, metadata, created_at, updated_at`

// GetDocumentByCaseReference retrieves a document by its case reference.
func (s *Store) GetDocumentByCaseReference(ctx context.Context, ref string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE case_reference = ?", ref)
	return scanDocument(row)
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id int64) (*Document, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
	return scanDocument(row)
}

// ListDocuments returns all documents ordered by creation time.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+documentColumns+" FROM documents ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

// UpdateDocumentStatus updates just the status field.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE documents SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", status, id)
	return err
}

// DeleteDocumentData removes all chunks and embeddings for a document but
// keeps the document record itself, for re-chunking without losing
// provenance.
func (s *Store) DeleteDocumentData(ctx context.Context, docID int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM vec_chunks WHERE chunk_id IN (SELECT id FROM chunks WHERE document_id = ?)", docID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", docID); err != nil {
			return err
		}
		return nil
	})
}

// ClearAll removes every document, chunk, and embedding.
func (s *Store) ClearAll(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			"DELETE FROM vec_chunks",
			"DELETE FROM chunks",
			"DELETE FROM documents",
		} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
}

// --- Chunk operations ---

// InsertChunks inserts a batch of chunks for a document and returns their
// real IDs in the same order as the input slice.
func (s *Store) InsertChunks(ctx context.Context, documentID int64, chunks []Chunk) ([]int64, error) {
	ids := make([]int64, len(chunks))

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (document_id, content, heading, section_kind, page_number, position_in_doc, token_count, metadata, content_hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, c := range chunks {
			res, err := stmt.ExecContext(ctx, documentID, c.Content, c.Heading, c.SectionKind,
				c.PageNumber, c.PositionInDoc, c.TokenCount, c.Metadata, c.ContentHash)
			if err != nil {
				return err
			}
			ids[i], err = res.LastInsertId()
			if err != nil {
				return err
			}
		}
		return nil
	})

	return ids, err
}

func scanChunk(row interface{ Scan(...interface{}) error }) (*Chunk, error) {
	var c Chunk
	var metadata sql.NullString
	if err := row.Scan(&c.ID, &c.DocumentID, &c.Content, &c.Heading, &c.SectionKind,
		&c.PageNumber, &c.PositionInDoc, &c.TokenCount, &metadata, &c.ContentHash); err != nil {
		return nil, err
	}
	c.Metadata = metadata.String
	return &c, nil
}

const chunkColumns = `id, document_id, content, heading, section_kind, page_number, position_in_doc, token_count, metadata, content_hash`

// GetChunksByDocument returns all chunks for a given document, ordered by
// position.
func (s *Store) GetChunksByDocument(ctx context.Context, docID int64) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+chunkColumns+" FROM chunks WHERE document_id = ? ORDER BY position_in_doc", docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *c)
	}
	return chunks, rows.Err()
}

// AllChunks returns every chunk row in the store, ordered by id. Used to
// rebuild the sparse index from the semantic store.
func (s *Store) AllChunks(ctx context.Context) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+chunkColumns+" FROM chunks ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *c)
	}
	return chunks, rows.Err()
}

// --- Embedding operations ---

// InsertEmbedding stores a vector embedding for a chunk.
func (s *Store) InsertEmbedding(ctx context.Context, chunkID int64, embedding []float32) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)",
		chunkID, serializeFloat32(embedding))
	return err
}

// VectorSearch performs a KNN search returning the top-k nearest chunks by
// cosine similarity.
func (s *Store) VectorSearch(ctx context.Context, queryEmbedding []float32, k int) ([]RetrievalResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.chunk_id, v.distance,
			c.content, c.heading, c.section_kind, c.page_number, c.document_id,
			d.filename, d.path, d.case_reference, d.region, d.case_type, d.year
		FROM vec_chunks v
		JOIN chunks c ON c.id = v.chunk_id
		JOIN documents d ON d.id = c.document_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(queryEmbedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RetrievalResult
	for rows.Next() {
		var r RetrievalResult
		var distance float64
		var region, caseType sql.NullString
		var year sql.NullInt64
		if err := rows.Scan(&r.ChunkID, &distance,
			&r.Content, &r.Heading, &r.SectionKind, &r.PageNumber, &r.DocumentID,
			&r.Filename, &r.Path, &r.CaseReference, &region, &caseType, &year); err != nil {
			return nil, err
		}
		r.Region = region.String
		r.CaseType = caseType.String
		r.Year = int(year.Int64)
		r.Score = 1.0 - distance
		results = append(results, r)
	}
	return results, rows.Err()
}

// DocumentContext resolves the document-level metadata (case reference,
// region, case type, year) for a set of chunk IDs, used to enrich sparse
// store results which carry no document join of their own.
func (s *Store) DocumentContext(ctx context.Context, chunkIDs []int64) (map[int64]RetrievalResult, error) {
	out := make(map[int64]RetrievalResult, len(chunkIDs))
	if len(chunkIDs) == 0 {
		return out, nil
	}

	query := "SELECT " + chunkColumns + ", d.filename, d.path, d.case_reference, d.region, d.case_type, d.year " +
		"FROM chunks c JOIN documents d ON d.id = c.document_id WHERE c.id IN (?" + repeatPlaceholders(len(chunkIDs)-1) + ")"
	args := make([]interface{}, len(chunkIDs))
	for i, id := range chunkIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var c Chunk
		var r RetrievalResult
		var metadata, region, caseType sql.NullString
		var year sql.NullInt64
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Content, &c.Heading, &c.SectionKind,
			&c.PageNumber, &c.PositionInDoc, &c.TokenCount, &metadata, &c.ContentHash,
			&r.Filename, &r.Path, &r.CaseReference, &region, &caseType, &year); err != nil {
			return nil, err
		}
		r.ChunkID = c.ID
		r.DocumentID = c.DocumentID
		r.Content = c.Content
		r.Heading = c.Heading
		r.SectionKind = c.SectionKind
		r.PageNumber = c.PageNumber
		r.Region = region.String
		r.CaseType = caseType.String
		r.Year = int(year.Int64)
		out[c.ID] = r
	}
	return out, rows.Err()
}

// --- Query log ---

// LogQuery writes an entry to the prediction audit log.
func (s *Store) LogQuery(ctx context.Context, q QueryLog) error {
	citationsJSON, _ := json.Marshal(q.Citations)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_log (case_summary, outcome, confidence, citations, retrieval_method, model_used, retries, prompt_tokens, completion_tokens, total_tokens)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, q.CaseSummary, q.Outcome, q.Confidence, string(citationsJSON), q.RetrievalMethod, q.ModelUsed, q.Retries,
		q.PromptTokens, q.CompletionTokens, q.TotalTokens)
	return err
}

// --- Diagnostics ---

// CorpusStats holds counts of key database objects.
type CorpusStats struct {
	Documents  int `json:"documents"`
	Chunks     int `json:"chunks"`
	Embeddings int `json:"embeddings"`
}

// Stats returns counts of documents, chunks, and embeddings.
func (s *Store) Stats(ctx context.Context) (*CorpusStats, error) {
	stats := &CorpusStats{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM documents", &stats.Documents},
		{"SELECT COUNT(*) FROM chunks", &stats.Chunks},
		{"SELECT COUNT(*) FROM vec_chunks", &stats.Embeddings},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	return stats, nil
}

// ChunkHasEmbedding checks if a specific chunk has a vector embedding.
func (s *Store) ChunkHasEmbedding(ctx context.Context, chunkID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vec_chunks WHERE chunk_id = ?", chunkID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func repeatPlaceholders(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		s += ", ?"
	}
	return s
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
