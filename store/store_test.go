//go:build cgo

package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath, 4) // dim=4 for test vectors
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew(t *testing.T) {
	s := newTestStore(t)
	if s.EmbeddingDim() != 4 {
		t.Fatalf("expected embedding dim 4, got %d", s.EmbeddingDim())
	}
	if s.DB() == nil {
		t.Fatal("expected non-nil *sql.DB")
	}
}

func TestNewCreatesParentDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub", "dir")
	dbPath := filepath.Join(dir, "test.db")
	s, err := New(dbPath, 4)
	if err != nil {
		t.Fatalf("creating store in nested dir: %v", err)
	}
	s.Close()
}

func sampleDoc(path, ref string) Document {
	return Document{
		Path:          path,
		Filename:      "test.pdf",
		CaseReference: ref,
		Region:        "LON",
		CaseType:      "HMF",
		Year:          2022,
		ContentHash:   "abc123",
		ParseMethod:   "native",
		Status:        "pending",
		Metadata:      `{"pages":10}`,
	}
}

func TestUpsertAndGetDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := sampleDoc("/tmp/test.pdf", "LON_00BK_HMF_2022_0227")
	id, err := s.UpsertDocument(ctx, doc)
	if err != nil {
		t.Fatalf("upserting document: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero document id")
	}

	got, err := s.GetDocument(ctx, id)
	if err != nil {
		t.Fatalf("getting document by id: %v", err)
	}
	if got.CaseReference != doc.CaseReference || got.Region != "LON" || got.Year != 2022 {
		t.Fatalf("unexpected document: %+v", got)
	}

	byRef, err := s.GetDocumentByCaseReference(ctx, doc.CaseReference)
	if err != nil {
		t.Fatalf("getting document by case reference: %v", err)
	}
	if byRef.ID != id {
		t.Fatalf("expected same document, got id %d want %d", byRef.ID, id)
	}
}

func TestUpsertDocumentIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := sampleDoc("/tmp/test.pdf", "LON_00BK_HMF_2022_0227")
	id1, err := s.UpsertDocument(ctx, doc)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	doc.Status = "ingested"
	id2, err := s.UpsertDocument(ctx, doc)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("re-ingesting the same case reference should reuse the document id: got %d and %d", id1, id2)
	}

	got, err := s.GetDocument(ctx, id2)
	if err != nil {
		t.Fatalf("getting document: %v", err)
	}
	if got.Status != "ingested" {
		t.Fatalf("expected status updated to ingested, got %s", got.Status)
	}
}

func TestInsertAndGetChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID, err := s.UpsertDocument(ctx, sampleDoc("/tmp/test.pdf", "LON_00BK_HMF_2022_0227"))
	if err != nil {
		t.Fatalf("upserting document: %v", err)
	}

	chunks := []Chunk{
		{Content: "Background text.", Heading: "Background", SectionKind: "background", PositionInDoc: 0, ContentHash: "h1"},
		{Content: "Decision text.", Heading: "Decision", SectionKind: "decision", PositionInDoc: 1, ContentHash: "h2"},
	}
	ids, err := s.InsertChunks(ctx, docID, chunks)
	if err != nil {
		t.Fatalf("inserting chunks: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 chunk ids, got %d", len(ids))
	}

	got, err := s.GetChunksByDocument(ctx, docID)
	if err != nil {
		t.Fatalf("getting chunks: %v", err)
	}
	if len(got) != 2 || got[0].SectionKind != "background" || got[1].SectionKind != "decision" {
		t.Fatalf("unexpected chunks: %+v", got)
	}
}

func TestVectorSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID, err := s.UpsertDocument(ctx, sampleDoc("/tmp/test.pdf", "LON_00BK_HMF_2022_0227"))
	if err != nil {
		t.Fatalf("upserting document: %v", err)
	}
	ids, err := s.InsertChunks(ctx, docID, []Chunk{
		{Content: "Deposit deduction for cleaning.", SectionKind: "reasoning", ContentHash: "h1"},
		{Content: "Deposit deduction for damage.", SectionKind: "reasoning", ContentHash: "h2"},
	})
	if err != nil {
		t.Fatalf("inserting chunks: %v", err)
	}

	if err := s.InsertEmbedding(ctx, ids[0], []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("inserting embedding: %v", err)
	}
	if err := s.InsertEmbedding(ctx, ids[1], []float32{0, 1, 0, 0}); err != nil {
		t.Fatalf("inserting embedding: %v", err)
	}

	results, err := s.VectorSearch(ctx, []float32{1, 0, 0, 0}, 1)
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if len(results) != 1 || results[0].ChunkID != ids[0] {
		t.Fatalf("expected closest match to be chunk %d, got %+v", ids[0], results)
	}
	if results[0].CaseReference != "LON_00BK_HMF_2022_0227" {
		t.Fatalf("expected document context joined in, got: %+v", results[0])
	}
}

func TestDeleteDocumentDataKeepsDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID, err := s.UpsertDocument(ctx, sampleDoc("/tmp/test.pdf", "LON_00BK_HMF_2022_0227"))
	if err != nil {
		t.Fatalf("upserting document: %v", err)
	}
	if _, err := s.InsertChunks(ctx, docID, []Chunk{{Content: "x", SectionKind: "other", ContentHash: "h"}}); err != nil {
		t.Fatalf("inserting chunks: %v", err)
	}

	if err := s.DeleteDocumentData(ctx, docID); err != nil {
		t.Fatalf("deleting document data: %v", err)
	}

	if _, err := s.GetDocument(ctx, docID); err != nil {
		t.Fatalf("expected document record to survive DeleteDocumentData: %v", err)
	}
	chunks, err := s.GetChunksByDocument(ctx, docID)
	if err != nil {
		t.Fatalf("getting chunks: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected chunks removed, got %d", len(chunks))
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID, err := s.UpsertDocument(ctx, sampleDoc("/tmp/test.pdf", "LON_00BK_HMF_2022_0227"))
	if err != nil {
		t.Fatalf("upserting document: %v", err)
	}
	ids, err := s.InsertChunks(ctx, docID, []Chunk{{Content: "x", SectionKind: "other", ContentHash: "h"}})
	if err != nil {
		t.Fatalf("inserting chunks: %v", err)
	}
	if err := s.InsertEmbedding(ctx, ids[0], []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("inserting embedding: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("getting stats: %v", err)
	}
	if stats.Documents != 1 || stats.Chunks != 1 || stats.Embeddings != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
