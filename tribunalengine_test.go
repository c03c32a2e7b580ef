//go:build cgo

package tribunalengine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ukdeposit/tribunalengine/casefile"
	"github.com/ukdeposit/tribunalengine/llm"
	"github.com/ukdeposit/tribunalengine/parser"
)

// fakeEmbedder returns a fixed-dimension deterministic vector per input text,
// standing in for a real embedding provider so ingestion tests never touch
// the network.
type fakeEmbedder struct{ dim int }

func (f fakeEmbedder) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, fmt.Errorf("fakeEmbedder: Chat not implemented")
}

func (f fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, f.dim)
		for j := range v {
			v[j] = float32(len(t)%(j+2)) / float32(f.dim)
		}
		out[i] = v
	}
	return out, nil
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.EmbeddingDim = 4
	cfg.Chat = LLMConfig{Provider: "ollama", Model: "test-chat"}
	cfg.Embedding = LLMConfig{Provider: "ollama", Model: "test-embed"}
	return cfg
}

func TestNewCreatesPersistedStateLayout(t *testing.T) {
	cfg := testConfig(t)
	eng, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close()

	for _, dir := range []string{"embeddings", "raw", "predictions"} {
		if _, err := os.Stat(filepath.Join(cfg.DataDir, dir)); err != nil {
			t.Errorf("expected %s to exist: %v", dir, err)
		}
	}
}

func TestCorpusStatsOnEmptyCorpus(t *testing.T) {
	eng, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close()

	stats, err := eng.CorpusStats(context.Background())
	if err != nil {
		t.Fatalf("CorpusStats: %v", err)
	}
	if stats.Documents != 0 || stats.UniqueCases != 0 || stats.Chunks != 0 {
		t.Errorf("expected all-zero stats on an empty corpus, got %+v", stats)
	}
}

func TestGeneratePredictionRefusesIncompleteCaseFileWithoutTouchingLLM(t *testing.T) {
	eng, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close()

	// cfg.Chat points at an unreachable ollama endpoint; if the gate did not
	// short-circuit before any LLM call, this would hang or error on dial
	// rather than returning a clean refusal.
	pred, err := eng.GeneratePrediction(context.Background(), casefile.CaseFile{CaseID: "case-incomplete"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pred.MissingRequiredFields) == 0 {
		t.Fatalf("expected missing required fields to be reported")
	}
}

func TestRebuildSparseFromSemanticOnEmptyCorpus(t *testing.T) {
	eng, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close()

	result, err := eng.RebuildSparseFromSemantic(context.Background())
	if err != nil {
		t.Fatalf("RebuildSparseFromSemantic: %v", err)
	}
	if result.ChunksIndexed != 0 {
		t.Errorf("expected 0 chunks indexed for an empty corpus, got %d", result.ChunksIndexed)
	}
}

func TestDiscoverDocumentsListsSupportedFormatsSorted(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.pdf", "a.pdf", "notes.txt", "c.xlsx"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("writing fixture %s: %v", name, err)
		}
	}

	paths, err := discoverDocuments(dir)
	if err != nil {
		t.Fatalf("discoverDocuments: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("expected 3 supported documents, got %d: %v", len(paths), paths)
	}
	if filepath.Base(paths[0]) != "a.pdf" || filepath.Base(paths[1]) != "b.pdf" || filepath.Base(paths[2]) != "c.xlsx" {
		t.Errorf("expected sorted order, got %v", paths)
	}
}

func TestContentHashIsDeterministicAndSensitiveToContent(t *testing.T) {
	a := contentHash("the quick brown fox")
	b := contentHash("the quick brown fox")
	c := contentHash("the slow brown fox")
	if a != b {
		t.Errorf("expected identical content to hash identically")
	}
	if a == c {
		t.Errorf("expected different content to hash differently")
	}
}

// fixtureParser is a trivial Parser registered in place of the real XLSX
// parser so ingestion tests don't need a real spreadsheet fixture; it just
// reads the file as a single section of plain text.
type fixtureParser struct{}

func (fixtureParser) SupportedFormats() []string { return []string{"xlsx"} }

func (fixtureParser) Parse(ctx context.Context, path string) (*parser.ParseResult, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &parser.ParseResult{
		Sections: []parser.Section{{Heading: "Decision", Content: string(b), Type: "section"}},
		Method:   "native",
	}, nil
}

// testEngineWithFakeLLM builds an engine wired the same way New does but
// with a deterministic fake embedder in place of a real provider, and a
// fixture parser registered for ".xlsx" documents, so ingestion tests never
// touch the network or need real PDFs.
func testEngineWithFakeLLM(t *testing.T) *engine {
	t.Helper()
	eng, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e, ok := eng.(*engine)
	if !ok {
		t.Fatalf("expected *engine, got %T", eng)
	}
	e.embedLLM = fakeEmbedder{dim: e.cfg.EmbeddingDim}
	e.cfg.MinExtractableChars = 20
	e.parsers.Register("xlsx", fixtureParser{})
	return e
}

func writeFixtureDoc(t *testing.T, dir, caseRef, text string) string {
	t.Helper()
	path := filepath.Join(dir, caseRef+".xlsx")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	sidecar := fmt.Sprintf(`{"case_reference":%q,"year":2021,"region":"London","case_type":"deposit"}`, caseRef)
	if err := os.WriteFile(path+".json", []byte(sidecar), 0o644); err != nil {
		t.Fatalf("writing sidecar: %v", err)
	}
	return path
}

// TestReingestingChangedDocumentKeepsSparseAndSemanticInSync reproduces the
// scenario where a document is ingested, its content is edited, and it is
// ingested again: the sparse index must end up indexing exactly the chunks
// the semantic store currently holds, with no stale postings left behind
// under the old chunk IDs.
func TestReingestingChangedDocumentKeepsSparseAndSemanticInSync(t *testing.T) {
	e := testEngineWithFakeLLM(t)
	defer e.Close()

	dir := t.TempDir()
	original := "The tribunal found the cleaning deduction of two hundred pounds unreasonable given the check-out inventory. " +
		"Rent arrears were not in dispute and no further deduction was permitted for redecoration."
	writeFixtureDoc(t, dir, "LON_00_2021_001", original)

	ctx := context.Background()
	if _, err := e.Ingest(ctx, dir); err != nil {
		t.Fatalf("initial Ingest: %v", err)
	}

	stats, err := e.CorpusStats(ctx)
	if err != nil {
		t.Fatalf("CorpusStats: %v", err)
	}
	if stats.Chunks == 0 {
		t.Fatalf("expected chunks to be indexed after initial ingest")
	}
	if e.sparseIdx.Len() != stats.Chunks {
		t.Fatalf("expected sparse index len %d to match semantic chunk count after initial ingest, got %d", stats.Chunks, e.sparseIdx.Len())
	}

	edited := original + " The landlord's claim for garden maintenance costs was also dismissed in full."
	writeFixtureDoc(t, dir, "LON_00_2021_001", edited)

	if _, err := e.Ingest(ctx, dir); err != nil {
		t.Fatalf("re-ingest: %v", err)
	}

	statsAfter, err := e.CorpusStats(ctx)
	if err != nil {
		t.Fatalf("CorpusStats after re-ingest: %v", err)
	}
	if statsAfter.Documents != 1 {
		t.Fatalf("expected the re-ingested document to still count as one document, got %d", statsAfter.Documents)
	}
	if e.sparseIdx.Len() != statsAfter.Chunks {
		t.Fatalf("expected sparse index len %d to match semantic chunk count after re-ingest, got %d (stale postings were not removed)",
			statsAfter.Chunks, e.sparseIdx.Len())
	}
}

func TestEstimateEmbeddingCostScalesWithTokens(t *testing.T) {
	if got := estimateEmbeddingCost(0); got != 0 {
		t.Errorf("expected zero cost for zero tokens, got %v", got)
	}
	if got := estimateEmbeddingCost(1_000_000); got <= 0 {
		t.Errorf("expected positive cost for 1M tokens, got %v", got)
	}
}
