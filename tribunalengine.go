// Package tribunalengine implements a hybrid retrieval-augmented prediction
// engine for UK residential tenancy deposit disputes: it ingests published
// First-tier Tribunal decisions, indexes them for hybrid (dense + sparse)
// retrieval, and synthesizes a cite-or-abstain prediction for a tenant or
// landlord's CaseFile.
package tribunalengine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ukdeposit/tribunalengine/casefile"
	"github.com/ukdeposit/tribunalengine/chunker"
	"github.com/ukdeposit/tribunalengine/llm"
	"github.com/ukdeposit/tribunalengine/parser"
	"github.com/ukdeposit/tribunalengine/retrieval"
	"github.com/ukdeposit/tribunalengine/sparse"
	"github.com/ukdeposit/tribunalengine/store"
	"github.com/ukdeposit/tribunalengine/synthesis"
)

// Engine is the top-level entry point for the prediction engine.
type Engine interface {
	// Ingest parses, chunks, and indexes every supported document under
	// pdfDir, skipping documents whose content hash is unchanged.
	Ingest(ctx context.Context, pdfDir string, opts ...IngestOption) (IngestResult, error)

	// Retrieve runs hybrid retrieval + domain rerank for a free-text query.
	Retrieve(ctx context.Context, queryText string, topK int, filters retrieval.Filters) ([]retrieval.Scored, *retrieval.SearchTrace, error)

	// GeneratePrediction runs the full synthesis state machine for a CaseFile.
	GeneratePrediction(ctx context.Context, cf casefile.CaseFile) (*synthesis.Prediction, error)

	// CorpusStats reports index-wide counts and distributions.
	CorpusStats(ctx context.Context) (*CorpusStats, error)

	// RebuildSparseFromSemantic recovers the BM25 index from the semantic
	// store's chunk rows.
	RebuildSparseFromSemantic(ctx context.Context) (RebuildResult, error)

	// Close cleanly shuts down the engine.
	Close() error
}

// IngestResult reports what an Ingest call did.
type IngestResult struct {
	DocumentsIn      int     `json:"documents_in"`
	DocumentsOK      int     `json:"documents_ok"`
	DocumentsSkipped int     `json:"documents_skipped"`
	ChunksCreated    int     `json:"chunks_created"`
	EmbeddingTokens  int     `json:"embedding_tokens"`
	CostEstimate     float64 `json:"cost_estimate"`
}

// RebuildResult reports the outcome of RebuildSparseFromSemantic.
type RebuildResult struct {
	ChunksIndexed int `json:"chunks_indexed"`
}

// CorpusStats reports index-wide counts and distributions.
type CorpusStats struct {
	Documents              int            `json:"documents"`
	UniqueCases            int            `json:"unique_cases"`
	Chunks                 int            `json:"chunks"`
	YearDistribution       map[int]int    `json:"year_distribution"`
	RegionDistribution     map[string]int `json:"region_distribution"`
	CaseTypeDistribution   map[string]int `json:"case_type_distribution"`
}

// IngestOption configures a single Ingest call.
type IngestOption func(*ingestOptions)

type ingestOptions struct {
	forceReparse bool
	batchSize    int
}

// WithForceReparse re-parses every document regardless of content hash.
func WithForceReparse() IngestOption {
	return func(o *ingestOptions) { o.forceReparse = true }
}

// WithBatchSize overrides the embedding batch size for this ingest call.
func WithBatchSize(n int) IngestOption {
	return func(o *ingestOptions) { o.batchSize = n }
}

// engine is the concrete Engine implementation.
type engine struct {
	cfg          Config
	store        *store.Store
	sparseIdx    *sparse.Index
	parsers      *parser.Registry
	chunkr       *chunker.Chunker
	chatLLM      llm.Provider
	chatFallback llm.Provider
	embedLLM     llm.Provider
	retriever    *retrieval.Engine
	synth        *synthesis.Engine
}

// New wires a complete engine from cfg: opens the semantic store, loads or
// creates the sparse index, constructs the parser registry, chunker,
// retriever, and synthesizer.
func New(cfg Config) (Engine, error) {
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 1536
	}
	if err := cfg.ensureDataDirs(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	s, err := store.New(cfg.dbPath(), cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("%w: opening store: %v", ErrConfig, err)
	}

	sparseIdx, err := sparse.Load(cfg.bm25Path())
	if err != nil {
		slog.Info("tribunalengine: no persisted sparse index, starting empty", "path", cfg.bm25Path())
		sparseIdx = sparse.New(0, 0)
	}

	chatLLM, err := llm.NewProvider(llm.Config{
		Provider: cfg.Chat.Provider,
		Model:    cfg.Chat.Model,
		BaseURL:  cfg.Chat.BaseURL,
		APIKey:   cfg.Chat.APIKey,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: creating chat provider: %v", ErrConfig, err)
	}

	var chatFallback llm.Provider
	if cfg.ChatFallback != nil {
		chatFallback, err = llm.NewProvider(llm.Config{
			Provider: cfg.ChatFallback.Provider,
			Model:    cfg.ChatFallback.Model,
			BaseURL:  cfg.ChatFallback.BaseURL,
			APIKey:   cfg.ChatFallback.APIKey,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("%w: creating fallback chat provider: %v", ErrConfig, err)
		}
	}

	embedLLM, err := llm.NewProvider(llm.Config{
		Provider: cfg.Embedding.Provider,
		Model:    cfg.Embedding.Model,
		BaseURL:  cfg.Embedding.BaseURL,
		APIKey:   cfg.Embedding.APIKey,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: creating embedding provider: %v", ErrConfig, err)
	}

	reg := parser.NewRegistry()
	chunkr := chunker.New(chunker.Config{
		MaxTokens: cfg.Chunking.ChunkSize,
		Overlap:   cfg.Chunking.ChunkOverlap,
	})

	retriever := retrieval.New(s, sparseIdx, embedLLM, retrievalConfigFrom(cfg))

	synth := synthesis.New(retriever, chatLLM, chatFallback, synthesis.Config{
		GenerationBudget: cfg.Synthesis.GenerationBudget,
		MaxCases:         cfg.Synthesis.MaxCases,
		Disclaimer:       cfg.Synthesis.Disclaimer,
		MinConfidence:    cfg.Rerank.MinConfidenceThreshold,
		MinSimilarity:    cfg.Rerank.MinSimilarityThreshold,
		MinCandidates:    cfg.Rerank.MinSurvivingCandidates,
	})

	return &engine{
		cfg:          cfg,
		store:        s,
		sparseIdx:    sparseIdx,
		parsers:      reg,
		chunkr:       chunkr,
		chatLLM:      chatLLM,
		chatFallback: chatFallback,
		embedLLM:     embedLLM,
		retriever:    retriever,
		synth:        synth,
	}, nil
}

// Close shuts down the engine.
func (e *engine) Close() error {
	return e.store.Close()
}

// retrievalConfigFrom maps the engine's Config into retrieval.Config.
func retrievalConfigFrom(cfg Config) retrieval.Config {
	return retrieval.Config{
		InitialRetrievalK: cfg.Retrieval.InitialRetrievalK,
		FinalTopK:         cfg.Retrieval.FinalTopK,
		RRFK:              cfg.Retrieval.RRFK,
		SemanticWeight:    cfg.Retrieval.SemanticWeight,
		BM25Weight:        cfg.Retrieval.BM25Weight,
		Rerank: retrieval.RerankConfig{
			IssueMatchWeight:       cfg.Rerank.IssueMatchWeight,
			TemporalWeight:         cfg.Rerank.TemporalWeight,
			RegionWeight:           cfg.Rerank.RegionWeight,
			EvidenceWeight:         cfg.Rerank.EvidenceWeight,
			RRFNormWeight:          cfg.Rerank.RRFNormWeight,
			TemporalDecayYears:     cfg.Rerank.TemporalDecayYears,
			IssueKeywords:          cfg.Rerank.IssueKeywords,
		},
	}
}

func (e *engine) retrievalConfig() retrieval.Config {
	return retrievalConfigFrom(e.cfg)
}

// Retrieve runs the hybrid retriever directly (used by the CLI's `query`
// command and by diagnostics).
func (e *engine) Retrieve(ctx context.Context, queryText string, topK int, filters retrieval.Filters) ([]retrieval.Scored, *retrieval.SearchTrace, error) {
	return e.retriever.Search(ctx, queryText, retrieval.SearchOptions{
		MaxResults: topK,
		Filters:    filters,
	})
}

// GeneratePrediction runs the prediction synthesizer's state machine for cf
// and persists the resulting record once under <data>/predictions.
func (e *engine) GeneratePrediction(ctx context.Context, cf casefile.CaseFile) (*synthesis.Prediction, error) {
	pred, err := e.synth.Predict(ctx, cf)
	if err != nil {
		return nil, err
	}

	if perr := e.persistPrediction(cf.CaseID, pred); perr != nil {
		slog.Warn("tribunalengine: failed to persist prediction", "case_id", cf.CaseID, "error", perr)
	}
	return pred, nil
}

// persistPrediction writes pred as a new, never-overwritten JSON record
// under <data>/predictions/<prediction_id>.json.
func (e *engine) persistPrediction(caseID string, pred *synthesis.Prediction) error {
	predictionID := fmt.Sprintf("%s_%d", caseID, time.Now().UnixNano())
	path := filepath.Join(e.cfg.predictionsDir(), predictionID+".json")

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("creating prediction record: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(pred)
}

// CorpusStats reports index-wide counts and distributions.
func (e *engine) CorpusStats(ctx context.Context) (*CorpusStats, error) {
	base, err := e.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndex, err)
	}

	docs, err := e.store.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndex, err)
	}

	cs := &CorpusStats{
		Documents:            base.Documents,
		UniqueCases:          len(docs),
		Chunks:               base.Chunks,
		YearDistribution:     make(map[int]int),
		RegionDistribution:   make(map[string]int),
		CaseTypeDistribution: make(map[string]int),
	}
	for _, d := range docs {
		if d.Year != 0 {
			cs.YearDistribution[d.Year]++
		}
		if d.Region != "" {
			cs.RegionDistribution[d.Region]++
		}
		if d.CaseType != "" {
			cs.CaseTypeDistribution[d.CaseType]++
		}
	}
	return cs, nil
}

// RebuildSparseFromSemantic discards the in-memory and persisted BM25 index
// and rebuilds it from the semantic store's chunk rows. An empty rebuilt
// index is not persisted; any previously persisted file is removed instead.
func (e *engine) RebuildSparseFromSemantic(ctx context.Context) (RebuildResult, error) {
	chunks, err := e.store.AllChunks(ctx)
	if err != nil {
		return RebuildResult{}, fmt.Errorf("%w: reading chunks: %v", ErrIndex, err)
	}

	idx := sparse.RebuildFromChunks(chunks, 0, 0)
	if idx.Len() == 0 {
		if err := os.Remove(e.cfg.bm25Path()); err != nil && !os.IsNotExist(err) {
			return RebuildResult{}, fmt.Errorf("%w: removing stale index: %v", ErrIndex, err)
		}
	} else if err := idx.Save(e.cfg.bm25Path()); err != nil {
		return RebuildResult{}, fmt.Errorf("%w: persisting rebuilt index: %v", ErrIndex, err)
	}
	e.sparseIdx = idx
	e.retriever = retrieval.New(e.store, idx, e.embedLLM, e.retrievalConfig())
	e.synth = synthesis.New(e.retriever, e.chatLLM, e.chatFallback, synthesis.Config{
		GenerationBudget: e.cfg.Synthesis.GenerationBudget,
		MaxCases:         e.cfg.Synthesis.MaxCases,
		Disclaimer:       e.cfg.Synthesis.Disclaimer,
		MinConfidence:    e.cfg.Rerank.MinConfidenceThreshold,
		MinSimilarity:    e.cfg.Rerank.MinSimilarityThreshold,
		MinCandidates:    e.cfg.Rerank.MinSurvivingCandidates,
	})

	slog.Info("tribunalengine: sparse index rebuilt from semantic store", "chunks", len(chunks))
	return RebuildResult{ChunksIndexed: len(chunks)}, nil
}

// Ingest walks pdfDir for supported documents, parsing, chunking, and
// indexing each one that has changed since its last ingest.
func (e *engine) Ingest(ctx context.Context, pdfDir string, opts ...IngestOption) (IngestResult, error) {
	options := &ingestOptions{batchSize: e.cfg.Retrieval.EmbeddingBatchSize}
	for _, o := range opts {
		o(options)
	}
	if options.batchSize == 0 {
		options.batchSize = 50
	}

	paths, err := discoverDocuments(pdfDir)
	if err != nil {
		return IngestResult{}, fmt.Errorf("%w: listing %s: %v", ErrIngestion, pdfDir, err)
	}

	result := IngestResult{DocumentsIn: len(paths)}
	var touched bool

	for _, path := range paths {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		ok, chunksCreated, tokens, err := e.ingestOne(ctx, path, options)
		switch {
		case err != nil:
			slog.Warn("ingest: skipping document", "path", path, "error", err)
			result.DocumentsSkipped++
		case !ok:
			result.DocumentsSkipped++
		default:
			result.DocumentsOK++
			result.ChunksCreated += chunksCreated
			result.EmbeddingTokens += tokens
			touched = true
		}
	}

	result.CostEstimate = estimateEmbeddingCost(result.EmbeddingTokens)

	if touched {
		if err := e.sparseIdx.Save(e.cfg.bm25Path()); err != nil {
			slog.Warn("ingest: failed to persist sparse index", "error", err)
		}
	}

	return result, nil
}

// ingestOne parses, chunks, and indexes a single document. ok is false when
// the document's content hash is unchanged and it was skipped.
func (e *engine) ingestOne(ctx context.Context, path string, options *ingestOptions) (ok bool, chunksCreated, tokens int, err error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	p, err := e.parsers.Get(ext)
	if err != nil {
		return false, 0, 0, fmt.Errorf("no parser for %s: %w", ext, err)
	}

	parsed, err := p.Parse(ctx, path)
	if err != nil {
		return false, 0, 0, fmt.Errorf("parsing: %w", err)
	}

	fullText := parser.JoinSections(parsed.Sections)
	if err := parser.ValidateExtractable(fullText, e.cfg.MinExtractableChars); err != nil {
		return false, 0, 0, err
	}

	var sidecar []byte
	if b, rerr := os.ReadFile(path + ".json"); rerr == nil {
		sidecar = b
	}
	meta, err := parser.ExtractMetadata(path, sidecar)
	if err != nil {
		return false, 0, 0, fmt.Errorf("resolving metadata: %w", err)
	}

	hash := contentHash(fullText)

	if !options.forceReparse {
		if existing, gerr := e.store.GetDocumentByCaseReference(ctx, meta.CaseReference); gerr == nil && existing.ContentHash == hash {
			return false, 0, 0, nil
		}
	}

	for i := range parsed.Sections {
		parsed.Sections[i].Content = parser.CleanText(parsed.Sections[i].Content)
	}

	docID, err := e.store.UpsertDocument(ctx, store.Document{
		Path:          path,
		Filename:      filepath.Base(path),
		CaseReference: meta.CaseReference,
		Region:        meta.Region,
		CaseType:      meta.CaseType,
		Year:          meta.Year,
		ContentHash:   hash,
		ParseMethod:   parsed.Method,
		Status:        "processing",
	})
	if err != nil {
		return false, 0, 0, fmt.Errorf("upserting document: %w", err)
	}

	staleChunks, err := e.store.GetChunksByDocument(ctx, docID)
	if err != nil {
		return false, 0, 0, fmt.Errorf("loading prior chunks: %w", err)
	}

	if err := e.store.DeleteDocumentData(ctx, docID); err != nil {
		return false, 0, 0, fmt.Errorf("clearing prior chunks: %w", err)
	}

	if len(staleChunks) > 0 {
		staleIDs := make([]int64, len(staleChunks))
		for i, c := range staleChunks {
			staleIDs[i] = c.ID
		}
		e.sparseIdx.RemoveAll(staleIDs)
	}

	chunks := e.chunkr.Chunk(parsed.Sections)
	chunkIDs, err := e.store.InsertChunks(ctx, docID, chunks)
	if err != nil {
		e.store.UpdateDocumentStatus(ctx, docID, "error")
		return false, 0, 0, fmt.Errorf("inserting chunks: %w", err)
	}

	embeddedTokens, err := e.embedChunks(ctx, chunks, chunkIDs, options.batchSize)
	if err != nil {
		e.store.UpdateDocumentStatus(ctx, docID, "error")
		return false, 0, 0, fmt.Errorf("embedding: %w", err)
	}

	for i, c := range chunks {
		e.sparseIdx.Add(chunkIDs[i], c.Content)
	}

	e.store.UpdateDocumentStatus(ctx, docID, "ready")
	return true, len(chunks), embeddedTokens, nil
}

// embedChunks generates and stores embeddings for chunks in bounded-
// concurrency batches: a buffered channel acts as a
// semaphore limiting in-flight batches to EmbeddingConcurrency.
func (e *engine) embedChunks(ctx context.Context, chunks []store.Chunk, chunkIDs []int64, batchSize int) (int, error) {
	concurrency := e.cfg.Retrieval.EmbeddingConcurrency
	if concurrency == 0 {
		concurrency = 4
	}
	sem := make(chan struct{}, concurrency)

	type batchResult struct {
		tokens int
		err    error
	}

	var batches [][2]int
	for i := 0; i < len(chunks); i += batchSize {
		end := i + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batches = append(batches, [2]int{i, end})
	}

	results := make(chan batchResult, len(batches))
	for _, b := range batches {
		start, end := b[0], b[1]
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			toks, err := e.embedBatch(ctx, chunks[start:end], chunkIDs[start:end])
			results <- batchResult{tokens: toks, err: err}
		}()
	}

	var totalTokens int
	var firstErr error
	for range batches {
		r := <-results
		totalTokens += r.tokens
		if r.err != nil && firstErr == nil {
			firstErr = r.err
		}
	}
	return totalTokens, firstErr
}

// embedBatch embeds and stores one batch of chunks under the embedding
// timeout and returns the batch's summed TokenCount estimate.
func (e *engine) embedBatch(ctx context.Context, chunks []store.Chunk, chunkIDs []int64) (int, error) {
	timeout := e.cfg.Retrieval.EmbeddingTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	texts := make([]string, len(chunks))
	var tokens int
	for i, c := range chunks {
		texts[i] = c.Content
		tokens += c.TokenCount
	}

	embeddings, err := e.embedLLM.Embed(ctx, texts)
	if err != nil {
		return 0, err
	}
	for i, emb := range embeddings {
		if err := e.store.InsertEmbedding(ctx, chunkIDs[i], emb); err != nil {
			return tokens, fmt.Errorf("storing embedding for chunk %d: %w", chunkIDs[i], err)
		}
	}
	return tokens, nil
}

// discoverDocuments lists ingestible files under dir (PDF and XLSX
// schedule-of-condition annexes), sorted for deterministic ingest order.
func discoverDocuments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(ent.Name()), "."))
		if ext == "pdf" || ext == "xlsx" {
			paths = append(paths, filepath.Join(dir, ent.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// contentHash computes the SHA-256 hash of a document's extracted full text
// (taken before CleanText runs),
// used to detect unchanged documents on re-ingest.
func contentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// estimateEmbeddingCost gives a rough cost estimate for embedding_tokens,
// priced at the commonly quoted $0.02 / 1M tokens for a small embedding
// model. It is informational only; no SPEC_FULL component reads it back.
func estimateEmbeddingCost(tokens int) float64 {
	const perMillion = 0.02
	return float64(tokens) / 1_000_000 * perMillion
}
