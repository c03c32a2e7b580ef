// Package retrieval implements the hybrid retriever and reranker:
// parallel semantic (dense) and sparse (BM25) search, fused by reciprocal
// rank fusion, then rescored by a domain-specific Stage 2 reranker.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ukdeposit/tribunalengine/llm"
	"github.com/ukdeposit/tribunalengine/sparse"
	"github.com/ukdeposit/tribunalengine/store"
)

// Config holds the engine's default fusion and reranking tuning, normally
// sourced from tribunalengine.RetrievalConfig and tribunalengine.RerankConfig.
type Config struct {
	InitialRetrievalK int
	FinalTopK         int
	RRFK              int
	SemanticWeight    float64
	BM25Weight        float64
	Rerank            RerankConfig
}

// SearchOptions configures a single search operation, overriding Config
// defaults where non-zero.
type SearchOptions struct {
	MaxResults     int
	SemanticWeight float64
	BM25Weight     float64
	Context        RerankContext
	Filters        Filters
}

// Filters narrows the fused candidate set before rerank. An empty field imposes no constraint.
type Filters struct {
	Region  string
	YearMin int
}

func (f Filters) matches(r store.RetrievalResult) bool {
	if f.Region != "" && !strings.EqualFold(r.Region, f.Region) {
		return false
	}
	if f.YearMin != 0 && r.Year < f.YearMin {
		return false
	}
	return true
}

func (f Filters) active() bool {
	return f.Region != "" || f.YearMin != 0
}

// SearchTrace records the full breakdown of a hybrid search operation for
// diagnostics and for populating a prediction's provenance.
type SearchTrace struct {
	SemanticResults  int                       `json:"semantic_results"`
	BM25Results      int                       `json:"bm25_results"`
	FusedResults     int                       `json:"fused_results"`
	SemanticWeight   float64                   `json:"semantic_weight"`
	BM25Weight       float64                   `json:"bm25_weight"`
	MaxRequested     int                       `json:"max_requested"`
	ElapsedMs        int64                     `json:"elapsed_ms"`
	PerResult        map[int64]FusedResultInfo `json:"per_result,omitempty"`
	TopSemanticScore float64                   `json:"top_semantic_score"`
	DegradedReason   string                    `json:"degraded_reason,omitempty"`
	FiltersActive    bool                      `json:"filters_active"`
	NoFilterMatch    bool                      `json:"no_filter_match"`
}

// Engine performs hybrid retrieval combining a dense semantic store and a
// sparse BM25 index, then reranks the fused candidates.
type Engine struct {
	semantic *store.Store
	sparse   *sparse.Index
	embedder llm.Provider
	cfg      Config
}

// New creates a retrieval engine over the given semantic store and sparse
// index, using embedder to generate query vectors for semantic search.
func New(semantic *store.Store, sparseIdx *sparse.Index, embedder llm.Provider, cfg Config) *Engine {
	return &Engine{
		semantic: semantic,
		sparse:   sparseIdx,
		embedder: embedder,
		cfg:      cfg,
	}
}

// Search runs semantic and BM25 search concurrently, fuses them with RRF,
// then applies the domain rerank. It returns the reranked candidates
// ordered by FinalScore and a trace for diagnostics.
func (e *Engine) Search(ctx context.Context, query string, opts SearchOptions) ([]Scored, *SearchTrace, error) {
	if opts.MaxResults == 0 {
		opts.MaxResults = e.cfg.InitialRetrievalK
	}
	if opts.MaxResults == 0 {
		opts.MaxResults = 20
	}
	semWeight := opts.SemanticWeight
	if semWeight == 0 {
		semWeight = e.cfg.SemanticWeight
	}
	bm25Weight := opts.BM25Weight
	if bm25Weight == 0 {
		bm25Weight = e.cfg.BM25Weight
	}
	rrfK := e.cfg.RRFK
	if rrfK == 0 {
		rrfK = 60
	}

	trace := &SearchTrace{
		SemanticWeight: semWeight,
		BM25Weight:     bm25Weight,
		MaxRequested:   opts.MaxResults,
	}

	slog.Debug("retrieval: starting hybrid search",
		"query_len", len(query), "max_results", opts.MaxResults,
		"weights", fmt.Sprintf("semantic=%.1f bm25=%.1f", semWeight, bm25Weight))
	searchStart := time.Now()

	type result struct {
		results []store.RetrievalResult
		err     error
	}

	semCh := make(chan result, 1)
	bm25Ch := make(chan result, 1)

	go func() {
		r, err := e.semanticSearch(ctx, query, opts.MaxResults)
		semCh <- result{r, err}
	}()

	go func() {
		r, err := e.bm25Search(ctx, query, opts.MaxResults)
		bm25Ch <- result{r, err}
	}()

	semRes := <-semCh
	bm25Res := <-bm25Ch

	if semRes.err != nil {
		slog.Warn("retrieval: semantic search failed", "error", semRes.err)
	}
	if bm25Res.err != nil {
		slog.Warn("retrieval: bm25 search failed", "error", bm25Res.err)
	}
	trace.SemanticResults = len(semRes.results)
	trace.BM25Results = len(bm25Res.results)
	if len(semRes.results) > 0 {
		trace.TopSemanticScore = semRes.results[0].Score
	}

	// If one store fails, fall back to the other rather than failing the
	// whole query closed.
	if semRes.err != nil && bm25Res.err == nil {
		trace.DegradedReason = "degraded_retrieval"
	} else if bm25Res.err != nil && semRes.err == nil {
		trace.DegradedReason = "degraded_retrieval"
	}

	slog.Debug("retrieval: searches complete",
		"semantic_results", len(semRes.results), "bm25_results", len(bm25Res.results),
		"elapsed", time.Since(searchStart).Round(time.Millisecond))

	if len(semRes.results) == 0 && len(bm25Res.results) == 0 {
		if semRes.err != nil {
			return nil, trace, fmt.Errorf("semantic search: %w", semRes.err)
		}
		if bm25Res.err != nil {
			return nil, trace, fmt.Errorf("bm25 search: %w", bm25Res.err)
		}
		return nil, trace, nil
	}

	fused, infoMap := fuseRRF(semRes.results, bm25Res.results, rrfK, semWeight, bm25Weight, opts.MaxResults)

	if opts.Filters.active() {
		trace.FiltersActive = true
		filtered := make([]store.RetrievalResult, 0, len(fused))
		for _, r := range fused {
			if opts.Filters.matches(r) {
				filtered = append(filtered, r)
			}
		}
		fused = filtered
		trace.NoFilterMatch = len(fused) == 0
	}

	trace.FusedResults = len(fused)
	trace.PerResult = infoMap
	trace.ElapsedMs = time.Since(searchStart).Milliseconds()

	rrfNorm := normalizeRRF(fused)
	scored := Rerank(fused, rrfNorm, opts.Context, e.cfg.Rerank)

	return scored, trace, nil
}

// semanticSearch embeds query and searches the dense store.
func (e *Engine) semanticSearch(ctx context.Context, query string, k int) ([]store.RetrievalResult, error) {
	embeddings, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}
	return e.semantic.VectorSearch(ctx, embeddings[0], k)
}

// bm25Search queries the sparse index and resolves document context for the
// returned chunk IDs, since the sparse index itself stores no metadata.
func (e *Engine) bm25Search(ctx context.Context, query string, k int) ([]store.RetrievalResult, error) {
	hits := e.sparse.Search(query, k)
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
	}
	ctxByID, err := e.semantic.DocumentContext(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolving bm25 document context: %w", err)
	}

	results := make([]store.RetrievalResult, 0, len(hits))
	for _, h := range hits {
		r, ok := ctxByID[h.ChunkID]
		if !ok {
			continue
		}
		r.Score = h.Score
		results = append(results, r)
	}
	return results, nil
}

// SurvivingCandidates reports how many of scored clear the similarity floor:
// candidates whose RRFNormScore is below minSimilarity don't count.
func SurvivingCandidates(scored []Scored, minSimilarity float64) int {
	n := 0
	for _, s := range scored {
		if s.RRFNormScore >= minSimilarity {
			n++
		}
	}
	return n
}

// FilterBySimilarity drops candidates whose normalized RRF score falls below
// minSimilarity. It keeps the same candidates SurvivingCandidates counts.
func FilterBySimilarity(scored []Scored, minSimilarity float64) []Scored {
	out := make([]Scored, 0, len(scored))
	for _, s := range scored {
		if s.RRFNormScore >= minSimilarity {
			out = append(out, s)
		}
	}
	return out
}
