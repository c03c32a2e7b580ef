// Package sparse implements the lexical half of the hybrid retriever: a
// standalone BM25 index persisted as JSON, kept in sync with the semantic
// store's chunk IDs.
package sparse

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// ErrEmptyIndex guards against persisting an index with no postings, which
// would otherwise silently mask a failed ingestion run.
var ErrEmptyIndex = errors.New("sparse: refusing to persist an empty BM25 index")

var tokenPattern = regexp.MustCompile(`\p{L}[\p{L}\p{M}]*|\p{N}+`)

// Tokenize lowercases and splits text into BM25 terms.
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// Hit is a single scored chunk returned from Search.
type Hit struct {
	ChunkID int64
	Score   float64
}

// persistedIndex is the on-disk JSON shape of the index.
type persistedIndex struct {
	K1          float64                   `json:"k1"`
	B           float64                   `json:"b"`
	DocFreq     map[string]int            `json:"doc_freq"`
	Postings    map[string]map[int64]int  `json:"postings"`
	ChunkLength map[int64]int             `json:"chunk_length"`
	TotalLength int                       `json:"total_length"`
	DocCount    int                       `json:"doc_count"`
}

// Index is an in-memory BM25 index over chunk content, k1≈1.5 b≈0.75 by
// default.
type Index struct {
	mu          sync.RWMutex
	k1          float64
	b           float64
	docFreq     map[string]int
	postings    map[string]map[int64]int
	chunkLength map[int64]int
	totalLength int
	docCount    int
}

// New returns an empty BM25 index with the given tuning constants. k1 and b
// fall back to 1.5/0.75 when zero.
func New(k1, b float64) *Index {
	if k1 == 0 {
		k1 = 1.5
	}
	if b == 0 {
		b = 0.75
	}
	return &Index{
		k1:          k1,
		b:           b,
		docFreq:     make(map[string]int),
		postings:    make(map[string]map[int64]int),
		chunkLength: make(map[int64]int),
	}
}

// Add indexes a single chunk's content under its chunk ID. Re-adding the
// same chunk ID without a prior Remove double-counts it.
func (idx *Index) Add(chunkID int64, content string) {
	terms := Tokenize(content)
	if len(terms) == 0 {
		return
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.docCount++
	idx.chunkLength[chunkID] = len(terms)
	idx.totalLength += len(terms)

	seen := make(map[string]struct{})
	for _, term := range terms {
		if idx.postings[term] == nil {
			idx.postings[term] = make(map[int64]int)
		}
		idx.postings[term][chunkID]++
		if _, ok := seen[term]; !ok {
			idx.docFreq[term]++
			seen[term] = struct{}{}
		}
	}
}

// Remove deletes a previously Add-ed chunk's postings, decrementing the
// document-frequency and length totals that back the IDF and length-norm
// terms. Called alongside a semantic-store delete so the two stores stay in
// lockstep on re-ingestion.
// Removing an unknown chunk ID is a no-op.
func (idx *Index) Remove(chunkID int64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(chunkID)
}

// RemoveAll removes a batch of chunk IDs under a single lock acquisition.
func (idx *Index) RemoveAll(chunkIDs []int64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, id := range chunkIDs {
		idx.removeLocked(id)
	}
}

func (idx *Index) removeLocked(chunkID int64) {
	length, ok := idx.chunkLength[chunkID]
	if !ok {
		return
	}

	for term, posting := range idx.postings {
		if _, hit := posting[chunkID]; !hit {
			continue
		}
		delete(posting, chunkID)
		if len(posting) == 0 {
			delete(idx.postings, term)
		}
		idx.docFreq[term]--
		if idx.docFreq[term] <= 0 {
			delete(idx.docFreq, term)
		}
	}

	delete(idx.chunkLength, chunkID)
	idx.totalLength -= length
	idx.docCount--
}

// Search returns the top-limit chunks ranked by BM25 score against query.
func (idx *Index) Search(query string, limit int) []Hit {
	terms := uniqueTerms(Tokenize(query))
	if len(terms) == 0 {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.docCount == 0 {
		return nil
	}

	avgLen := float64(idx.totalLength) / float64(idx.docCount)
	scores := make(map[int64]float64)

	for _, term := range terms {
		postings := idx.postings[term]
		if len(postings) == 0 {
			continue
		}
		df := idx.docFreq[term]
		idf := math.Log((float64(idx.docCount)-float64(df)+0.5)/(float64(df)+0.5) + 1)
		for chunkID, tf := range postings {
			docLen := float64(idx.chunkLength[chunkID])
			numerator := float64(tf) * (idx.k1 + 1)
			denominator := float64(tf) + idx.k1*(1-idx.b+idx.b*(docLen/avgLen))
			scores[chunkID] += idf * (numerator / denominator)
		}
	}

	hits := make([]Hit, 0, len(scores))
	for id, score := range scores {
		hits = append(hits, Hit{ChunkID: id, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// Len reports the number of chunks currently indexed. Callers use this to
// verify the |semantic.ids| == |sparse.ids| invariant after ingestion.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.docCount
}

// Save persists the index to path as JSON via a staged write-then-rename,
// so a crash mid-write never leaves a truncated index file behind. An empty
// index is refused (ErrEmptyIndex) rather than silently overwriting a good
// one on disk.
func (idx *Index) Save(path string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.docCount == 0 {
		return ErrEmptyIndex
	}

	p := persistedIndex{
		K1:          idx.k1,
		B:           idx.b,
		DocFreq:     idx.docFreq,
		Postings:    idx.postings,
		ChunkLength: idx.chunkLength,
		TotalLength: idx.totalLength,
		DocCount:    idx.docCount,
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling BM25 index: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating BM25 index directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing BM25 index staging file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming BM25 index into place: %w", err)
	}
	return nil
}

// Load reads a previously persisted index from path.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading BM25 index: %w", err)
	}

	var p persistedIndex
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshaling BM25 index: %w", err)
	}

	idx := &Index{
		k1:          p.K1,
		b:           p.B,
		docFreq:     p.DocFreq,
		postings:    p.Postings,
		chunkLength: p.ChunkLength,
		totalLength: p.TotalLength,
		docCount:    p.DocCount,
	}
	if idx.docFreq == nil {
		idx.docFreq = make(map[string]int)
	}
	if idx.postings == nil {
		idx.postings = make(map[string]map[int64]int)
	}
	if idx.chunkLength == nil {
		idx.chunkLength = make(map[int64]int)
	}
	return idx, nil
}

func uniqueTerms(tokens []string) []string {
	if len(tokens) == 0 {
		return tokens
	}
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
