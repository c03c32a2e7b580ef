package retrieval

import (
	"sort"

	"github.com/ukdeposit/tribunalengine/store"
)

// FusedResultInfo records which retrieval method(s) surfaced a chunk and at
// what rank, for diagnostics (SearchTrace.PerResult).
type FusedResultInfo struct {
	Methods  []string `json:"methods"`
	SemRank  int      `json:"semantic_rank,omitempty"` // 1-based, 0 = not present
	BM25Rank int      `json:"bm25_rank,omitempty"`     // 1-based, 0 = not present
}

// fuseRRF implements Reciprocal Rank Fusion over the two independent stores:
// score = w_s/(k+rank_semantic) + w_b/(k+rank_bm25).
func fuseRRF(
	semResults, bm25Results []store.RetrievalResult,
	k int, weightSemantic, weightBM25 float64,
	maxResults int,
) ([]store.RetrievalResult, map[int64]FusedResultInfo) {
	type fusedEntry struct {
		result store.RetrievalResult
		score  float64
		info   FusedResultInfo
	}

	fused := make(map[int64]*fusedEntry)

	for rank, r := range semResults {
		entry, ok := fused[r.ChunkID]
		if !ok {
			entry = &fusedEntry{result: r}
			fused[r.ChunkID] = entry
		}
		entry.score += weightSemantic / float64(k+rank+1)
		entry.info.Methods = append(entry.info.Methods, "semantic")
		entry.info.SemRank = rank + 1
	}

	for rank, r := range bm25Results {
		entry, ok := fused[r.ChunkID]
		if !ok {
			entry = &fusedEntry{result: r}
			fused[r.ChunkID] = entry
		}
		entry.score += weightBM25 / float64(k+rank+1)
		entry.info.Methods = append(entry.info.Methods, "bm25")
		entry.info.BM25Rank = rank + 1
	}

	entries := make([]*fusedEntry, 0, len(fused))
	for _, e := range fused {
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		return entries[i].result.ChunkID < entries[j].result.ChunkID
	})

	if maxResults > 0 && len(entries) > maxResults {
		entries = entries[:maxResults]
	}

	results := make([]store.RetrievalResult, len(entries))
	infoMap := make(map[int64]FusedResultInfo, len(entries))
	for i, e := range entries {
		results[i] = e.result
		results[i].Score = e.score
		infoMap[e.result.ChunkID] = e.info
	}

	return results, infoMap
}

// normalizeRRF rescales fused RRF scores to [0, 1] by min-max normalization
// so Stage 2 rerank can combine it on the same scale as the other factors.
// When every score is equal (including the single-result case) there
// is nothing to discriminate, so every chunk normalizes to 1.
func normalizeRRF(results []store.RetrievalResult) map[int64]float64 {
	out := make(map[int64]float64, len(results))
	if len(results) == 0 {
		return out
	}
	min, max := results[0].Score, results[0].Score
	for _, r := range results {
		if r.Score < min {
			min = r.Score
		}
		if r.Score > max {
			max = r.Score
		}
	}
	if max == min {
		for _, r := range results {
			out[r.ChunkID] = 1
		}
		return out
	}
	for _, r := range results {
		out[r.ChunkID] = (r.Score - min) / (max - min)
	}
	return out
}
