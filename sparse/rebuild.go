package sparse

import "github.com/ukdeposit/tribunalengine/store"

// RebuildFromChunks constructs a fresh BM25 index from the semantic store's
// chunk rows. This is the recovery path
// when the persisted bm25_index.json is lost or out of sync: the semantic
// store remains the source of truth for chunk content.
func RebuildFromChunks(chunks []store.Chunk, k1, b float64) *Index {
	idx := New(k1, b)
	for _, c := range chunks {
		idx.Add(c.ID, c.Content)
	}
	return idx
}
