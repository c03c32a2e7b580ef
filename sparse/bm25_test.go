package sparse

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/ukdeposit/tribunalengine/store"
)

func TestSearchRanksByTermOverlap(t *testing.T) {
	idx := New(1.5, 0.75)
	idx.Add(1, "The tribunal found the cleaning deduction unreasonable.")
	idx.Add(2, "The landlord's claim for damage to the carpet succeeded.")
	idx.Add(3, "Rent arrears were not in dispute in this case.")

	hits := idx.Search("cleaning deduction", 10)
	if len(hits) == 0 || hits[0].ChunkID != 1 {
		t.Fatalf("expected chunk 1 to rank first, got %+v", hits)
	}
}

func TestSearchEmptyQueryReturnsNil(t *testing.T) {
	idx := New(1.5, 0.75)
	idx.Add(1, "some content")
	if hits := idx.Search("", 10); hits != nil {
		t.Fatalf("expected nil for empty query, got %+v", hits)
	}
}

func TestSearchOnEmptyIndexReturnsNil(t *testing.T) {
	idx := New(1.5, 0.75)
	if hits := idx.Search("anything", 10); hits != nil {
		t.Fatalf("expected nil on empty index, got %+v", hits)
	}
}

func TestSaveRefusesEmptyIndex(t *testing.T) {
	idx := New(1.5, 0.75)
	path := filepath.Join(t.TempDir(), "bm25_index.json")
	if err := idx.Save(path); !errors.Is(err, ErrEmptyIndex) {
		t.Fatalf("expected ErrEmptyIndex, got %v", err)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	idx := New(1.5, 0.75)
	idx.Add(1, "deposit deduction for cleaning costs")
	idx.Add(2, "deposit deduction for damage to the property")

	path := filepath.Join(t.TempDir(), "bm25_index.json")
	if err := idx.Save(path); err != nil {
		t.Fatalf("saving index: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("loading index: %v", err)
	}
	if loaded.Len() != idx.Len() {
		t.Fatalf("expected Len %d after round-trip, got %d", idx.Len(), loaded.Len())
	}

	before := idx.Search("cleaning", 10)
	after := loaded.Search("cleaning", 10)
	if len(before) != len(after) || before[0].ChunkID != after[0].ChunkID {
		t.Fatalf("expected identical ranking after round-trip, got %+v vs %+v", before, after)
	}
}

func TestRemoveDropsChunkFromSearchAndLen(t *testing.T) {
	idx := New(1.5, 0.75)
	idx.Add(1, "the deposit deduction for cleaning was unreasonable")
	idx.Add(2, "the claim for damage to the carpet succeeded")
	if idx.Len() != 2 {
		t.Fatalf("expected Len 2 before remove, got %d", idx.Len())
	}

	idx.Remove(1)
	if idx.Len() != 1 {
		t.Fatalf("expected Len 1 after remove, got %d", idx.Len())
	}
	hits := idx.Search("cleaning deduction", 10)
	for _, h := range hits {
		if h.ChunkID == 1 {
			t.Fatalf("expected chunk 1 to be gone from search results, got %+v", hits)
		}
	}
}

func TestRemoveUnknownChunkIsNoop(t *testing.T) {
	idx := New(1.5, 0.75)
	idx.Add(1, "the deposit deduction for cleaning was unreasonable")
	idx.Remove(999)
	if idx.Len() != 1 {
		t.Fatalf("expected Len unchanged after removing unknown chunk, got %d", idx.Len())
	}
}

func TestRemoveAllClearsEveryPosting(t *testing.T) {
	idx := New(1.5, 0.75)
	idx.Add(1, "the deposit deduction for cleaning was unreasonable")
	idx.Add(2, "the claim for damage to the carpet succeeded")
	idx.Add(3, "rent arrears were not in dispute")

	idx.RemoveAll([]int64{1, 2})
	if idx.Len() != 1 {
		t.Fatalf("expected Len 1 after RemoveAll, got %d", idx.Len())
	}
	hits := idx.Search("cleaning damage", 10)
	for _, h := range hits {
		if h.ChunkID == 1 || h.ChunkID == 2 {
			t.Fatalf("expected chunks 1 and 2 gone from search results, got %+v", hits)
		}
	}
}

func TestRemoveThenReAddReindexesUnderNewID(t *testing.T) {
	// Mirrors a document being re-ingested: its old chunk ID is removed and
	// its edited content is indexed again under a fresh ID.
	idx := New(1.5, 0.75)
	idx.Add(1, "the deposit deduction for cleaning was unreasonable")
	idx.Add(2, "rent arrears were not in dispute")

	idx.Remove(1)
	idx.Add(3, "the deposit deduction for cleaning was partially unreasonable")

	if idx.Len() != 2 {
		t.Fatalf("expected Len 2 after remove-then-readd, got %d", idx.Len())
	}
	hits := idx.Search("cleaning deduction", 10)
	if len(hits) == 0 || hits[0].ChunkID != 3 {
		t.Fatalf("expected chunk 3 to rank first, got %+v", hits)
	}
	for _, h := range hits {
		if h.ChunkID == 1 {
			t.Fatalf("expected stale chunk 1 to be gone, got %+v", hits)
		}
	}
}

func TestRebuildFromChunksMatchesDirectIndexing(t *testing.T) {
	chunks := []store.Chunk{
		{ID: 10, Content: "the deposit deduction was unreasonable"},
		{ID: 20, Content: "the claim for damage succeeded"},
	}
	rebuilt := RebuildFromChunks(chunks, 1.5, 0.75)
	if rebuilt.Len() != 2 {
		t.Fatalf("expected 2 chunks indexed, got %d", rebuilt.Len())
	}
	hits := rebuilt.Search("deduction", 10)
	if len(hits) != 1 || hits[0].ChunkID != 10 {
		t.Fatalf("expected chunk 10 to match, got %+v", hits)
	}

	direct := New(1.5, 0.75)
	for _, c := range chunks {
		direct.Add(c.ID, c.Content)
	}
	want := direct.Search("deduction", 10)
	if len(want) != len(hits) || want[0].ChunkID != hits[0].ChunkID || want[0].Score != hits[0].Score {
		t.Fatalf("expected rebuilt index to rank like a directly built one, got %+v vs %+v", hits, want)
	}
}
