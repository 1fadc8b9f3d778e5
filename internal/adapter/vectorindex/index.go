// Package vectorindex implements the Vector Index capability (§6): an
// in-process, brute-force cosine-similarity index satisfying the Gap
// Detector's VectorIndex interface by structural typing, following the
// teacher's one-package-per-adapter layout (internal/adapter/<port>).
package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/Strob0t/fortitude/internal/gapdetector"
)

// Embedder turns arbitrary text into a fixed-dimension vector. Swappable so
// a real embedding model can be substituted without touching Index.
type Embedder func(text string) []float32

// Document is one entry in the index.
type Document struct {
	ID       string
	Text     string
	Metadata map[string]string
}

type record struct {
	doc    Document
	vector []float32
}

// Index is an in-process vector index guarded by a single lock; scan cost
// is linear in document count, which is acceptable at the corpus sizes a
// single gap-detection run operates over.
type Index struct {
	mu       sync.RWMutex
	embed    Embedder
	records  map[string]record
}

// New creates an Index using embed to vectorize both upserted documents and
// search queries. Pass nil to use the default hashing embedder.
func New(embed Embedder) *Index {
	if embed == nil {
		embed = HashEmbed
	}
	return &Index{embed: embed, records: make(map[string]record)}
}

// Upsert adds or replaces a document, computing its embedding via the
// configured Embedder.
func (idx *Index) Upsert(_ context.Context, doc Document) error {
	if doc.ID == "" {
		return fmt.Errorf("vectorindex: document id must not be empty")
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.records[doc.ID] = record{doc: doc, vector: idx.embed(doc.Text)}
	return nil
}

// Delete removes a document from the index. Deleting an absent id is a no-op.
func (idx *Index) Delete(_ context.Context, id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.records, id)
	return nil
}

// Count returns the number of indexed documents.
func (idx *Index) Count(_ context.Context) (int, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.records), nil
}

// Search returns the limit highest-scoring documents for queryText by
// cosine similarity, satisfying gapdetector.VectorIndex.
func (idx *Index) Search(_ context.Context, queryText string, limit int) ([]gapdetector.VectorMatch, error) {
	queryVec := idx.embed(queryText)

	idx.mu.RLock()
	matches := make([]gapdetector.VectorMatch, 0, len(idx.records))
	for id, rec := range idx.records {
		matches = append(matches, gapdetector.VectorMatch{ID: id, Score: cosineSimilarity(queryVec, rec.vector)})
	}
	idx.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, magA, magB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// HashEmbed is a deterministic, dependency-free stand-in embedder: it
// projects a word-presence hash into a fixed 64-dimension vector. It has no
// semantic understanding; it exists so Index is independently testable and
// usable without an external embedding model.
func HashEmbed(text string) []float32 {
	const dims = 64
	vec := make([]float32, dims)
	word := make([]byte, 0, 16)
	flush := func() {
		if len(word) == 0 {
			return
		}
		h := fnv32(word)
		vec[int(h)%dims] += 1
		word = word[:0]
	}
	for i := 0; i < len(text); i++ {
		c := text[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			word = append(word, c)
			continue
		}
		flush()
	}
	flush()
	return vec
}

func fnv32(data []byte) uint32 {
	var h uint32 = 2166136261
	for _, b := range data {
		h ^= uint32(b)
		h *= 16777619
	}
	return h
}
