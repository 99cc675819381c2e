package template

import (
	"errors"
	"math"
	"sync"

	"github.com/coder/hnsw"
)

// hnswMaxNeighbors is the M parameter of the HNSW graph.
const hnswMaxNeighbors = 16

// Match is one identification candidate from the index.
type Match struct {
	SubjectID string
	Distance  float64
}

// Index is an in-memory HNSW graph over enrolled templates, used for 1:N
// identification (resolving which enrolled subject a capture belongs to).
// It mirrors the template store: rebuilt on startup, updated on enrollment.
type Index struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[string]
	vectors map[string][]float32
}

// NewIndex creates an empty identification index.
func NewIndex() *Index {
	return &Index{vectors: make(map[string][]float32)}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors) // Standard HNSW formula
	g.Distance = hnsw.CosineDistance
	return g
}

// Build replaces the index contents with the given templates.
func (ix *Index) Build(templates []Template) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.vectors = make(map[string][]float32, len(templates))
	g := newGraph()
	for _, tpl := range templates {
		if len(tpl.Embedding) == 0 {
			continue
		}
		vec := append([]float32(nil), tpl.Embedding...)
		ix.vectors[tpl.SubjectID] = vec
		g.Add(hnsw.MakeNode(tpl.SubjectID, vec))
	}
	ix.graph = g
}

// Upsert adds or replaces a subject's vector. A replacement rebuilds the
// graph; enrollments dominate in practice and append directly.
func (ix *Index) Upsert(subjectID string, embedding []float32) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	vec := append([]float32(nil), embedding...)
	_, existed := ix.vectors[subjectID]
	ix.vectors[subjectID] = vec

	if ix.graph == nil {
		ix.graph = newGraph()
	}
	if !existed {
		ix.graph.Add(hnsw.MakeNode(subjectID, vec))
		return
	}

	g := newGraph()
	for id, v := range ix.vectors {
		g.Add(hnsw.MakeNode(id, v))
	}
	ix.graph = g
}

// Remove drops a subject from the index.
func (ix *Index) Remove(subjectID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.vectors[subjectID]; !ok {
		return
	}
	delete(ix.vectors, subjectID)

	g := newGraph()
	for id, v := range ix.vectors {
		g.Add(hnsw.MakeNode(id, v))
	}
	ix.graph = g
}

// Count returns the number of indexed subjects.
func (ix *Index) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.vectors)
}

// Nearest returns up to k nearest enrolled subjects to the query embedding,
// closest first, with exact cosine distances.
func (ix *Index) Nearest(query []float32, k int) ([]Match, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.graph == nil || len(ix.vectors) == 0 {
		return nil, errors.New("identification index is empty")
	}

	neighbors := ix.graph.Search(query, k)
	matches := make([]Match, 0, len(neighbors))
	for _, n := range neighbors {
		matches = append(matches, Match{
			SubjectID: n.Key,
			// Recompute the exact distance from the node's own vector;
			// the graph's internal ordering is approximate.
			Distance: cosineDistance(query, n.Value),
		})
	}
	return matches, nil
}

// cosineDistance mirrors facematch.CosineDistance; duplicated here to keep
// the storage layer free of a dependency on the matcher package.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 2.0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return 1 - sim
}
