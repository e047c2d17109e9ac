package memory

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	"github.com/examgrade/examgrade-api/internal/vectorstore"
)

// Store is an in-memory vector store using brute-force cosine similarity.
// It backs tests and local single-process runs behind the same interface as
// the Qdrant gateway.
type Store struct {
	mu        sync.RWMutex
	dimension int
	points    []vectorstore.Point
}

// New returns an empty in-memory store.
func New() *Store { return &Store{} }

func (s *Store) Init(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dimension = dimension
	return nil
}

func (s *Store) Upsert(_ context.Context, points []vectorstore.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range points {
		if s.dimension != 0 && len(p.Vector) != s.dimension {
			return errors.New("vector dimension mismatch")
		}
	}

	for _, p := range points {
		replaced := false
		for i := range s.points {
			if s.points[i].ID == p.ID {
				s.points[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			s.points = append(s.points, p)
		}
	}

	return nil
}

func (s *Store) Query(_ context.Context, vector []float32, filter vectorstore.Filter, topK int) ([]vectorstore.QueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if topK <= 0 {
		topK = 5
	}

	type scored struct {
		index      int
		similarity float64
	}

	candidates := make([]scored, 0, len(s.points))
	for i, p := range s.points {
		if !filter.Matches(p.Metadata) {
			continue
		}
		candidates = append(candidates, scored{index: i, similarity: cosine(p.Vector, vector)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].similarity > candidates[j].similarity
	})

	if topK > len(candidates) {
		topK = len(candidates)
	}

	results := make([]vectorstore.QueryResult, 0, topK)
	for _, c := range candidates[:topK] {
		p := s.points[c.index]
		results = append(results, vectorstore.QueryResult{
			ID:       p.ID,
			Text:     p.Text,
			Metadata: p.Metadata,
			Distance: 1 - c.similarity,
		})
	}

	return results, nil
}

func (s *Store) Reset(_ context.Context, filter vectorstore.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.points[:0]
	for _, p := range s.points {
		if !filter.Matches(p.Metadata) {
			kept = append(kept, p)
		}
	}
	s.points = kept
	return nil
}

func (s *Store) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.points)), nil
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
