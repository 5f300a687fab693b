package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store. Vectors do not survive a restart;
// the indexing sweep rebuilds them from the record store on startup.
type MemoryStore struct {
	mu      sync.RWMutex
	vectors map[uint][]float32
}

// NewMemoryStore creates an empty in-memory vector store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{vectors: make(map[uint][]float32)}
}

// Upsert stores or replaces the vector for a message.
func (s *MemoryStore) Upsert(_ context.Context, messageID uint, vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("cannot store empty vector for message %d", messageID)
	}

	copied := make([]float32, len(vector))
	copy(copied, vector)

	s.mu.Lock()
	s.vectors[messageID] = copied
	s.mu.Unlock()
	return nil
}

// Search returns up to limit matches ordered by descending cosine
// similarity.
func (s *MemoryStore) Search(_ context.Context, vector []float32, limit int) ([]Match, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("cannot search with empty vector")
	}
	if limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	matches := make([]Match, 0, len(s.vectors))
	for id, v := range s.vectors {
		score, ok := cosineSimilarity(vector, v)
		if !ok {
			continue
		}
		matches = append(matches, Match{MessageID: id, Score: score})
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].MessageID < matches[j].MessageID
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Delete removes the vector for a message.
func (s *MemoryStore) Delete(_ context.Context, messageID uint) error {
	s.mu.Lock()
	delete(s.vectors, messageID)
	s.mu.Unlock()
	return nil
}

// Count returns the number of stored vectors.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors), nil
}

// cosineSimilarity returns the similarity of two vectors, or false when
// the dimensions differ or either vector has zero magnitude.
func cosineSimilarity(a, b []float32) (float64, bool) {
	if len(a) != len(b) {
		return 0, false
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}
