package store

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory implementation of ArtifactStore.
// Suitable for tests and single-node deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	byHash  map[string]*ArtifactEntry
	byID    map[string]*ArtifactEntry
	byScope map[string][]*ArtifactEntry
	closed  bool
}

// NewMemoryStore creates a new in-memory artifact store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byHash:  make(map[string]*ArtifactEntry),
		byID:    make(map[string]*ArtifactEntry),
		byScope: make(map[string][]*ArtifactEntry),
	}
}

// GetByHash returns the entry with the exact hash, or ErrNotFound.
func (s *MemoryStore) GetByHash(ctx context.Context, hash string) (*ArtifactEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	entry, ok := s.byHash[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return entry.Clone(), nil
}

// ListByScope returns up to limit entries sharing scope, most recent first.
func (s *MemoryStore) ListByScope(ctx context.Context, scope string, limit int) ([]*ArtifactEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	entries := s.byScope[scope]
	result := make([]*ArtifactEntry, 0, len(entries))
	for _, e := range entries {
		result = append(result, e.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// Insert persists a new entry and returns its ID.
func (s *MemoryStore) Insert(ctx context.Context, entry *ArtifactEntry) (string, error) {
	if entry == nil || entry.Hash == "" || entry.Scope == "" {
		return "", ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrStoreClosed
	}

	if _, exists := s.byHash[entry.Hash]; exists {
		return "", ErrDuplicateHash
	}

	stored := entry.Clone()
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}

	s.byHash[stored.Hash] = stored
	s.byID[stored.ID] = stored
	s.byScope[stored.Scope] = append(s.byScope[stored.Scope], stored)

	return stored.ID, nil
}

// IncrementUsage bumps the usage counter of an entry.
func (s *MemoryStore) IncrementUsage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	entry, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	entry.UsageCount++
	return nil
}

// VectorCandidates returns up to limit entries within scope ordered by cosine
// similarity of their stored embeddings to the query vector. Entries without
// an embedding are skipped.
func (s *MemoryStore) VectorCandidates(ctx context.Context, scope string, embedding []float64, limit int) ([]*ArtifactEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	type scored struct {
		entry *ArtifactEntry
		score float64
	}

	candidates := make([]scored, 0)
	for _, e := range s.byScope[scope] {
		if len(e.EmbeddingVector) == 0 {
			continue
		}
		candidates = append(candidates, scored{
			entry: e.Clone(),
			score: cosineSimilarity(embedding, e.EmbeddingVector),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if limit > 0 && limit < len(candidates) {
		candidates = candidates[:limit]
	}

	result := make([]*ArtifactEntry, 0, len(candidates))
	for _, c := range candidates {
		result = append(result, c.entry)
	}
	return result, nil
}

// Ping checks if the store is healthy.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close closes the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// cosineSimilarity computes the cosine similarity between two vectors.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Ensure MemoryStore implements ArtifactStore and VectorSearcher
var (
	_ ArtifactStore  = (*MemoryStore)(nil)
	_ VectorSearcher = (*MemoryStore)(nil)
)
