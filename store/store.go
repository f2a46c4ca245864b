// Package store provides persistence for generated study artifacts.
//
// The cache core treats persistence as a generic document store: artifacts
// are inserted once after a successful generation and read-mostly afterwards.
// The only mutation path is the usage counter, which is best-effort analytics.
//
// Supported backends:
// - Memory: for tests and single-node deployments (default)
// - MongoDB: for production deployments
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Common errors
var (
	ErrNotFound      = errors.New("artifact not found")
	ErrDuplicateHash = errors.New("artifact hash already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrStoreClosed   = errors.New("store is closed")
)

// ArtifactEntry is the persisted record for one generated artifact.
// Entries are created once and never deleted by this subsystem; retention
// is an external concern.
type ArtifactEntry struct {
	// ID is the unique identifier of the entry
	ID string `json:"id" bson:"_id"`

	// Scope is the partition within which entries are comparable,
	// e.g. a source content ID or a topic+subject+difficulty composite
	Scope string `json:"scope" bson:"scope"`

	// Signature is the canonical parameter signature of the request
	// that produced this artifact
	Signature string `json:"signature" bson:"signature"`

	// Hash is the digest of scope+signature, unique across the collection
	Hash string `json:"hash" bson:"hash"`

	// Payload is the generated content or question set, opaque to the cache
	Payload json.RawMessage `json:"payload" bson:"payload"`

	// CreatedAt is when the artifact was persisted
	CreatedAt time.Time `json:"created_at" bson:"createdAt"`

	// UsageCount tracks how often the artifact was reused
	UsageCount int64 `json:"usage_count" bson:"usageCount"`

	// EmbeddingVector is the optional embedding of the signature text,
	// populated when an embedder is configured
	EmbeddingVector []float64 `json:"embedding_vector,omitempty" bson:"embeddingVector,omitempty"`
}

// Clone returns a copy of the entry so callers cannot mutate stored state.
func (e *ArtifactEntry) Clone() *ArtifactEntry {
	if e == nil {
		return nil
	}
	c := *e
	if e.Payload != nil {
		c.Payload = append(json.RawMessage(nil), e.Payload...)
	}
	if e.EmbeddingVector != nil {
		c.EmbeddingVector = append([]float64(nil), e.EmbeddingVector...)
	}
	return &c
}

// ArtifactStore is the persistence abstraction consumed by the cache core.
type ArtifactStore interface {
	// GetByHash returns the entry with the exact hash, or ErrNotFound.
	GetByHash(ctx context.Context, hash string) (*ArtifactEntry, error)

	// ListByScope returns up to limit entries sharing scope, most recent first.
	ListByScope(ctx context.Context, scope string, limit int) ([]*ArtifactEntry, error)

	// Insert persists a new entry and returns its ID.
	// Returns ErrDuplicateHash when an entry with the same hash exists.
	Insert(ctx context.Context, entry *ArtifactEntry) (string, error)

	// IncrementUsage bumps the usage counter of an entry. Best-effort.
	IncrementUsage(ctx context.Context, id string) error

	// Ping checks if the store is healthy.
	Ping(ctx context.Context) error

	// Close closes the store and releases resources.
	Close() error
}

// VectorSearcher is an optional interface for ArtifactStore implementations
// that support nearest-embedding candidate search. Use type assertion to
// check support:
//
//	if vs, ok := store.(VectorSearcher); ok { vs.VectorCandidates(ctx, scope, emb, 10) }
type VectorSearcher interface {
	// VectorCandidates returns up to limit entries within scope ordered by
	// embedding similarity to the query vector.
	VectorCandidates(ctx context.Context, scope string, embedding []float64, limit int) ([]*ArtifactEntry, error)
}
