package generation

import (
	"context"
	"encoding/json"

	"github.com/BaSui01/studyflow/store"
)

// Generator produces a fresh artifact payload for a request. It is the
// expensive path the cache exists to avoid; implementations typically
// drive an LLM pipeline. Generate must return a non-empty JSON payload
// or an error.
type Generator interface {
	Generate(ctx context.Context, req Request) (json.RawMessage, error)
}

// GeneratorFunc adapts a plain function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req Request) (json.RawMessage, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (json.RawMessage, error) {
	return f(ctx, req)
}

// Embedder turns a signature into a dense vector for approximate
// retrieval. It is optional: when absent, candidate retrieval falls
// back to recency ordering.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// MatchType classifies how a result was obtained.
type MatchType string

const (
	// MatchExact means the request hashed to an existing entry.
	MatchExact MatchType = "exact"
	// MatchSimilar means a prior entry scored at or above the
	// similarity threshold.
	MatchSimilar MatchType = "similar"
	// MatchGenerated means no reusable entry existed and a fresh
	// artifact was produced.
	MatchGenerated MatchType = "generated"
)

// Result is what callers get back from ResolveOrGenerate.
type Result struct {
	// ID of the backing store entry.
	ID string `json:"id"`
	// Payload is the artifact body.
	Payload json.RawMessage `json:"payload"`
	// Cached reports whether the payload was served from the store.
	Cached bool `json:"cached"`
	// MatchType records which resolution path produced the result.
	MatchType MatchType `json:"matchType"`
	// Similarity is the blended score for similar matches, 1.0 for
	// exact matches and 0 for fresh generations.
	Similarity float64 `json:"similarity"`
}

func resultFromEntry(entry *store.ArtifactEntry, matchType MatchType, similarity float64) *Result {
	return &Result{
		ID:         entry.ID,
		Payload:    entry.Payload,
		Cached:     true,
		MatchType:  matchType,
		Similarity: similarity,
	}
}
