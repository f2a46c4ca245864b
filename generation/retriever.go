package generation

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/studyflow/store"
)

// DefaultCandidateLimit caps how many prior entries are scored per
// lookup.
const DefaultCandidateLimit = 20

// CandidateRetriever fetches the shortlist of prior entries to score
// against a request. When the store supports vector search and a query
// embedding is available, the shortlist is ranked by vector similarity;
// otherwise it falls back to the most recent entries in scope. Vector
// failures degrade to the recency path rather than failing the lookup.
type CandidateRetriever struct {
	store  store.ArtifactStore
	limit  int
	logger *zap.Logger
}

// NewCandidateRetriever creates a retriever over the given store.
func NewCandidateRetriever(s store.ArtifactStore, limit int, logger *zap.Logger) *CandidateRetriever {
	if limit <= 0 {
		limit = DefaultCandidateLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CandidateRetriever{
		store:  s,
		limit:  limit,
		logger: logger.With(zap.String("component", "candidate_retriever")),
	}
}

// Fetch returns up to the configured limit of candidate entries for the
// scope. The embedding may be nil, in which case only the recency path
// is used. Entries from other scopes are never returned.
func (r *CandidateRetriever) Fetch(ctx context.Context, scope string, embedding []float64) ([]*store.ArtifactEntry, error) {
	if len(embedding) > 0 {
		if vs, ok := r.store.(store.VectorSearcher); ok {
			candidates, err := vs.VectorCandidates(ctx, scope, embedding, r.limit)
			if err != nil {
				r.logger.Warn("vector search failed, falling back to recency",
					zap.String("scope", scope),
					zap.Error(err))
			} else if len(candidates) > 0 {
				return filterScope(candidates, scope), nil
			}
		}
	}
	candidates, err := r.store.ListByScope(ctx, scope, r.limit)
	if err != nil {
		return nil, err
	}
	return filterScope(candidates, scope), nil
}

// filterScope drops any entry whose scope differs from the requested
// one. Scope isolation is a hard guarantee, so the retriever re-checks
// it even though both store paths already filter.
func filterScope(entries []*store.ArtifactEntry, scope string) []*store.ArtifactEntry {
	out := entries[:0]
	for _, e := range entries {
		if e.Scope == scope {
			out = append(out, e)
		}
	}
	return out
}
