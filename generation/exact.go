package generation

import (
	"context"
	"errors"

	"github.com/BaSui01/studyflow/store"
	"github.com/BaSui01/studyflow/types"
)

// ExactMatchResolver looks up entries by request hash. A miss is not an
// error: Resolve returns (nil, nil) so the caller can fall through to
// similarity scoring.
type ExactMatchResolver struct {
	store store.ArtifactStore
}

// NewExactMatchResolver creates a resolver over the given store.
func NewExactMatchResolver(s store.ArtifactStore) *ExactMatchResolver {
	return &ExactMatchResolver{store: s}
}

// Resolve fetches the entry for a hash, if one exists.
func (r *ExactMatchResolver) Resolve(ctx context.Context, hash string) (*store.ArtifactEntry, error) {
	entry, err := r.store.GetByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, types.NewError(types.ErrStoreUnavailable, "exact lookup failed").
			WithCause(err).
			WithRetryable(true)
	}
	return entry, nil
}
