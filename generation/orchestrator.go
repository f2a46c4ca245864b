package generation

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/studyflow/internal/metrics"
	"github.com/BaSui01/studyflow/lock"
	"github.com/BaSui01/studyflow/store"
	"github.com/BaSui01/studyflow/types"
)

// Config tunes the resolve pipeline.
type Config struct {
	// SimilarityThreshold is the minimum blended score for reusing a
	// similar entry. The comparison is inclusive.
	SimilarityThreshold float64 `json:"similarityThreshold" yaml:"similarity_threshold"`
	// CandidateLimit caps the shortlist scored per lookup.
	CandidateLimit int `json:"candidateLimit" yaml:"candidate_limit"`
	// LockTTL bounds how long a generation lock is held. It must
	// comfortably exceed the expected generation time.
	LockTTL time.Duration `json:"lockTTL" yaml:"lock_ttl"`
	// Wait controls the backoff loop for callers that lose the lock
	// race.
	Wait lock.WaitConfig `json:"wait" yaml:"wait"`
	// UsageUpdateTimeout bounds the background usage-count increment.
	UsageUpdateTimeout time.Duration `json:"usageUpdateTimeout" yaml:"usage_update_timeout"`
	// Scorer holds the similarity blend weights.
	Scorer ScorerConfig `json:"scorer" yaml:"scorer"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: DefaultSimilarityThreshold,
		CandidateLimit:      DefaultCandidateLimit,
		LockTTL:             2 * time.Minute,
		Wait:                lock.DefaultWaitConfig(),
		UsageUpdateTimeout:  5 * time.Second,
		Scorer:              DefaultScorerConfig(),
	}
}

// Validate checks the config for usable values.
func (c Config) Validate() error {
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return types.NewError(types.ErrInvalidRequest, "similarity threshold must be in (0,1]")
	}
	if c.CandidateLimit <= 0 {
		return types.NewError(types.ErrInvalidRequest, "candidate limit must be positive")
	}
	if c.LockTTL <= 0 {
		return types.NewError(types.ErrInvalidRequest, "lock TTL must be positive")
	}
	return nil
}

// Deps carries the orchestrator's collaborators. Store, Lock and
// Generator are required. Embedder and Metrics are optional.
type Deps struct {
	Store     store.ArtifactStore
	Lock      lock.GenerationLock
	Generator Generator
	Embedder  Embedder
	Metrics   *metrics.Collector
}

// Orchestrator runs the resolve pipeline: exact match, then similarity
// match, then locked generation. It deduplicates identical in-process
// requests through a singleflight group and identical cross-process
// requests through the generation lock.
type Orchestrator struct {
	deps      Deps
	config    Config
	keys      *KeyBuilder
	exact     *ExactMatchResolver
	scorer    *SimilarityScorer
	retriever *CandidateRetriever
	flight    singleflight.Group
	tracer    trace.Tracer
	logger    *zap.Logger
}

// NewOrchestrator wires the pipeline. The logger may be nil.
func NewOrchestrator(deps Deps, config Config, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "store is required")
	}
	if deps.Lock == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "lock is required")
	}
	if deps.Generator == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "generator is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		deps:      deps,
		config:    config,
		keys:      NewKeyBuilder(),
		exact:     NewExactMatchResolver(deps.Store),
		scorer:    NewSimilarityScorer(config.Scorer),
		retriever: NewCandidateRetriever(deps.Store, config.CandidateLimit, logger),
		tracer:    otel.Tracer("studyflow/generation"),
		logger:    logger.With(zap.String("component", "orchestrator")),
	}, nil
}

// ResolveOrGenerate returns a cached artifact for the request when one
// exists, or generates and persists a fresh one. Concurrent callers
// with the same key share a single generation.
func (o *Orchestrator) ResolveOrGenerate(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	key := o.keys.Build(req)

	ctx, span := o.tracer.Start(ctx, "generation.resolve",
		trace.WithAttributes(
			attribute.String("cache.scope", req.Scope),
			attribute.String("cache.hash", key.Hash),
		))
	defer span.End()

	start := time.Now()
	v, err, _ := o.flight.Do(key.Hash, func() (interface{}, error) {
		return o.resolve(ctx, req, key)
	})
	o.deps.Metrics.RecordResolveDuration(time.Since(start))
	if err != nil {
		return nil, err
	}
	result := v.(*Result)
	span.SetAttributes(attribute.String("cache.match_type", string(result.MatchType)))
	return result, nil
}

func (o *Orchestrator) resolve(ctx context.Context, req Request, key Key) (*Result, error) {
	// Stage 1: exact hash match.
	entry, err := o.resolveExact(ctx, key)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		o.deps.Metrics.RecordCacheRequest(string(MatchExact))
		o.touchUsage(entry.ID)
		o.logger.Debug("exact cache hit",
			zap.String("scope", req.Scope),
			zap.String("hash", key.Hash))
		return resultFromEntry(entry, MatchExact, 1.0), nil
	}

	// Stage 2: similarity match over the candidate shortlist.
	embedding := o.embed(ctx, key.Signature)
	result, err := o.resolveSimilar(ctx, req, key, embedding)
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}

	// Stage 3: locked generation.
	return o.generateWithLock(ctx, req, key, embedding)
}

// resolveExact wraps the hash lookup with a signature cross-check. A
// hash pointing at a different signature means the digest collided,
// which is a correctness bug and must not be served silently.
func (o *Orchestrator) resolveExact(ctx context.Context, key Key) (*store.ArtifactEntry, error) {
	entry, err := o.exact.Resolve(ctx, key.Hash)
	if err != nil || entry == nil {
		return nil, err
	}
	if entry.Signature != key.Signature {
		o.logger.Error("cache hash collision",
			zap.String("hash", key.Hash),
			zap.String("stored_signature", entry.Signature),
			zap.String("request_signature", key.Signature))
		return nil, types.NewError(types.ErrInternalError, "cache hash collision detected")
	}
	return entry, nil
}

// embed computes the query embedding when an embedder is configured.
// Embedding failures are logged and treated as "no embedding".
func (o *Orchestrator) embed(ctx context.Context, signature string) []float64 {
	if o.deps.Embedder == nil {
		return nil
	}
	vec, err := o.deps.Embedder.Embed(ctx, signature)
	if err != nil {
		o.logger.Warn("embedding failed, using recency retrieval", zap.Error(err))
		return nil
	}
	return vec
}

func (o *Orchestrator) resolveSimilar(ctx context.Context, req Request, key Key, embedding []float64) (*Result, error) {
	candidates, err := o.retriever.Fetch(ctx, req.Scope, embedding)
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "candidate retrieval failed").
			WithCause(err).
			WithRetryable(true)
	}
	o.deps.Metrics.RecordCandidatesScored(len(candidates))
	if len(candidates) == 0 {
		return nil, nil
	}

	best, score := o.scorer.BestMatch(key.Signature, req.Count, candidates)
	if best == nil || score < o.config.SimilarityThreshold {
		return nil, nil
	}
	o.deps.Metrics.RecordCacheRequest(string(MatchSimilar))
	o.touchUsage(best.ID)
	o.logger.Debug("similar cache hit",
		zap.String("scope", req.Scope),
		zap.String("entry_id", best.ID),
		zap.Float64("score", score))
	return resultFromEntry(best, MatchSimilar, score), nil
}

func (o *Orchestrator) generateWithLock(ctx context.Context, req Request, key Key, embedding []float64) (*Result, error) {
	token, found, err := o.acquireLock(ctx, key)
	if err != nil {
		return nil, err
	}
	if found != nil {
		// A concurrent holder finished while we waited.
		o.deps.Metrics.RecordCacheRequest(string(MatchExact))
		o.touchUsage(found.ID)
		return resultFromEntry(found, MatchExact, 1.0), nil
	}
	if token == "" {
		return nil, types.NewError(types.ErrLockWaitTimeout, "timed out waiting for concurrent generation").
			WithRetryable(true)
	}

	// Generation survives caller cancellation: once we hold the lock,
	// abandoning the work would waste the slot every waiter is backing
	// off on.
	genCtx := context.WithoutCancel(ctx)
	defer func() {
		if err := o.deps.Lock.Release(genCtx, key.Hash, token); err != nil && !errors.Is(err, lock.ErrNotHeld) {
			o.logger.Warn("lock release failed", zap.String("hash", key.Hash), zap.Error(err))
		}
	}()

	// The lock holder may have persisted between our similarity check
	// and our acquire.
	entry, err := o.resolveExact(ctx, key)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		o.deps.Metrics.RecordCacheRequest(string(MatchExact))
		o.touchUsage(entry.ID)
		return resultFromEntry(entry, MatchExact, 1.0), nil
	}

	genStart := time.Now()
	payload, err := o.deps.Generator.Generate(genCtx, req)
	if err != nil {
		o.deps.Metrics.RecordGeneration("error", time.Since(genStart))
		o.deps.Metrics.RecordCacheRequest("failed")
		return nil, types.NewError(types.ErrGenerationFailed, "artifact generation failed").
			WithCause(err).
			WithRetryable(true)
	}
	if len(payload) == 0 {
		o.deps.Metrics.RecordGeneration("error", time.Since(genStart))
		o.deps.Metrics.RecordCacheRequest("failed")
		return nil, types.NewError(types.ErrGenerationFailed, "generator returned empty payload").
			WithRetryable(true)
	}
	o.deps.Metrics.RecordGeneration("success", time.Since(genStart))

	id, err := o.deps.Store.Insert(genCtx, &store.ArtifactEntry{
		Scope:           req.Scope,
		Signature:       key.Signature,
		Hash:            key.Hash,
		Payload:         payload,
		EmbeddingVector: embedding,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateHash) {
			// Lost the insert race. The winner's entry is canonical.
			winner, werr := o.deps.Store.GetByHash(genCtx, key.Hash)
			if werr != nil {
				return nil, types.NewError(types.ErrStoreUnavailable, "winner lookup after duplicate insert failed").
					WithCause(werr).
					WithRetryable(true)
			}
			o.deps.Metrics.RecordCacheRequest(string(MatchExact))
			return resultFromEntry(winner, MatchExact, 1.0), nil
		}
		return nil, types.NewError(types.ErrStoreUnavailable, "persisting generated artifact failed").
			WithCause(err).
			WithRetryable(true)
	}

	o.deps.Metrics.RecordCacheRequest(string(MatchGenerated))
	o.logger.Info("generated fresh artifact",
		zap.String("scope", req.Scope),
		zap.String("entry_id", id),
		zap.Duration("took", time.Since(genStart)))
	return &Result{
		ID:         id,
		Payload:    payload,
		Cached:     false,
		MatchType:  MatchGenerated,
		Similarity: 0,
	}, nil
}

// acquireLock tries to take the generation lock, backing off while
// another holder works. Each backoff round re-checks the store, since
// the holder finishing is the common way a wait ends. Returns exactly
// one of: a lock token, the entry a concurrent holder persisted, or
// ("", nil, nil) when the wait deadline passed.
func (o *Orchestrator) acquireLock(ctx context.Context, key Key) (string, *store.ArtifactEntry, error) {
	deadline := time.Now().Add(o.config.Wait.Timeout)
	waitStart := time.Now()
	waited := false

	for attempt := 0; ; attempt++ {
		token, ok, err := o.deps.Lock.Acquire(ctx, key.Hash, o.config.LockTTL)
		if err != nil {
			return "", nil, types.NewError(types.ErrStoreUnavailable, "lock backend unavailable").
				WithCause(err).
				WithRetryable(true)
		}
		if ok {
			if waited {
				o.deps.Metrics.RecordLockWait(time.Since(waitStart))
			}
			return token, nil, nil
		}

		waited = true
		if time.Now().After(deadline) {
			o.deps.Metrics.RecordLockWait(time.Since(waitStart))
			return "", nil, nil
		}

		select {
		case <-ctx.Done():
			return "", nil, types.NewError(types.ErrInternalError, "context cancelled while waiting for lock").
				WithCause(ctx.Err())
		case <-time.After(o.config.Wait.CalculateBackoff(attempt)):
		}

		entry, err := o.resolveExact(ctx, key)
		if err != nil {
			return "", nil, err
		}
		if entry != nil {
			o.deps.Metrics.RecordLockWait(time.Since(waitStart))
			return "", entry, nil
		}
	}
}

// touchUsage bumps the usage count of a served entry in the background.
// Failures only surface as metrics and debug logs.
func (o *Orchestrator) touchUsage(id string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.config.UsageUpdateTimeout)
		defer cancel()
		if err := o.deps.Store.IncrementUsage(ctx, id); err != nil {
			o.deps.Metrics.RecordUsageIncrementFailure()
			o.logger.Debug("usage increment failed", zap.String("entry_id", id), zap.Error(err))
		}
	}()
}
