package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/studyflow/lock"
	"github.com/BaSui01/studyflow/store"
	"github.com/BaSui01/studyflow/types"
)

// countingGenerator returns a fixed payload and counts invocations.
type countingGenerator struct {
	calls   atomic.Int64
	delay   time.Duration
	payload json.RawMessage
	err     error
}

func (g *countingGenerator) Generate(ctx context.Context, req Request) (json.RawMessage, error) {
	g.calls.Add(1)
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	if g.err != nil {
		return nil, g.err
	}
	if g.payload != nil {
		return g.payload, nil
	}
	return json.RawMessage(fmt.Sprintf(`{"scope":%q,"count":%d}`, req.Scope, req.Count)), nil
}

type testFixture struct {
	store *store.MemoryStore
	lock  *lock.MemoryLock
	gen   *countingGenerator
	orch  *Orchestrator
}

func newFixture(t *testing.T, mutate func(*Config, *Deps)) *testFixture {
	t.Helper()
	f := &testFixture{
		store: store.NewMemoryStore(),
		lock:  lock.NewMemoryLock(),
		gen:   &countingGenerator{},
	}
	cfg := DefaultConfig()
	cfg.Wait.Timeout = 5 * time.Second
	deps := Deps{Store: f.store, Lock: f.lock, Generator: f.gen}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	orch, err := NewOrchestrator(deps, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	f.orch = orch
	return f
}

func questionReq(scope string) Request {
	return NewQuestionRequest(scope, 5,
		[]string{"Multiple Choice", "Short Answer"},
		[]string{"Apply", "Remember"},
		map[string]float64{"Easy": 0.3, "Medium": 0.5, "Hard": 0.2})
}

func TestOrchestrator_GenerateThenExactHit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req := questionReq("content123")

	first, err := f.orch.ResolveOrGenerate(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, MatchGenerated, first.MatchType)
	assert.NotEmpty(t, first.ID)

	second, err := f.orch.ResolveOrGenerate(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, MatchExact, second.MatchType)
	assert.Equal(t, 1.0, second.Similarity)
	assert.Equal(t, first.ID, second.ID)
	assert.JSONEq(t, string(first.Payload), string(second.Payload))

	assert.Equal(t, int64(1), f.gen.calls.Load())
}

func TestOrchestrator_ReorderedRequestIsExactHit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.orch.ResolveOrGenerate(ctx, questionReq("content123"))
	require.NoError(t, err)

	reordered := NewQuestionRequest("content123", 5,
		[]string{"Short Answer", "Multiple Choice"},
		[]string{"Remember", "Apply"},
		map[string]float64{"Hard": 0.2, "Medium": 0.5, "Easy": 0.3})
	result, err := f.orch.ResolveOrGenerate(ctx, reordered)
	require.NoError(t, err)
	assert.Equal(t, MatchExact, result.MatchType)
	assert.Equal(t, int64(1), f.gen.calls.Load())
}

func TestOrchestrator_ScopeIsolation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	a, err := f.orch.ResolveOrGenerate(ctx, questionReq("contentA"))
	require.NoError(t, err)
	b, err := f.orch.ResolveOrGenerate(ctx, questionReq("contentB"))
	require.NoError(t, err)

	assert.Equal(t, MatchGenerated, a.MatchType)
	assert.Equal(t, MatchGenerated, b.MatchType)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, int64(2), f.gen.calls.Load())
}

func TestOrchestrator_SimilarityThresholdInclusive(t *testing.T) {
	ctx := context.Background()
	near := NewQuestionRequest("content123", 5,
		[]string{"Multiple Choice", "Short Answer"},
		[]string{"Apply", "Remember", "Understand"},
		map[string]float64{"Easy": 0.3, "Medium": 0.5, "Hard": 0.2})

	// Measure the blended score the stored signature will get against
	// the near request, then pin the threshold exactly at it.
	builder := NewKeyBuilder()
	storedSig := builder.Signature(questionReq("content123"))
	nearKey := builder.Build(near)
	_, score := NewSimilarityScorer(DefaultScorerConfig()).BestMatch(
		nearKey.Signature, near.Count,
		[]*store.ArtifactEntry{{Signature: storedSig}})
	require.Greater(t, score, 0.0)
	require.Less(t, score, 1.0)

	t.Run("score meeting threshold is reused", func(t *testing.T) {
		f := newFixture(t, func(cfg *Config, _ *Deps) {
			cfg.SimilarityThreshold = score - 1e-9
		})
		_, err := f.orch.ResolveOrGenerate(ctx, questionReq("content123"))
		require.NoError(t, err)

		result, err := f.orch.ResolveOrGenerate(ctx, near)
		require.NoError(t, err)
		assert.Equal(t, MatchSimilar, result.MatchType)
		assert.True(t, result.Cached)
		assert.GreaterOrEqual(t, result.Similarity, f.orch.config.SimilarityThreshold)
		assert.InDelta(t, score, result.Similarity, 1e-9)
		assert.Equal(t, int64(1), f.gen.calls.Load())
	})

	t.Run("score below threshold regenerates", func(t *testing.T) {
		f := newFixture(t, func(cfg *Config, _ *Deps) {
			cfg.SimilarityThreshold = score + 1e-6
		})
		_, err := f.orch.ResolveOrGenerate(ctx, questionReq("content123"))
		require.NoError(t, err)

		result, err := f.orch.ResolveOrGenerate(ctx, near)
		require.NoError(t, err)
		assert.Equal(t, MatchGenerated, result.MatchType)
		assert.Equal(t, int64(2), f.gen.calls.Load())
	})
}

func TestOrchestrator_SingleFlight(t *testing.T) {
	f := newFixture(t, nil)
	f.gen.delay = 50 * time.Millisecond
	f.gen.payload = json.RawMessage(`{"shared":true}`)
	req := questionReq("content123")

	const workers = 8
	results := make([]*Result, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.orch.ResolveOrGenerate(context.Background(), req)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		assert.JSONEq(t, `{"shared":true}`, string(results[i].Payload))
	}
	assert.Equal(t, int64(1), f.gen.calls.Load())
}

func TestOrchestrator_CrossProcessDeduplication(t *testing.T) {
	// Two orchestrators sharing one store and one lock stand in for two
	// processes racing on the same request.
	sharedStore := store.NewMemoryStore()
	sharedLock := lock.NewMemoryLock()
	gen := &countingGenerator{delay: 100 * time.Millisecond, payload: json.RawMessage(`{"winner":true}`)}

	cfg := DefaultConfig()
	cfg.Wait.Timeout = 5 * time.Second
	newOrch := func() *Orchestrator {
		o, err := NewOrchestrator(Deps{Store: sharedStore, Lock: sharedLock, Generator: gen}, cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		return o
	}
	first, second := newOrch(), newOrch()
	req := questionReq("content123")

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0], errs[0] = first.ResolveOrGenerate(context.Background(), req)
	}()
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		results[1], errs[1] = second.ResolveOrGenerate(context.Background(), req)
	}()
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.JSONEq(t, `{"winner":true}`, string(results[0].Payload))
	assert.JSONEq(t, `{"winner":true}`, string(results[1].Payload))
	assert.Equal(t, int64(1), gen.calls.Load())
}

func TestOrchestrator_LockWaitTimeout(t *testing.T) {
	f := newFixture(t, func(cfg *Config, _ *Deps) {
		cfg.Wait.Timeout = 150 * time.Millisecond
		cfg.Wait.InitialBackoff = 20 * time.Millisecond
	})
	req := questionReq("content123")
	key := NewKeyBuilder().Build(req)

	// Hold the generation lock externally and never finish.
	_, ok, err := f.lock.Acquire(context.Background(), key.Hash, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.orch.ResolveOrGenerate(context.Background(), req)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrLockWaitTimeout))
	assert.True(t, types.IsRetryable(err))
	assert.Equal(t, int64(0), f.gen.calls.Load())
}

func TestOrchestrator_WaiterPicksUpFinishedEntry(t *testing.T) {
	f := newFixture(t, func(cfg *Config, _ *Deps) {
		cfg.Wait.InitialBackoff = 20 * time.Millisecond
	})
	req := questionReq("content123")
	key := NewKeyBuilder().Build(req)

	// Simulate a remote holder: take the lock, persist the entry while
	// the local caller is backing off, and keep the lock held so the
	// caller must find the entry rather than acquire.
	_, ok, err := f.lock.Acquire(context.Background(), key.Hash, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	go func() {
		time.Sleep(40 * time.Millisecond)
		_, _ = f.store.Insert(context.Background(), &store.ArtifactEntry{
			Scope:     req.Scope,
			Signature: key.Signature,
			Hash:      key.Hash,
			Payload:   json.RawMessage(`{"from":"remote"}`),
		})
	}()

	result, err := f.orch.ResolveOrGenerate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, MatchExact, result.MatchType)
	assert.True(t, result.Cached)
	assert.JSONEq(t, `{"from":"remote"}`, string(result.Payload))
	assert.Equal(t, int64(0), f.gen.calls.Load())
}

func TestOrchestrator_CancelledCallerStillPersists(t *testing.T) {
	f := newFixture(t, nil)
	f.gen.delay = 100 * time.Millisecond
	f.gen.payload = json.RawMessage(`{"survived":true}`)
	req := questionReq("content123")
	key := NewKeyBuilder().Build(req)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	// The caller's cancellation mid-generation must not abort the
	// in-flight generation: the artifact still lands in the store for
	// every later (and concurrent) requester.
	_, _ = f.orch.ResolveOrGenerate(ctx, req)

	assert.Eventually(t, func() bool {
		entry, err := f.store.GetByHash(context.Background(), key.Hash)
		return err == nil && string(entry.Payload) == `{"survived":true}`
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), f.gen.calls.Load())
}

func TestOrchestrator_GenerationFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.gen.err = errors.New("model unavailable")

	_, err := f.orch.ResolveOrGenerate(context.Background(), questionReq("content123"))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrGenerationFailed))
	assert.True(t, types.IsRetryable(err))

	// Nothing was cached, so a recovered generator serves the request.
	f.gen.err = nil
	result, err := f.orch.ResolveOrGenerate(context.Background(), questionReq("content123"))
	require.NoError(t, err)
	assert.Equal(t, MatchGenerated, result.MatchType)
}

func TestOrchestrator_EmptyPayloadIsFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.gen.payload = json.RawMessage{}
	f.gen.err = nil

	_, err := f.orch.ResolveOrGenerate(context.Background(), questionReq("content123"))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrGenerationFailed))
}

// racingInsertStore simulates losing the insert race: every Insert
// persists a rival entry under the same hash and then reports the
// unique-index violation to the caller.
type racingInsertStore struct {
	*store.MemoryStore
}

func (s *racingInsertStore) Insert(ctx context.Context, entry *store.ArtifactEntry) (string, error) {
	rival := entry.Clone()
	rival.ID = "rival-id"
	rival.Payload = json.RawMessage(`{"winner":"rival"}`)
	if _, err := s.MemoryStore.Insert(ctx, rival); err != nil {
		return "", err
	}
	return "", store.ErrDuplicateHash
}

func TestOrchestrator_DuplicateInsertReturnsWinner(t *testing.T) {
	racing := &racingInsertStore{MemoryStore: store.NewMemoryStore()}
	gen := &countingGenerator{payload: json.RawMessage(`{"winner":"loser"}`)}
	cfg := DefaultConfig()
	orch, err := NewOrchestrator(Deps{Store: racing, Lock: lock.NewMemoryLock(), Generator: gen}, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	result, err := orch.ResolveOrGenerate(context.Background(), questionReq("content123"))
	require.NoError(t, err)
	assert.Equal(t, "rival-id", result.ID)
	assert.Equal(t, MatchExact, result.MatchType)
	assert.True(t, result.Cached)
	assert.JSONEq(t, `{"winner":"rival"}`, string(result.Payload))
	assert.Equal(t, int64(1), gen.calls.Load())
}

func TestOrchestrator_HashCollisionIsSurfaced(t *testing.T) {
	f := newFixture(t, nil)
	req := questionReq("content123")
	key := NewKeyBuilder().Build(req)

	// An entry stored under the request hash with a foreign signature
	// can only mean the digest collided. Serving it would be wrong.
	_, err := f.store.Insert(context.Background(), &store.ArtifactEntry{
		Scope:     req.Scope,
		Signature: "something|entirely|different",
		Hash:      key.Hash,
		Payload:   json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	_, err = f.orch.ResolveOrGenerate(context.Background(), req)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInternalError))
}

func TestOrchestrator_InvalidRequestRejectedEarly(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.orch.ResolveOrGenerate(context.Background(), Request{Scope: "", Count: 5, Types: []string{"x"}})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))
	assert.Equal(t, int64(0), f.gen.calls.Load())
}

func TestOrchestrator_EmbedderWiresVectorRetrieval(t *testing.T) {
	embedCalls := atomic.Int64{}
	embedder := embedderFunc(func(ctx context.Context, text string) ([]float64, error) {
		embedCalls.Add(1)
		return []float64{1, 0, 0}, nil
	})
	f := newFixture(t, func(_ *Config, deps *Deps) {
		deps.Embedder = embedder
	})

	result, err := f.orch.ResolveOrGenerate(context.Background(), questionReq("content123"))
	require.NoError(t, err)
	assert.Equal(t, MatchGenerated, result.MatchType)
	assert.Positive(t, embedCalls.Load())

	// The generated entry carries the embedding for future lookups.
	entry, err := f.store.GetByHash(context.Background(), NewKeyBuilder().Build(questionReq("content123")).Hash)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0}, entry.EmbeddingVector)
}

func TestOrchestrator_EmbedderFailureDegrades(t *testing.T) {
	embedder := embedderFunc(func(ctx context.Context, text string) ([]float64, error) {
		return nil, errors.New("embedding service down")
	})
	f := newFixture(t, func(_ *Config, deps *Deps) {
		deps.Embedder = embedder
	})
	ctx := context.Background()

	_, err := f.orch.ResolveOrGenerate(ctx, questionReq("content123"))
	require.NoError(t, err)
	result, err := f.orch.ResolveOrGenerate(ctx, questionReq("content123"))
	require.NoError(t, err)
	assert.Equal(t, MatchExact, result.MatchType)
	assert.Equal(t, int64(1), f.gen.calls.Load())
}

func TestOrchestrator_UsageIncrementOnHit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req := questionReq("content123")

	first, err := f.orch.ResolveOrGenerate(ctx, req)
	require.NoError(t, err)
	_, err = f.orch.ResolveOrGenerate(ctx, req)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		entry, err := f.store.GetByHash(ctx, NewKeyBuilder().Build(req).Hash)
		return err == nil && entry.UsageCount >= 1 && entry.ID == first.ID
	}, time.Second, 10*time.Millisecond)
}

func TestNewOrchestrator_RequiresDependencies(t *testing.T) {
	cfg := DefaultConfig()
	s := store.NewMemoryStore()
	l := lock.NewMemoryLock()
	g := &countingGenerator{}

	_, err := NewOrchestrator(Deps{Lock: l, Generator: g}, cfg, nil)
	assert.Error(t, err)
	_, err = NewOrchestrator(Deps{Store: s, Generator: g}, cfg, nil)
	assert.Error(t, err)
	_, err = NewOrchestrator(Deps{Store: s, Lock: l}, cfg, nil)
	assert.Error(t, err)

	bad := cfg
	bad.SimilarityThreshold = 1.5
	_, err = NewOrchestrator(Deps{Store: s, Lock: l, Generator: g}, bad, nil)
	assert.Error(t, err)
}

// embedderFunc adapts a function to the Embedder interface.
type embedderFunc func(ctx context.Context, text string) ([]float64, error)

func (f embedderFunc) Embed(ctx context.Context, text string) ([]float64, error) {
	return f(ctx, text)
}
