// Package studyflow provides a top-level convenience entry point for the
// semantic generation cache with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/studyflow"
//
//	cache, err := studyflow.New(myGenerator)
//	cache, err := studyflow.New(myGenerator, studyflow.WithConfigPath("config.yaml"))
//
//	result, err := cache.ResolveOrGenerate(ctx,
//	    generation.NewQuestionRequest("content123", 5, nil, nil, nil))
//
// New wires the configured store and lock backends behind a
// [generation.Orchestrator]. Use the generation, store and lock packages
// directly when you need finer control over the wiring.
package studyflow

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/studyflow/config"
	"github.com/BaSui01/studyflow/generation"
	"github.com/BaSui01/studyflow/internal/metrics"
	"github.com/BaSui01/studyflow/lock"
	"github.com/BaSui01/studyflow/store"
	"github.com/BaSui01/studyflow/types"
)

// Cache is the assembled semantic generation cache.
type Cache struct {
	orch   *generation.Orchestrator
	store  store.ArtifactStore
	lock   lock.GenerationLock
	logger *zap.Logger
}

type cacheOptions struct {
	configPath string
	config     *config.Config
	logger     *zap.Logger
	embedder   generation.Embedder
	registry   prometheus.Registerer
}

// Option configures the cache created by [New].
type Option func(*cacheOptions)

// WithConfigPath loads configuration from a YAML file. Environment
// overrides under the STUDYFLOW prefix still apply.
func WithConfigPath(path string) Option {
	return func(o *cacheOptions) { o.configPath = path }
}

// WithConfig supplies a fully built configuration, bypassing the loader.
func WithConfig(cfg *config.Config) Option {
	return func(o *cacheOptions) { o.config = cfg }
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *cacheOptions) { o.logger = logger }
}

// WithEmbedder enables vector-assisted candidate retrieval.
func WithEmbedder(e generation.Embedder) Option {
	return func(o *cacheOptions) { o.embedder = e }
}

// WithMetricsRegistry registers cache metrics on reg instead of the
// default prometheus registry.
func WithMetricsRegistry(reg prometheus.Registerer) Option {
	return func(o *cacheOptions) { o.registry = reg }
}

// New assembles a cache around the given generator.
func New(gen generation.Generator, opts ...Option) (*Cache, error) {
	if gen == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "generator is required")
	}

	var o cacheOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg := o.config
	if cfg == nil {
		loaded, err := config.NewLoader().WithConfigPath(o.configPath).Load()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := o.logger
	if logger == nil {
		built, err := newLogger(cfg.Log)
		if err != nil {
			return nil, err
		}
		logger = built
	}

	artifactStore, err := buildStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	genLock, err := buildLock(cfg, logger)
	if err != nil {
		_ = artifactStore.Close()
		return nil, err
	}

	collector := metrics.NewCollector("studyflow", o.registry, logger)

	orch, err := generation.NewOrchestrator(generation.Deps{
		Store:     artifactStore,
		Lock:      genLock,
		Generator: gen,
		Embedder:  o.embedder,
		Metrics:   collector,
	}, cfg.Cache, logger)
	if err != nil {
		_ = artifactStore.Close()
		return nil, err
	}

	return &Cache{
		orch:   orch,
		store:  artifactStore,
		lock:   genLock,
		logger: logger,
	}, nil
}

// ResolveOrGenerate serves the request from cache or generates fresh.
// See [generation.Orchestrator.ResolveOrGenerate].
func (c *Cache) ResolveOrGenerate(ctx context.Context, req generation.Request) (*generation.Result, error) {
	return c.orch.ResolveOrGenerate(ctx, req)
}

// Close releases the store and lock backends.
func (c *Cache) Close() error {
	var firstErr error
	if err := c.store.Close(); err != nil {
		firstErr = err
	}
	if closer, ok := c.lock.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func buildStore(cfg *config.Config, logger *zap.Logger) (store.ArtifactStore, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return store.NewMemoryStore(), nil
	case config.BackendMongo:
		return store.NewMongoStore(cfg.Store.Mongo, logger)
	default:
		return nil, types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("unknown store backend %q", cfg.Store.Backend))
	}
}

func buildLock(cfg *config.Config, logger *zap.Logger) (lock.GenerationLock, error) {
	switch cfg.Lock.Backend {
	case config.BackendMemory:
		return lock.NewMemoryLock(), nil
	case config.BackendRedis:
		return lock.NewRedisLock(cfg.Lock.Redis, logger)
	default:
		return nil, types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("unknown lock backend %q", cfg.Lock.Backend))
	}
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}
