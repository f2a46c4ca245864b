package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_Defaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, BackendMongo, cfg.Store.Backend)
	assert.Equal(t, "studyflow", cfg.Store.Mongo.Database)
	assert.Equal(t, BackendRedis, cfg.Lock.Backend)
	assert.Equal(t, 0.90, cfg.Cache.SimilarityThreshold)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoader_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  backend: memory
lock:
  backend: memory
cache:
  similarity_threshold: 0.95
  candidate_limit: 50
  lock_ttl: 90s
log:
  level: debug
  format: console
`), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, BackendMemory, cfg.Lock.Backend)
	assert.Equal(t, 0.95, cfg.Cache.SimilarityThreshold)
	assert.Equal(t, 50, cfg.Cache.CandidateLimit)
	assert.Equal(t, 90*time.Second, cfg.Cache.LockTTL)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, BackendMongo, cfg.Store.Backend)
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("STUDYFLOW_STORE_BACKEND", "memory")
	t.Setenv("STUDYFLOW_LOCK_BACKEND", "redis")
	t.Setenv("STUDYFLOW_LOCK_REDIS_ADDR", "redis-prod:6379")
	t.Setenv("STUDYFLOW_CACHE_SIMILARITY_THRESHOLD", "0.92")
	t.Setenv("STUDYFLOW_CACHE_WAIT_TIMEOUT", "30s")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, "redis-prod:6379", cfg.Lock.Redis.Addr)
	assert.Equal(t, 0.92, cfg.Cache.SimilarityThreshold)
	assert.Equal(t, 30*time.Second, cfg.Cache.Wait.Timeout)
}

func TestConfig_Validate(t *testing.T) {
	t.Run("unknown store backend", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Store.Backend = "cassandra"
		assert.Error(t, cfg.Validate())
	})

	t.Run("mongo requires uri", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Store.Mongo.URI = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("redis requires addr", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Lock.Redis.Addr = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("threshold out of range", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Cache.SimilarityThreshold = 1.2
		assert.Error(t, cfg.Validate())
	})
}
