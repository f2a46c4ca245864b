package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the lock key only when the caller's token still owns
// it, so a holder whose TTL expired cannot release a successor's lock.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// RedisConfig contains Redis-specific lock configuration
type RedisConfig struct {
	// Addr is the Redis server address
	Addr string `json:"addr" yaml:"addr"`

	// Password is the Redis password (optional)
	Password string `json:"password" yaml:"password"`

	// DB is the Redis database number
	DB int `json:"db" yaml:"db"`

	// PoolSize is the connection pool size
	PoolSize int `json:"pool_size" yaml:"pool_size"`

	// KeyPrefix is the prefix for all lock keys
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// DefaultRedisConfig returns the default Redis lock configuration
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		DB:        0,
		PoolSize:  10,
		KeyPrefix: "studyflow:",
	}
}

// RedisLock is a Redis-based implementation of GenerationLock.
// Suitable for multi-process deployments: the lock record is visible to all
// request-handling processes and expires via TTL if a holder dies.
type RedisLock struct {
	client    *redis.Client
	keyPrefix string
	logger    *zap.Logger
}

// NewRedisLock creates a new Redis-based generation lock.
func NewRedisLock(config RedisConfig, logger *zap.Logger) (*RedisLock, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "studyflow:"
	}

	return &RedisLock{
		client:    client,
		keyPrefix: keyPrefix + "genlock:",
		logger:    logger.With(zap.String("component", "redis_lock")),
	}, nil
}

// NewRedisLockWithClient creates a lock on an existing Redis client.
func NewRedisLockWithClient(client *redis.Client, keyPrefix string, logger *zap.Logger) *RedisLock {
	if keyPrefix == "" {
		keyPrefix = "studyflow:"
	}
	return &RedisLock{
		client:    client,
		keyPrefix: keyPrefix + "genlock:",
		logger:    logger.With(zap.String("component", "redis_lock")),
	}
}

func (l *RedisLock) lockKey(key string) string {
	return l.keyPrefix + key
}

// Acquire attempts to take the lock via SET NX PX.
func (l *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if key == "" || ttl <= 0 {
		return "", false, ErrInvalidInput
	}

	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, l.lockKey(key), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("lock acquire failed: %w", err)
	}
	if !ok {
		return "", false, nil
	}

	l.logger.Debug("generation lock acquired",
		zap.String("key", key),
		zap.Duration("ttl", ttl))
	return token, true, nil
}

// Release releases the lock if token still owns it.
func (l *RedisLock) Release(ctx context.Context, key string, token string) error {
	if key == "" || token == "" {
		return ErrInvalidInput
	}

	deleted, err := releaseScript.Run(ctx, l.client, []string{l.lockKey(key)}, token).Int()
	if err != nil {
		return fmt.Errorf("lock release failed: %w", err)
	}
	if deleted == 0 {
		l.logger.Warn("lock release skipped, token no longer owns key",
			zap.String("key", key))
		return ErrNotHeld
	}

	l.logger.Debug("generation lock released", zap.String("key", key))
	return nil
}

// Close closes the underlying Redis client.
func (l *RedisLock) Close() error {
	return l.client.Close()
}

// Ensure RedisLock implements GenerationLock
var _ GenerationLock = (*RedisLock)(nil)
