package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLock is an in-process implementation of GenerationLock.
//
// It only serializes generations within a single process. For multi-process
// deployments this is insufficient: use RedisLock, which is visible across
// all request-handling processes.
type MemoryLock struct {
	mu    sync.Mutex
	locks map[string]memoryLockEntry
}

type memoryLockEntry struct {
	token     string
	expiresAt time.Time
}

// NewMemoryLock creates a new in-process generation lock.
func NewMemoryLock() *MemoryLock {
	return &MemoryLock{
		locks: make(map[string]memoryLockEntry),
	}
}

// Acquire attempts to take the lock for key with the given TTL.
func (l *MemoryLock) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if key == "" || ttl <= 0 {
		return "", false, ErrInvalidInput
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if entry, ok := l.locks[key]; ok && time.Now().Before(entry.expiresAt) {
		return "", false, nil
	}

	token := uuid.New().String()
	l.locks[key] = memoryLockEntry{
		token:     token,
		expiresAt: time.Now().Add(ttl),
	}
	return token, true, nil
}

// Release releases the lock if token still owns it.
func (l *MemoryLock) Release(ctx context.Context, key string, token string) error {
	if key == "" || token == "" {
		return ErrInvalidInput
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[key]
	if !ok || entry.token != token || time.Now().After(entry.expiresAt) {
		return ErrNotHeld
	}
	delete(l.locks, key)
	return nil
}

// Ensure MemoryLock implements GenerationLock
var _ GenerationLock = (*MemoryLock)(nil)
