// Package lock provides the per-key generation lock that enforces the
// single-flight guarantee: for a given cache hash, at most one generation
// is in flight at any time system-wide.
//
// Supported backends:
// - Memory: in-process only; insufficient for multi-process deployments
// - Redis: atomic create-if-absent with TTL, visible across processes
package lock

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrNotHeld      = errors.New("lock not held by this token")
	ErrInvalidInput = errors.New("invalid input")
)

// GenerationLock coordinates exclusive generation per cache hash.
//
// Acquire is non-blocking: ok reports whether the lock was obtained. The
// returned token must be passed back to Release so an expired holder cannot
// release a successor's lock.
type GenerationLock interface {
	// Acquire attempts to take the lock for key with the given TTL.
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)

	// Release releases the lock if token still owns it.
	// Returns ErrNotHeld when the lock expired or was taken over.
	Release(ctx context.Context, key string, token string) error
}

// WaitConfig defines the backoff behavior for waiters on a held lock.
type WaitConfig struct {
	// InitialBackoff is the first wait between polls (default: 100ms)
	InitialBackoff time.Duration `json:"initial_backoff" yaml:"initial_backoff"`

	// MaxBackoff is the upper bound for a single wait (default: 2s)
	MaxBackoff time.Duration `json:"max_backoff" yaml:"max_backoff"`

	// BackoffMultiplier grows the wait between polls (default: 2.0)
	BackoffMultiplier float64 `json:"backoff_multiplier" yaml:"backoff_multiplier"`

	// Timeout is the total time a waiter spends before giving up (default: 90s)
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultWaitConfig returns the default waiter configuration.
// Backoff sequence: 100ms/200ms/400ms/... capped at 2s, up to 90s overall.
func DefaultWaitConfig() WaitConfig {
	return WaitConfig{
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
		Timeout:           90 * time.Second,
	}
}

// CalculateBackoff calculates the backoff duration for a given poll attempt.
func (c WaitConfig) CalculateBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return c.InitialBackoff
	}

	backoff := c.InitialBackoff
	for i := 0; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * c.BackoffMultiplier)
		if backoff > c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	return backoff
}
