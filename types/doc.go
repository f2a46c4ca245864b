/*
Package types provides shared type definitions for the studyflow module.

It is the lowest-level public package and depends on no other package in the
module. Upper layers (generation, store, lock) use it as the common error
currency so callers can distinguish retryable infrastructure failures from
caller contract violations and generation errors.

# Error codes

  - INVALID_REQUEST    — caller contract violation (missing scope, empty types)
  - GENERATION_FAILED  — the external generator errored or produced unusable
    output; never cached as a negative result
  - STORE_UNAVAILABLE  — transient persistence failure; retryable
  - LOCK_WAIT_TIMEOUT  — a waiter gave up on a held generation lock
  - INTERNAL_ERROR     — anything else
*/
package types
