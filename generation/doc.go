// Package generation implements the semantic cache for generated study
// artifacts.
//
// Every incoming request is reduced to a canonical signature and a
// SHA-256 hash. Resolution runs in three stages:
//
//  1. Exact: the hash is looked up directly in the artifact store.
//  2. Similar: recent (or vector-retrieved) entries in the same scope
//     are scored lexically against the request signature; a score at or
//     above the threshold reuses the entry.
//  3. Generate: the request is generated fresh under a distributed
//     lock, persisted, and returned.
//
// Identical concurrent requests collapse to a single generation, both
// in-process (singleflight) and across processes (the generation lock
// plus a hash-unique index in the store).
package generation
