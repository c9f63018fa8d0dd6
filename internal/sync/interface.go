// Package sync orchestrates synchronization passes from the key-value
// transfer cache into the relational store.
//
// One pass lists candidate keys per configured pattern, fetches and projects
// each document, and decides insert versus update per derived row. Per-key
// failures (malformed documents, store write failures) are contained and
// counted; only an unreachable cache or store aborts a pass.
package sync

import "context"

// Cache is the read surface the engine needs from the key-value store.
// Production wiring passes *cache.Client; tests use an in-memory fake.
type Cache interface {
	// Keys lists all keys matching a glob-style pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)
	// Get fetches one key; the second return value is false when the key
	// no longer exists.
	Get(ctx context.Context, key string) (string, bool, error)
}

// Syncer is the operational surface the scheduler and CLI drive.
type Syncer interface {
	// RunOnce performs one full scan-fetch-project-upsert pass over the
	// given key patterns.
	RunOnce(ctx context.Context, patterns []string) (*Report, error)
}
