// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

// Package cache provides the distributed cache fronting every outbound
// provider call. A Redis-backed store is fronted by a resilient wrapper that
// degrades silently to an in-process fallback, so callers never observe the
// store's transport errors.
package cache

import (
	"context"
	"sync"
	"time"
)

// StoreClient is the raw key/value transport behind the cache.
//
// Get returns (value, found, err); err is a transport error, not a miss.
// Implementations must be safe for concurrent use.
type StoreClient interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// memEntry is one entry in the in-process store.
type memEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStore is a thread-safe in-process StoreClient. It is the fallback
// when the remote store is unreachable. Entries are bounded by TTL, not by
// size; a background janitor removes expired entries every cleanup interval.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	done    chan struct{}
	once    sync.Once
}

// NewMemoryStore creates an in-process store and starts its janitor.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memEntry),
		done:    make(chan struct{}),
	}
	go s.janitor(5 * time.Minute)
	return s
}

// Get retrieves a value. Expired entries are treated as absent.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false, nil
	}
	return entry.data, true, nil
}

// Set stores a value with the given TTL.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	s.entries[key] = memEntry{data: value, expiresAt: time.Now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Close stops the janitor goroutine.
func (s *MemoryStore) Close() {
	s.once.Do(func() { close(s.done) })
}

// Len returns the current entry count, including not-yet-collected expired
// entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// janitor periodically evicts expired entries.
func (s *MemoryStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for key, entry := range s.entries {
				if now.After(entry.expiresAt) {
					delete(s.entries, key)
				}
			}
			s.mu.Unlock()
		}
	}
}
