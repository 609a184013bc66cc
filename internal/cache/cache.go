// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/goccy/go-json"

	"github.com/identicore/identicore/internal/config"
	"github.com/identicore/identicore/internal/metrics"
	"github.com/identicore/identicore/internal/models"
)

// envelope wraps a cached value with its own expiry bookkeeping. The logical
// TTL is re-checked on every read because the fallback store (and some remote
// deployments) have no active expiry.
type envelope struct {
	Value     json.RawMessage `json:"v"`
	WrittenAt time.Time       `json:"written_at"`
	TTL       time.Duration   `json:"ttl"`
}

// expired reports whether the entry is logically expired at now.
func (e *envelope) expired(now time.Time) bool {
	return now.Sub(e.WrittenAt) > e.TTL
}

// Cache is the provider-result cache with per-category TTLs.
type Cache struct {
	store StoreClient
	ttls  map[models.QueryType]time.Duration
}

// New creates a Cache over the given store, typically a *ResilientStore.
func New(store StoreClient, cfg config.CacheConfig) *Cache {
	return &Cache{
		store: store,
		ttls: map[models.QueryType]time.Duration{
			models.QueryTypeEmail:         cfg.EmailTTL,
			models.QueryTypePhone:         cfg.PhoneTTL,
			models.QueryTypeName:          cfg.NameTTL,
			models.QueryTypeAddress:       cfg.AddressTTL,
			models.QueryTypeComprehensive: cfg.ComprehensiveTTL,
		},
	}
}

// Key derives the deterministic cache key for a query: a sha256 over the
// category and the sorted parameter pairs, so logically identical queries in
// any argument order collide to the same key.
func Key(q models.SearchQuery) string {
	sum := sha256.Sum256([]byte(q.CanonicalString()))
	return hex.EncodeToString(sum[:])
}

// TTLFor returns the configured TTL for a query type (1h for unknown types).
func (c *Cache) TTLFor(qt models.QueryType) time.Duration {
	if ttl, ok := c.ttls[qt]; ok && ttl > 0 {
		return ttl
	}
	return time.Hour
}

// GetResult returns the cached result for q, or absent. An entry found
// expired by the envelope's own TTL check is deleted and reported absent even
// if the store's native expiry has not fired.
func (c *Cache) GetResult(ctx context.Context, q models.SearchQuery) (*models.SearchResult, bool) {
	key := Key(q)

	data, found, err := c.store.Get(ctx, key)
	if err != nil || !found {
		metrics.CacheMisses.WithLabelValues(string(q.Type)).Inc()
		return nil, false
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		// Corrupt entry: drop it and report a miss.
		_ = c.store.Delete(ctx, key)
		metrics.CacheMisses.WithLabelValues(string(q.Type)).Inc()
		return nil, false
	}

	if env.expired(time.Now()) {
		_ = c.store.Delete(ctx, key)
		metrics.CacheMisses.WithLabelValues(string(q.Type)).Inc()
		return nil, false
	}

	var result models.SearchResult
	if err := json.Unmarshal(env.Value, &result); err != nil {
		_ = c.store.Delete(ctx, key)
		metrics.CacheMisses.WithLabelValues(string(q.Type)).Inc()
		return nil, false
	}

	metrics.CacheHits.WithLabelValues(string(q.Type)).Inc()
	result.Cached = true
	return &result, true
}

// SetResult caches a result under the query's derived key with the category
// TTL. Entries are replaced wholesale, never patched.
func (c *Cache) SetResult(ctx context.Context, q models.SearchQuery, result *models.SearchResult) {
	value, err := json.Marshal(result)
	if err != nil {
		return
	}

	ttl := c.TTLFor(q.Type)
	env := envelope{
		Value:     value,
		WrittenAt: time.Now(),
		TTL:       ttl,
	}

	data, err := json.Marshal(&env)
	if err != nil {
		return
	}

	// The resilient store never surfaces transport errors.
	_ = c.store.Set(ctx, Key(q), data, ttl)
}

// Invalidate removes the cached result for q.
func (c *Cache) Invalidate(ctx context.Context, q models.SearchQuery) {
	_ = c.store.Delete(ctx, Key(q))
}
