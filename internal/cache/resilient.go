// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

package cache

import (
	"context"
	"time"

	"github.com/identicore/identicore/internal/logging"
	"github.com/identicore/identicore/internal/metrics"
)

// ResilientStore tries a remote store with a bounded per-operation timeout
// and falls back to an in-process store on any transport error. The fallback
// is an explicit decision path, not exception swallowing: callers of the
// resilient store never receive a transport error.
//
// Entries written to the fallback while the remote store is down are not
// replayed to the remote store once it recovers; they simply age out.
type ResilientStore struct {
	remote   StoreClient
	fallback StoreClient
	timeout  time.Duration
}

// NewResilientStore wraps remote with fallback-on-failure behavior.
// If remote is nil, every operation uses the fallback directly (the
// store-disabled configuration).
func NewResilientStore(remote StoreClient, fallback StoreClient, timeout time.Duration) *ResilientStore {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &ResilientStore{
		remote:   remote,
		fallback: fallback,
		timeout:  timeout,
	}
}

// Get reads from the remote store, falling back on transport error.
func (s *ResilientStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.remote != nil {
		opCtx, cancel := context.WithTimeout(ctx, s.timeout)
		start := time.Now()
		data, found, err := s.remote.Get(opCtx, key)
		cancel()
		metrics.CacheOperationDuration.WithLabelValues("get", "remote").Observe(time.Since(start).Seconds())

		if err == nil {
			return data, found, nil
		}
		s.degraded(ctx, "get", err)
	}

	data, found, err := s.fallback.Get(ctx, key)
	if err != nil {
		// The in-process store never fails in practice; treat as a miss.
		return nil, false, nil
	}
	return data, found, nil
}

// Set writes to the remote store, falling back on transport error.
func (s *ResilientStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.remote != nil {
		opCtx, cancel := context.WithTimeout(ctx, s.timeout)
		start := time.Now()
		err := s.remote.Set(opCtx, key, value, ttl)
		cancel()
		metrics.CacheOperationDuration.WithLabelValues("set", "remote").Observe(time.Since(start).Seconds())

		if err == nil {
			return nil
		}
		s.degraded(ctx, "set", err)
	}

	// The in-memory fallback set cannot fail.
	_ = s.fallback.Set(ctx, key, value, ttl)
	return nil
}

// Delete removes from both stores so a degraded window cannot resurrect a
// deleted entry from the fallback.
func (s *ResilientStore) Delete(ctx context.Context, key string) error {
	if s.remote != nil {
		opCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.remote.Delete(opCtx, key)
		cancel()
		if err != nil {
			s.degraded(ctx, "delete", err)
		}
	}

	_ = s.fallback.Delete(ctx, key)
	return nil
}

// degraded records a remote store failure. StoreDegraded is logged, never
// surfaced.
func (s *ResilientStore) degraded(ctx context.Context, op string, err error) {
	metrics.CacheFallbacks.WithLabelValues(op).Inc()
	logging.Ctx(ctx).Warn().Err(err).Str("operation", op).Msg("Cache store degraded, using in-process fallback")
}
