// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

// Package dedup coalesces concurrent identical in-flight requests into one
// upstream call. The first caller for a key becomes the leader and invokes
// the producer; every concurrent caller for the same key joins as a follower
// and receives the leader's outcome, value or error, without invoking the
// producer itself. The pending entry is removed the instant the call settles,
// so a transient failure is never memoized for future callers.
//
// The deduplicator is an explicitly constructed registry, one per process,
// owned by the orchestration layer's startup routine. Tests instantiate
// isolated instances.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/sync/singleflight"

	"github.com/identicore/identicore/internal/metrics"
	"github.com/identicore/identicore/internal/models"
)

// Deduplicator coalesces in-flight calls per key.
type Deduplicator struct {
	group singleflight.Group
}

// New creates an empty deduplicator.
func New() *Deduplicator {
	return &Deduplicator{}
}

// KeyFor derives the stable dedup key for an operation on a query: a sha256
// over the operation name and the normalized, sorted parameters.
func KeyFor(operation string, q models.SearchQuery) string {
	sum := sha256.Sum256([]byte(operation + "|" + q.CanonicalString()))
	return hex.EncodeToString(sum[:])
}

// Do executes producer for key, coalescing concurrent callers. The returned
// shared flag reports whether this caller received a result produced by
// another caller's invocation.
//
// The producer runs at most once per distinct key among concurrent callers.
// It receives a context detached from any single caller's cancellation: a
// caller disconnecting must not cancel the upstream call other followers are
// waiting on, and a completed call may still populate the cache.
func (d *Deduplicator) Do(ctx context.Context, key string, producer func(ctx context.Context) (*models.SearchResult, error)) (*models.SearchResult, bool, error) {
	detached := context.WithoutCancel(ctx)

	led := false
	v, err, shared := d.group.Do(key, func() (interface{}, error) {
		led = true
		metrics.DedupRequests.WithLabelValues("leader").Inc()
		return producer(detached)
	})
	if !led {
		metrics.DedupRequests.WithLabelValues("follower").Inc()
	}

	if err != nil {
		return nil, shared && !led, err
	}

	result, ok := v.(*models.SearchResult)
	if !ok {
		// Cannot happen with a well-typed producer; guard the assertion anyway.
		return nil, shared && !led, errUnexpectedResultType
	}
	return result, shared && !led, nil
}

// Forget removes a pending entry so the next caller re-invokes the producer.
// Only used by tests and administrative tooling.
func (d *Deduplicator) Forget(key string) {
	d.group.Forget(key)
}
