// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

// Package search ties the resilience layers into the single-search pipeline:
// rate limiter admits, cache short-circuits, deduplicator collapses
// concurrent identical lookups, and the failover client talks to providers.
// Every attempt is appended to the usage log the limiter counts from.
package search

import (
	"context"
	"fmt"
	"time"

	"github.com/identicore/identicore/internal/cache"
	"github.com/identicore/identicore/internal/dedup"
	"github.com/identicore/identicore/internal/logging"
	"github.com/identicore/identicore/internal/metrics"
	"github.com/identicore/identicore/internal/models"
	"github.com/identicore/identicore/internal/provider"
	"github.com/identicore/identicore/internal/ratelimit"
	"github.com/identicore/identicore/internal/store"
)

// ProviderSearcher is the failover client surface the pipeline needs.
type ProviderSearcher interface {
	Search(ctx context.Context, q models.SearchQuery) (*provider.Result, error)
}

// EventAppender records search attempts in the usage log.
type EventAppender interface {
	AppendSearchEvent(ctx context.Context, ev store.SearchEvent) error
}

// Service is the orchestration entrypoint shared by the API handlers and
// both batch paths. It is safe for concurrent use.
type Service struct {
	limiter   *ratelimit.Limiter
	cache     *cache.Cache
	dedup     *dedup.Deduplicator
	providers ProviderSearcher
	events    EventAppender

	now func() time.Time
}

// NewService wires the pipeline. All state (breakers, dedup groups, count
// caches) lives in the injected components, so tests can build isolated
// instances.
func NewService(
	limiter *ratelimit.Limiter,
	c *cache.Cache,
	d *dedup.Deduplicator,
	providers ProviderSearcher,
	events EventAppender,
) *Service {
	return &Service{
		limiter:   limiter,
		cache:     c,
		dedup:     d,
		providers: providers,
		events:    events,
		now:       time.Now,
	}
}

// Search runs the full pipeline for one caller-initiated search, including
// quota admission. Denials come back as *QuotaError; provider exhaustion as
// ErrProviderUnavailable.
func (s *Service) Search(ctx context.Context, userID string, plan models.Plan, q models.SearchQuery) (*models.SearchResult, error) {
	if err := validateQuery(q); err != nil {
		metrics.SearchesTotal.WithLabelValues(string(q.Type), "invalid").Inc()
		return nil, err
	}

	decision := s.limiter.Check(ctx, userID, plan, ratelimit.OperationSearch, 0)
	if !decision.Allowed {
		metrics.SearchesTotal.WithLabelValues(string(q.Type), "quota_exceeded").Inc()
		return nil, &QuotaError{
			Window:    decision.Window,
			Reason:    decision.Reason,
			Remaining: decision.Remaining,
		}
	}
	return s.Execute(ctx, userID, q)
}

// Execute runs the pipeline without the quota check. Batch processing uses
// it per item: the batch submission itself was already admitted, so items
// are not admitted again.
func (s *Service) Execute(ctx context.Context, userID string, q models.SearchQuery) (*models.SearchResult, error) {
	if err := validateQuery(q); err != nil {
		metrics.SearchesTotal.WithLabelValues(string(q.Type), "invalid").Inc()
		return nil, err
	}

	if result, ok := s.cache.GetResult(ctx, q); ok {
		metrics.SearchesTotal.WithLabelValues(string(q.Type), "hit").Inc()
		s.appendEvent(ctx, userID, q, true, true)
		return result, nil
	}

	key := dedup.KeyFor("search", q)
	result, shared, err := s.dedup.Do(ctx, key, func(callCtx context.Context) (*models.SearchResult, error) {
		res, err := s.providers.Search(callCtx, q)
		if err != nil {
			return nil, err
		}
		sr := &models.SearchResult{
			Query:     q,
			Found:     res.Found,
			Records:   res.Records,
			Provider:  res.Provider,
			FetchedAt: s.now().UTC(),
		}
		// Populate before returning so followers and later callers see
		// the same entry. Store errors degrade silently inside the cache.
		s.cache.SetResult(callCtx, q, sr)
		return sr, nil
	})
	if err != nil {
		metrics.SearchesTotal.WithLabelValues(string(q.Type), "provider_unavailable").Inc()
		s.appendEvent(ctx, userID, q, false, false)
		logging.Ctx(ctx).Warn().
			Err(err).
			Str("query_type", string(q.Type)).
			Bool("shared", shared).
			Msg("Search failed after provider failover")
		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}

	outcome := "success"
	if !result.Found {
		outcome = "not_found"
	}
	metrics.SearchesTotal.WithLabelValues(string(q.Type), outcome).Inc()
	s.appendEvent(ctx, userID, q, true, false)
	return result, nil
}

// validateQuery rejects queries that would be meaningless to cache or send.
func validateQuery(q models.SearchQuery) error {
	switch q.Type {
	case models.QueryTypeEmail, models.QueryTypePhone, models.QueryTypeName,
		models.QueryTypeAddress, models.QueryTypeComprehensive:
	default:
		return &ValidationError{Reason: "unknown query type"}
	}
	if len(q.Params) == 0 {
		return &ValidationError{Reason: "query has no parameters"}
	}
	return nil
}

// appendEvent logs usage for quota accounting. Failures are logged and
// swallowed: losing one count is better than failing the search.
func (s *Service) appendEvent(ctx context.Context, userID string, q models.SearchQuery, success, cached bool) {
	if s.events == nil {
		return
	}
	err := s.events.AppendSearchEvent(ctx, store.SearchEvent{
		UserID:    userID,
		QueryType: q.Type,
		Success:   success,
		Cached:    cached,
	})
	if err != nil {
		logging.Ctx(ctx).Warn().
			Err(err).
			Str("user_id", userID).
			Msg("Failed to append search event")
	}
}
