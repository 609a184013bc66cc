// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

// Package ratelimit enforces per-user, per-plan search and batch quotas over
// rolling calendar-day and calendar-month windows.
//
// Counts are derived on read from the authoritative search-event log, never
// from an independent mutable counter, so they are always consistent with
// actual usage. The check is advisory-concurrent: two simultaneous requests
// near a boundary may both be admitted because the log-based count is read,
// not atomically reserved. This is a deliberate trade-off favoring simplicity
// over exactness; replacing it with an atomic reserve in the shared store
// would change the consistency model and should be an explicit upgrade.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/identicore/identicore/internal/logging"
	"github.com/identicore/identicore/internal/metrics"
	"github.com/identicore/identicore/internal/models"
)

// Operation is the kind of request being admitted.
type Operation string

const (
	OperationSearch Operation = "search"
	OperationBatch  Operation = "batch"
)

// Window names the quota boundary a decision refers to.
type Window string

const (
	WindowDaily     Window = "daily"
	WindowMonthly   Window = "monthly"
	WindowBatchSize Window = "batch_size"
)

// Decision is the structured result of a quota check. Denial is a value,
// never an error: the caller turns it into a quota-exceeded response.
type Decision struct {
	Allowed bool
	// Window is set on denial to the boundary that was hit.
	Window Window
	// Reason is a human-readable denial explanation.
	Reason string
	// Remaining is the smaller of the remaining daily and monthly
	// allowances after this request; models.Unlimited when no boundary
	// applies.
	Remaining int
}

// SearchEventCounter counts a user's logged search events since a point in
// time. Implemented by the identity store; fakes implement it in tests.
type SearchEventCounter interface {
	CountSearchesSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// cachedCount is a short-lived memoized window count.
type cachedCount struct {
	count     int
	fetchedAt time.Time
}

// Limiter checks plan quotas against the search-event log.
type Limiter struct {
	counter  SearchEventCounter
	cacheTTL time.Duration

	mu     sync.Mutex
	counts map[string]cachedCount

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Limiter over the given event counter. cacheTTL bounds the
// staleness of memoized counts; zero disables count caching.
func New(counter SearchEventCounter, cacheTTL time.Duration) *Limiter {
	return &Limiter{
		counter:  counter,
		cacheTTL: cacheTTL,
		counts:   make(map[string]cachedCount),
		now:      time.Now,
	}
}

// Check admits or denies an operation for a user under their plan.
// For batch operations batchSize is validated against the plan's batch cap
// independent of window counts. Denial never returns an error.
func (l *Limiter) Check(ctx context.Context, userID string, plan models.Plan, op Operation, batchSize int) Decision {
	quota := models.QuotaFor(plan)

	if op == OperationBatch && quota.MaxBatchSize != models.Unlimited && batchSize > quota.MaxBatchSize {
		metrics.RateLimitDecisions.WithLabelValues(string(op), "denied_batch_size").Inc()
		return Decision{
			Allowed: false,
			Window:  WindowBatchSize,
			Reason: fmt.Sprintf("batch size %d exceeds the %s plan maximum of %d",
				batchSize, plan, quota.MaxBatchSize),
			Remaining: 0,
		}
	}

	if quota.DailySearchLimit == models.Unlimited && quota.MonthlySearchLimit == models.Unlimited {
		metrics.RateLimitDecisions.WithLabelValues(string(op), "allowed").Inc()
		return Decision{Allowed: true, Remaining: models.Unlimited}
	}

	now := l.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	monthCount, err := l.countSince(ctx, userID, "monthly", monthStart)
	if err != nil {
		// The limiter is advisory; an unreadable log fails open rather than
		// blocking every user behind a store outage.
		logging.Ctx(ctx).Warn().Err(err).Str("user_id", userID).Msg("Rate limit count unavailable, admitting request")
		metrics.RateLimitDecisions.WithLabelValues(string(op), "allowed").Inc()
		return Decision{Allowed: true, Remaining: models.Unlimited}
	}
	dayCount, err := l.countSince(ctx, userID, "daily", dayStart)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("user_id", userID).Msg("Rate limit count unavailable, admitting request")
		metrics.RateLimitDecisions.WithLabelValues(string(op), "allowed").Inc()
		return Decision{Allowed: true, Remaining: models.Unlimited}
	}

	if quota.MonthlySearchLimit != models.Unlimited && monthCount >= quota.MonthlySearchLimit {
		metrics.RateLimitDecisions.WithLabelValues(string(op), "denied_monthly").Inc()
		return Decision{
			Allowed: false,
			Window:  WindowMonthly,
			Reason: fmt.Sprintf("monthly search limit of %d reached for the %s plan",
				quota.MonthlySearchLimit, plan),
			Remaining: 0,
		}
	}

	if quota.DailySearchLimit != models.Unlimited && dayCount >= quota.DailySearchLimit {
		metrics.RateLimitDecisions.WithLabelValues(string(op), "denied_daily").Inc()
		return Decision{
			Allowed: false,
			Window:  WindowDaily,
			Reason: fmt.Sprintf("daily search limit of %d reached for the %s plan",
				quota.DailySearchLimit, plan),
			Remaining: 0,
		}
	}

	metrics.RateLimitDecisions.WithLabelValues(string(op), "allowed").Inc()
	return Decision{
		Allowed:   true,
		Remaining: remaining(quota, dayCount, monthCount),
	}
}

// remaining computes the smaller of the two remaining allowances.
func remaining(quota models.PlanQuota, dayCount, monthCount int) int {
	dayLeft := models.Unlimited
	if quota.DailySearchLimit != models.Unlimited {
		dayLeft = quota.DailySearchLimit - dayCount
	}
	monthLeft := models.Unlimited
	if quota.MonthlySearchLimit != models.Unlimited {
		monthLeft = quota.MonthlySearchLimit - monthCount
	}

	switch {
	case dayLeft == models.Unlimited:
		return monthLeft
	case monthLeft == models.Unlimited:
		return dayLeft
	case dayLeft < monthLeft:
		return dayLeft
	default:
		return monthLeft
	}
}

// countSince reads a window count, memoized for cacheTTL as a read-through
// optimization only.
func (l *Limiter) countSince(ctx context.Context, userID, window string, since time.Time) (int, error) {
	key := userID + "|" + window + "|" + since.Format(time.RFC3339)

	if l.cacheTTL > 0 {
		l.mu.Lock()
		if c, ok := l.counts[key]; ok && l.now().Sub(c.fetchedAt) < l.cacheTTL {
			l.mu.Unlock()
			return c.count, nil
		}
		l.mu.Unlock()
	}

	count, err := l.counter.CountSearchesSince(ctx, userID, since)
	if err != nil {
		return 0, err
	}

	if l.cacheTTL > 0 {
		l.mu.Lock()
		l.counts[key] = cachedCount{count: count, fetchedAt: l.now()}
		// Drop stale entries opportunistically so the map stays bounded by
		// the active user set.
		if len(l.counts) > 10000 {
			for k, c := range l.counts {
				if l.now().Sub(c.fetchedAt) >= l.cacheTTL {
					delete(l.counts, k)
				}
			}
		}
		l.mu.Unlock()
	}

	return count, nil
}
