// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

// Package metrics provides Prometheus instrumentation for the orchestration
// layer: cache efficiency, rate-limit decisions, dedup coalescing, provider
// health and failover, and batch job throughput.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"category"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"category"},
	)

	CacheFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_store_fallbacks_total",
			Help: "Total number of operations that fell back to the in-process store",
		},
		[]string{"operation"},
	)

	CacheOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_operation_duration_seconds",
			Help:    "Duration of cache store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "store"},
	)

	// Rate limiter metrics
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_decisions_total",
			Help: "Total number of rate limit decisions by outcome",
		},
		[]string{"operation", "outcome"}, // outcome: allowed, denied_daily, denied_monthly, denied_batch_size
	)

	// Deduplicator metrics
	DedupRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_requests_total",
			Help: "Total number of deduplicated requests by role",
		},
		[]string{"role"}, // leader, follower
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"provider"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"provider", "from", "to"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breakers by result",
		},
		[]string{"provider", "result"}, // success, failure, rejected
	)

	// Provider metrics
	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_request_duration_seconds",
			Help:    "Duration of third-party provider calls in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider", "query_type"},
	)

	ProviderFailovers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_failovers_total",
			Help: "Total number of failovers from one provider to the next",
		},
		[]string{"from"},
	)

	ProviderExhaustions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_exhaustions_total",
			Help: "Total number of searches that exhausted all configured providers",
		},
		[]string{"query_type"},
	)

	// Batch metrics
	BatchJobsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_jobs_submitted_total",
			Help: "Total number of batch submissions by path",
		},
		[]string{"path"}, // inline, queued
	)

	BatchJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_jobs_completed_total",
			Help: "Total number of queued batch jobs by terminal status",
		},
		[]string{"status"}, // completed, failed
	)

	BatchItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_items_processed_total",
			Help: "Total number of batch items processed by outcome",
		},
		[]string{"outcome"}, // success, not_found, error
	)

	QueuePublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_publish_failures_total",
			Help: "Total number of failed job enqueue attempts",
		},
	)

	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"endpoint", "method", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// Search pipeline metrics
	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searches_total",
			Help: "Total number of single searches by query type and outcome",
		},
		[]string{"query_type", "outcome"}, // hit, success, not_found, quota_exceeded, provider_unavailable, invalid
	)
)
