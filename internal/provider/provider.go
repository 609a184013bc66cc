// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

// Package provider implements the multi-provider failover client with
// per-provider circuit breakers.
//
// Each configured third-party provider gets an independent breaker: repeated
// failures open it and suppress calls until a cooldown elapses, then a single
// half-open probe decides between closing and re-opening. Breaker state is
// process-local and reset on restart; it is a short-horizon health signal,
// not a durable audit trail. In a multi-instance deployment each instance
// independently learns provider health and protects only its own traffic —
// the shared result cache absorbs most cross-instance duplication.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/identicore/identicore/internal/models"
)

// Result is the normalized outcome of one provider call.
type Result struct {
	Found    bool                  `json:"found"`
	Records  []models.PersonRecord `json:"records,omitempty"`
	Provider string                `json:"provider"`
}

// Provider is a single third-party data source. Implementations must be safe
// for concurrent use.
type Provider interface {
	// Name identifies the provider in configuration, logs, and metrics.
	Name() string

	// Supports reports whether the provider serves the given search category.
	Supports(qt models.QueryType) bool

	// Search performs one upstream call. An exhausted context, a transport
	// error, a non-2xx status, and an undecodable body are all provider
	// failures; a well-formed empty result is a success with Found=false.
	Search(ctx context.Context, q models.SearchQuery) (*Result, error)
}

// ErrAllProvidersFailed is returned when every configured provider for a
// query type was either OPEN or failed.
var ErrAllProvidersFailed = errors.New("all providers failed or unavailable")

// ErrNoProviderForType is returned when no configured provider serves the
// requested query type at all.
var ErrNoProviderForType = errors.New("no provider configured for query type")

// BreakerSettings tunes one provider's circuit breaker.
type BreakerSettings struct {
	// FailureThreshold is the consecutive-failure count that opens the breaker.
	FailureThreshold int

	// Cooldown is how long the breaker stays OPEN before allowing a single
	// half-open probe.
	Cooldown time.Duration
}

// DefaultBreakerSettings returns production defaults.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
	}
}
