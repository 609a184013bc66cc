// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/identicore/identicore/internal/config"
	"github.com/identicore/identicore/internal/logging"
	"github.com/identicore/identicore/internal/metrics"
	"github.com/identicore/identicore/internal/models"
)

// FailoverClient tries providers in configured priority order, skipping any
// whose breaker is OPEN, recording failures against each provider's breaker,
// and succeeding on the first usable result. The whole call fails only when
// every configured provider has been exhausted.
type FailoverClient struct {
	providers []Provider // ascending priority order
	breakers  *BreakerRegistry
}

// NewFailoverClient builds the client from configuration, constructing one
// HTTPProvider and one breaker per entry.
func NewFailoverClient(cfgs []config.ProviderConfig, registry *BreakerRegistry) *FailoverClient {
	sorted := make([]config.ProviderConfig, len(cfgs))
	copy(sorted, cfgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	providers := make([]Provider, 0, len(sorted))
	for _, cfg := range sorted {
		providers = append(providers, NewHTTPProvider(cfg))
		registry.Register(cfg.Name, BreakerSettings{
			FailureThreshold: cfg.FailureThreshold,
			Cooldown:         cfg.Cooldown,
		})
	}

	return &FailoverClient{
		providers: providers,
		breakers:  registry,
	}
}

// NewFailoverClientWithProviders builds the client over explicit providers,
// in the given priority order. Used by tests and custom wiring.
func NewFailoverClientWithProviders(providers []Provider, registry *BreakerRegistry) *FailoverClient {
	return &FailoverClient{
		providers: providers,
		breakers:  registry,
	}
}

// Search performs a failover search for q.
//
// A breaker rejection (OPEN, or half-open probe slot taken) skips the
// provider without recording a failure against it; a real provider failure
// is recorded by the breaker and failover continues. ErrNoProviderForType is
// returned when no provider serves the query type; ErrAllProvidersFailed
// wraps the per-provider errors when every candidate was exhausted.
func (c *FailoverClient) Search(ctx context.Context, q models.SearchQuery) (*Result, error) {
	candidates := 0
	var attemptErrs []error

	for _, p := range c.providers {
		if !p.Supports(q.Type) {
			continue
		}
		candidates++

		cb := c.breakers.Get(p.Name())
		result, err := cb.Execute(func() (*Result, error) {
			return p.Search(ctx, q)
		})

		if err == nil {
			metrics.CircuitBreakerRequests.WithLabelValues(p.Name(), "success").Inc()
			return result, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// Short-circuited: no network call happened and no failure is
			// recorded against the provider.
			metrics.CircuitBreakerRequests.WithLabelValues(p.Name(), "rejected").Inc()
			logging.Ctx(ctx).Debug().
				Str("provider", p.Name()).
				Str("query_type", string(q.Type)).
				Msg("Provider skipped, circuit open")
			attemptErrs = append(attemptErrs, fmt.Errorf("%s: circuit open", p.Name()))
		} else {
			metrics.CircuitBreakerRequests.WithLabelValues(p.Name(), "failure").Inc()
			logging.Ctx(ctx).Warn().
				Err(err).
				Str("provider", p.Name()).
				Str("query_type", string(q.Type)).
				Msg("Provider call failed, trying next")
			attemptErrs = append(attemptErrs, err)
		}

		metrics.ProviderFailovers.WithLabelValues(p.Name()).Inc()
	}

	if candidates == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoProviderForType, q.Type)
	}

	metrics.ProviderExhaustions.WithLabelValues(string(q.Type)).Inc()
	return nil, fmt.Errorf("%w: %w", ErrAllProvidersFailed, errors.Join(attemptErrs...))
}

// BreakerState reports the breaker state for a provider name; used by the
// health endpoint.
func (c *FailoverClient) BreakerState(name string) string {
	return c.breakers.State(name)
}

// ProviderNames lists configured providers in priority order.
func (c *FailoverClient) ProviderNames() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}
