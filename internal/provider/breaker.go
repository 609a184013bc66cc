// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

package provider

import (
	"sync"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/identicore/identicore/internal/logging"
	"github.com/identicore/identicore/internal/metrics"
)

// BreakerRegistry holds one circuit breaker per provider. It is explicitly
// constructed at startup and injected into the failover client, so tests can
// instantiate isolated registries with no hidden statics.
//
// DETERMINISM NOTE: breakers use real time (via sony/gobreaker) for cooldown
// calculations. The timing determines when to probe recovery, not data
// integrity; tests use short cooldowns rather than mocking the breaker.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker[*Result]
}

// NewBreakerRegistry creates an empty registry.
func NewBreakerRegistry() *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker[*Result]),
	}
}

// Register creates the breaker for a provider. Every provider starts CLOSED.
func (r *BreakerRegistry) Register(name string, settings BreakerSettings) {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = DefaultBreakerSettings().FailureThreshold
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = DefaultBreakerSettings().Cooldown
	}

	metrics.CircuitBreakerState.WithLabelValues(name).Set(0) // 0 = closed

	threshold := uint32(settings.FailureThreshold)
	cb := gobreaker.NewCircuitBreaker[*Result](gobreaker.Settings{
		Name: name,

		// Exactly one probe is allowed through in half-open state.
		MaxRequests: 1,

		// Interval 0: consecutive-failure counts persist while CLOSED and
		// reset only on state change or success.
		Interval: 0,

		// Timeout is the OPEN -> HALF_OPEN cooldown.
		Timeout: settings.Cooldown,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)

			logging.Info().
				Str("provider", name).
				Str("from", fromStr).
				Str("to", toStr).
				Msg("Circuit breaker state transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	r.mu.Lock()
	r.breakers[name] = cb
	r.mu.Unlock()
}

// Get returns the breaker for a provider, registering one with default
// settings if the provider was never registered.
func (r *BreakerRegistry) Get(name string) *gobreaker.CircuitBreaker[*Result] {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.Register(name, DefaultBreakerSettings())

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[name]
}

// State returns the current breaker state for a provider as a string for
// health reporting ("closed", "half-open", "open", or "unknown").
func (r *BreakerRegistry) State(name string) string {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if !ok {
		return "unknown"
	}
	return stateToString(cb.State())
}

// stateToFloat converts circuit breaker state to numeric value for metrics.
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// stateToString converts circuit breaker state to string for logging.
func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
