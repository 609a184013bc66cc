// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/identicore/identicore/internal/models"
)

// stubProvider is a scriptable in-memory provider.
type stubProvider struct {
	name   string
	types  []models.QueryType
	search func(ctx context.Context, q models.SearchQuery) (*Result, error)
	calls  int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Supports(qt models.QueryType) bool {
	if len(s.types) == 0 {
		return true
	}
	for _, t := range s.types {
		if t == qt {
			return true
		}
	}
	return false
}

func (s *stubProvider) Search(ctx context.Context, q models.SearchQuery) (*Result, error) {
	s.calls++
	return s.search(ctx, q)
}

func failing(name string) *stubProvider {
	return &stubProvider{
		name: name,
		search: func(context.Context, models.SearchQuery) (*Result, error) {
			return nil, errors.New("upstream 500")
		},
	}
}

func succeeding(name string) *stubProvider {
	return &stubProvider{
		name: name,
		search: func(_ context.Context, q models.SearchQuery) (*Result, error) {
			return &Result{Found: true, Provider: name}, nil
		},
	}
}

func testQuery() models.SearchQuery {
	return models.SearchQuery{
		Type:   models.QueryTypeEmail,
		Params: map[string]string{"email": "a@b.com"},
	}
}

func registryWith(t *testing.T, settings BreakerSettings, names ...string) *BreakerRegistry {
	t.Helper()
	r := NewBreakerRegistry()
	for _, n := range names {
		r.Register(n, settings)
	}
	return r
}

func TestFirstProviderSuccess(t *testing.T) {
	a := succeeding("alpha")
	b := succeeding("beta")
	c := NewFailoverClientWithProviders([]Provider{a, b}, NewBreakerRegistry())

	result, err := c.Search(context.Background(), testQuery())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Provider != "alpha" {
		t.Errorf("result from %s, want alpha (priority order)", result.Provider)
	}
	if b.calls != 0 {
		t.Error("second provider should not be called when the first succeeds")
	}
}

func TestFailoverToNextProvider(t *testing.T) {
	a := failing("alpha")
	b := succeeding("beta")
	c := NewFailoverClientWithProviders([]Provider{a, b}, NewBreakerRegistry())

	result, err := c.Search(context.Background(), testQuery())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Provider != "beta" {
		t.Errorf("result from %s, want beta", result.Provider)
	}
	if a.calls != 1 {
		t.Errorf("alpha called %d times, want 1", a.calls)
	}
}

func TestAllProvidersExhausted(t *testing.T) {
	c := NewFailoverClientWithProviders(
		[]Provider{failing("alpha"), failing("beta")},
		NewBreakerRegistry(),
	)

	_, err := c.Search(context.Background(), testQuery())
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("err = %v, want ErrAllProvidersFailed", err)
	}
}

func TestNoProviderForType(t *testing.T) {
	phoneOnly := &stubProvider{
		name:  "alpha",
		types: []models.QueryType{models.QueryTypePhone},
		search: func(context.Context, models.SearchQuery) (*Result, error) {
			return &Result{Found: true}, nil
		},
	}
	c := NewFailoverClientWithProviders([]Provider{phoneOnly}, NewBreakerRegistry())

	_, err := c.Search(context.Background(), testQuery())
	if !errors.Is(err, ErrNoProviderForType) {
		t.Fatalf("err = %v, want ErrNoProviderForType", err)
	}
	if phoneOnly.calls != 0 {
		t.Error("unsupporting provider must not be called")
	}
}

func TestBreakerOpensAfterThresholdAndShortCircuits(t *testing.T) {
	a := failing("alpha")
	b := succeeding("beta")
	registry := registryWith(t, BreakerSettings{FailureThreshold: 3, Cooldown: time.Hour}, "alpha", "beta")
	c := NewFailoverClientWithProviders([]Provider{a, b}, registry)
	ctx := context.Background()

	// Three failing calls trip alpha's breaker.
	for i := 0; i < 3; i++ {
		if _, err := c.Search(ctx, testQuery()); err != nil {
			t.Fatalf("call %d: unexpected error (beta should absorb): %v", i, err)
		}
	}
	if a.calls != 3 {
		t.Fatalf("alpha called %d times, want 3", a.calls)
	}
	if registry.State("alpha") != "open" {
		t.Fatalf("alpha breaker state = %s, want open", registry.State("alpha"))
	}

	// Fourth call within cooldown: alpha is short-circuited with no network
	// attempt; failover routes to beta.
	result, err := c.Search(ctx, testQuery())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.calls != 3 {
		t.Errorf("alpha called %d times after opening, want still 3 (no attempt)", a.calls)
	}
	if result.Provider != "beta" {
		t.Errorf("result from %s, want beta", result.Provider)
	}
}

func TestBreakerHalfOpenProbeFailureReopens(t *testing.T) {
	a := failing("alpha")
	registry := registryWith(t, BreakerSettings{FailureThreshold: 2, Cooldown: 50 * time.Millisecond}, "alpha")
	c := NewFailoverClientWithProviders([]Provider{a}, registry)
	ctx := context.Background()

	// Trip the breaker.
	_, _ = c.Search(ctx, testQuery())
	_, _ = c.Search(ctx, testQuery())
	if registry.State("alpha") != "open" {
		t.Fatalf("state = %s, want open", registry.State("alpha"))
	}
	callsWhenOpened := a.calls

	// Within cooldown: short-circuited.
	_, _ = c.Search(ctx, testQuery())
	if a.calls != callsWhenOpened {
		t.Fatal("call within cooldown must not reach the provider")
	}

	// After cooldown: exactly one probe is allowed; its failure re-opens.
	time.Sleep(80 * time.Millisecond)
	_, _ = c.Search(ctx, testQuery())
	if a.calls != callsWhenOpened+1 {
		t.Errorf("expected exactly one half-open probe, calls %d -> %d", callsWhenOpened, a.calls)
	}
	if registry.State("alpha") != "open" {
		t.Errorf("state = %s, want open after failed probe", registry.State("alpha"))
	}
}

func TestBreakerHalfOpenProbeSuccessCloses(t *testing.T) {
	healthy := false
	a := &stubProvider{
		name: "alpha",
		search: func(context.Context, models.SearchQuery) (*Result, error) {
			if !healthy {
				return nil, errors.New("upstream 500")
			}
			return &Result{Found: true, Provider: "alpha"}, nil
		},
	}
	registry := registryWith(t, BreakerSettings{FailureThreshold: 2, Cooldown: 50 * time.Millisecond}, "alpha")
	c := NewFailoverClientWithProviders([]Provider{a}, registry)
	ctx := context.Background()

	_, _ = c.Search(ctx, testQuery())
	_, _ = c.Search(ctx, testQuery())
	if registry.State("alpha") != "open" {
		t.Fatalf("state = %s, want open", registry.State("alpha"))
	}

	healthy = true
	time.Sleep(80 * time.Millisecond)

	result, err := c.Search(ctx, testQuery())
	if err != nil {
		t.Fatalf("probe should succeed, got %v", err)
	}
	if !result.Found {
		t.Error("expected found result from recovered provider")
	}
	if registry.State("alpha") != "closed" {
		t.Errorf("state = %s, want closed after successful probe", registry.State("alpha"))
	}
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	failNext := true
	a := &stubProvider{
		name: "alpha",
		search: func(context.Context, models.SearchQuery) (*Result, error) {
			if failNext {
				return nil, errors.New("upstream 500")
			}
			return &Result{Found: true, Provider: "alpha"}, nil
		},
	}
	b := succeeding("beta")
	registry := registryWith(t, BreakerSettings{FailureThreshold: 3, Cooldown: time.Hour}, "alpha", "beta")
	c := NewFailoverClientWithProviders([]Provider{a, b}, registry)
	ctx := context.Background()

	// Two failures, then a success, then two more failures: never trips.
	for _, fail := range []bool{true, true, false, true, true} {
		failNext = fail
		_, _ = c.Search(ctx, testQuery())
	}

	if registry.State("alpha") != "closed" {
		t.Errorf("state = %s, want closed (success reset the failure streak)", registry.State("alpha"))
	}
}

func TestIndependentBreakersPerProvider(t *testing.T) {
	a := failing("alpha")
	b := succeeding("beta")
	registry := registryWith(t, BreakerSettings{FailureThreshold: 2, Cooldown: time.Hour}, "alpha", "beta")
	c := NewFailoverClientWithProviders([]Provider{a, b}, registry)
	ctx := context.Background()

	_, _ = c.Search(ctx, testQuery())
	_, _ = c.Search(ctx, testQuery())

	if registry.State("alpha") != "open" {
		t.Errorf("alpha state = %s, want open", registry.State("alpha"))
	}
	if registry.State("beta") != "closed" {
		t.Errorf("beta state = %s, want closed (unaffected by alpha)", registry.State("beta"))
	}
}
