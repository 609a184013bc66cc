// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/identicore/identicore/internal/config"
	"github.com/identicore/identicore/internal/metrics"
	"github.com/identicore/identicore/internal/models"
)

// maxResponseBytes bounds how much of a provider response is read. Providers
// returning more than this are misbehaving and treated as failed.
const maxResponseBytes = 4 << 20 // 4MB

// HTTPProvider calls a third-party provider over its JSON search endpoint.
// Every call is bounded by the configured timeout; exceeding it counts as a
// provider failure, not a system fault.
type HTTPProvider struct {
	name       string
	url        string
	apiKey     string
	timeout    time.Duration
	queryTypes map[models.QueryType]bool
	client     *http.Client

	// limiter paces outbound calls to stay inside the provider's contract.
	// Nil when no pacing is configured.
	limiter *rate.Limiter
}

// searchPayload is the uniform request shape providers accept.
type searchPayload struct {
	Type   string            `json:"type"`
	Params map[string]string `json:"params"`
}

// searchResponse is the uniform response shape providers return.
type searchResponse struct {
	Found   bool                  `json:"found"`
	Records []models.PersonRecord `json:"records"`
}

// NewHTTPProvider builds a provider from its configuration entry.
func NewHTTPProvider(cfg config.ProviderConfig) *HTTPProvider {
	types := make(map[models.QueryType]bool, len(cfg.QueryTypes))
	for _, qt := range cfg.QueryTypes {
		types[models.QueryType(qt)] = true
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &HTTPProvider{
		name:       cfg.Name,
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		timeout:    timeout,
		queryTypes: types,
		limiter:    limiter,
		client: &http.Client{
			// The context deadline governs the whole call; the client timeout
			// is a backstop for callers passing an unbounded context.
			Timeout: timeout + time.Second,
		},
	}
}

// Name implements Provider.
func (p *HTTPProvider) Name() string { return p.name }

// Supports implements Provider. A provider with no configured query types
// serves all of them.
func (p *HTTPProvider) Supports(qt models.QueryType) bool {
	if len(p.queryTypes) == 0 {
		return true
	}
	return p.queryTypes[qt]
}

// Search implements Provider.
func (p *HTTPProvider) Search(ctx context.Context, q models.SearchQuery) (*Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if p.limiter != nil {
		if err := p.limiter.Wait(callCtx); err != nil {
			return nil, fmt.Errorf("provider %s: pacing wait: %w", p.name, err)
		}
	}

	body, err := json.Marshal(searchPayload{
		Type:   string(q.Type),
		Params: q.Params,
	})
	if err != nil {
		return nil, fmt.Errorf("provider %s: encode request: %w", p.name, err)
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("provider %s: build request: %w", p.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("X-API-Key", p.apiKey)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	metrics.ProviderRequestDuration.WithLabelValues(p.name, string(q.Type)).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("provider %s: request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 512)
		return nil, fmt.Errorf("provider %s: unexpected status %d", p.name, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("provider %s: read response: %w", p.name, err)
	}

	var parsed searchResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("provider %s: invalid response: %w", p.name, err)
	}

	return &Result{
		Found:    parsed.Found,
		Records:  parsed.Records,
		Provider: p.name,
	}, nil
}
