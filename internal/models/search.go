// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

// Package models defines the shared domain types for Identicore: search
// queries and results, plan quotas, batch jobs, and the API response envelope.
package models

import (
	"sort"
	"strings"
	"time"
)

// QueryType identifies the search category of an identity-fragment query.
type QueryType string

const (
	QueryTypeEmail         QueryType = "email"
	QueryTypePhone         QueryType = "phone"
	QueryTypeName          QueryType = "name"
	QueryTypeAddress       QueryType = "address"
	QueryTypeComprehensive QueryType = "comprehensive"
)

// Valid reports whether qt is a known query type.
func (qt QueryType) Valid() bool {
	switch qt {
	case QueryTypeEmail, QueryTypePhone, QueryTypeName, QueryTypeAddress, QueryTypeComprehensive:
		return true
	}
	return false
}

// SearchQuery is a normalized identity-fragment query. Params hold only the
// fields relevant to the query type, lower-cased and whitespace-trimmed, so
// that logically identical queries are byte-identical after normalization.
type SearchQuery struct {
	Type   QueryType         `json:"type"`
	Params map[string]string `json:"params"`
}

// CanonicalParams returns the query parameters as sorted "k=v" pairs.
// Iteration order over the params map is randomized by the runtime; sorting
// makes cache keys and dedup keys deterministic across argument orderings.
func (q SearchQuery) CanonicalParams() []string {
	pairs := make([]string, 0, len(q.Params))
	for k, v := range q.Params {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return pairs
}

// CanonicalString returns a stable textual form of the query, suitable as
// input to key derivation.
func (q SearchQuery) CanonicalString() string {
	return string(q.Type) + "|" + strings.Join(q.CanonicalParams(), "&")
}

// PersonRecord is one correlated identity record returned by a provider.
// The shape is provider-agnostic; unrecognized provider fields are preserved
// in Attributes.
type PersonRecord struct {
	FullName   string            `json:"full_name,omitempty"`
	Emails     []string          `json:"emails,omitempty"`
	Phones     []string          `json:"phones,omitempty"`
	Addresses  []string          `json:"addresses,omitempty"`
	Age        int               `json:"age,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// SearchResult is the outcome of a single search after failover.
type SearchResult struct {
	Query     SearchQuery    `json:"query"`
	Found     bool           `json:"found"`
	Records   []PersonRecord `json:"records,omitempty"`
	Provider  string         `json:"provider,omitempty"`
	Cached    bool           `json:"cached"`
	FetchedAt time.Time      `json:"fetched_at"`
}
