// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

package models

import "time"

// APIResponse is the standardized response wrapper used by all HTTP endpoints.
//
// Status field values:
//   - "success": request completed, see Data
//   - "error": request failed, see Error
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata contains response metadata for observability.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms"`
	Cached      bool      `json:"cached,omitempty"`
}

// APIError carries structured error details in an error response.
type APIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// SearchRequest is the payload of POST /api/v1/search.
// Exactly the fields relevant to the detected query type are used; the rest
// are ignored after type detection.
type SearchRequest struct {
	Type      string `json:"type,omitempty" validate:"omitempty,oneof=email phone name address comprehensive"`
	Email     string `json:"email,omitempty" validate:"omitempty,email"`
	Phone     string `json:"phone,omitempty" validate:"omitempty,min=7,max=20"`
	FirstName string `json:"first_name,omitempty" validate:"omitempty,max=100"`
	LastName  string `json:"last_name,omitempty" validate:"omitempty,max=100"`
	Address   string `json:"address,omitempty" validate:"omitempty,max=300"`
	City      string `json:"city,omitempty" validate:"omitempty,max=100"`
	State     string `json:"state,omitempty" validate:"omitempty,max=50"`
}

// BatchRequest is the payload of POST /api/v1/batch. Each query string is
// classified independently (email, phone, or name) before processing.
type BatchRequest struct {
	Queries        []string `json:"queries" validate:"required,min=1,dive,min=1,max=300"`
	MaxConcurrency int      `json:"max_concurrency,omitempty" validate:"omitempty,min=1,max=50"`
}

// BatchInlineResponse is the synchronous response for small batches.
type BatchInlineResponse struct {
	Summary BatchSummary      `json:"summary"`
	Results []BatchItemResult `json:"results"`
}

// BatchQueuedResponse is the asynchronous response for large batches.
type BatchQueuedResponse struct {
	JobID  string    `json:"job_id"`
	Status JobStatus `json:"status"`
}

// JobStatusResponse is a point-in-time snapshot of a batch job.
type JobStatusResponse struct {
	Job      *BatchJob `json:"job"`
	Progress float64   `json:"progress"`
}
