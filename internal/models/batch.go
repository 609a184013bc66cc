// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

package models

import "time"

// JobStatus is the lifecycle state of a persisted batch job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// Terminal reports whether the status is final. A terminal job is never
// mutated again; redelivered queue messages for it are no-ops.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ItemOutcome is the per-item result status within a batch.
type ItemOutcome string

const (
	ItemSuccess  ItemOutcome = "success"
	ItemNotFound ItemOutcome = "not_found"
	ItemError    ItemOutcome = "error"
)

// BatchItemResult is the outcome of one input within a batch, in input order.
type BatchItemResult struct {
	Index   int           `json:"index"`
	Input   string        `json:"input"`
	Outcome ItemOutcome   `json:"outcome"`
	Result  *SearchResult `json:"result,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// BatchSummary aggregates per-item outcomes of a batch.
type BatchSummary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	NotFound   int `json:"not_found"`
	Errors     int `json:"errors"`
}

// BatchJob is the persisted representation of a queued batch. Counters grow
// monotonically; terminal status is written exactly once by the owning worker.
type BatchJob struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id,omitempty"`
	Status         JobStatus         `json:"status"`
	InputCount     int               `json:"input_count"`
	ProcessedCount int               `json:"processed_count"`
	SuccessCount   int               `json:"success_count"`
	ErrorCount     int               `json:"error_count"`
	Results        []BatchItemResult `json:"results,omitempty"`
	Error          string            `json:"error,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
}

// Progress returns processed/input in [0, 1]; 0 when InputCount is 0.
// Never extrapolated or estimated.
func (j *BatchJob) Progress() float64 {
	if j.InputCount == 0 {
		return 0
	}
	return float64(j.ProcessedCount) / float64(j.InputCount)
}
