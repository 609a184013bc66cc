// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"github.com/identicore/identicore/internal/models"
)

// ErrJobNotFound is returned when a job id has no row.
var ErrJobNotFound = errors.New("batch job not found")

// CreateJob inserts a new PENDING job row. The row must exist before the
// job message is published so a status query never races the queue.
func (s *Store) CreateJob(ctx context.Context, jobID, userID string, inputCount int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO batch_jobs (id, user_id, status, input_count)
		 VALUES ($1, $2, $3, $4)`,
		jobID, userID, string(models.JobStatusPending), inputCount,
	)
	if err != nil {
		return fmt.Errorf("create batch job %s: %w", jobID, err)
	}
	return nil
}

// GetJob returns a job row by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (*models.BatchJob, error) {
	var (
		job        models.BatchJob
		status     string
		resultsRaw []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, status, input_count, processed_count,
		        success_count, error_count, results, error,
		        created_at, updated_at, completed_at
		 FROM batch_jobs WHERE id = $1`, jobID,
	).Scan(
		&job.ID, &job.UserID, &status, &job.InputCount, &job.ProcessedCount,
		&job.SuccessCount, &job.ErrorCount, &resultsRaw, &job.Error,
		&job.CreatedAt, &job.UpdatedAt, &job.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch job %s: %w", jobID, err)
	}

	job.Status = models.JobStatus(status)
	if len(resultsRaw) > 0 {
		if err := json.Unmarshal(resultsRaw, &job.Results); err != nil {
			return nil, fmt.Errorf("decode results for job %s: %w", jobID, err)
		}
	}
	return &job, nil
}

// MarkJobProcessing transitions PENDING -> PROCESSING. Returns false without
// error when the job is already past PENDING, which lets the worker detect a
// redelivered message for a job it has already handled.
func (s *Store) MarkJobProcessing(ctx context.Context, jobID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE batch_jobs
		 SET status = $2, updated_at = now()
		 WHERE id = $1 AND status = $3`,
		jobID, string(models.JobStatusProcessing), string(models.JobStatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("mark job %s processing: %w", jobID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// IncrementJobProgress atomically adds one processed item to a job's
// counters. Every call adds exactly one to either success or error so that
// processed_count always equals success_count + error_count; a not_found
// outcome is a successfully processed item with no hit.
func (s *Store) IncrementJobProgress(ctx context.Context, jobID string, outcome models.ItemOutcome) error {
	var successDelta, errorDelta int
	if outcome == models.ItemError {
		errorDelta = 1
	} else {
		successDelta = 1
	}

	_, err := s.pool.Exec(ctx,
		`UPDATE batch_jobs
		 SET processed_count = processed_count + 1,
		     success_count = success_count + $2,
		     error_count = error_count + $3,
		     updated_at = now()
		 WHERE id = $1`,
		jobID, successDelta, errorDelta,
	)
	if err != nil {
		return fmt.Errorf("increment progress for job %s: %w", jobID, err)
	}
	return nil
}

// CompleteJob writes the terminal COMPLETED status with the ordered per-item
// results. Terminal status is written once; a job already terminal is left
// untouched.
func (s *Store) CompleteJob(ctx context.Context, jobID string, results []models.BatchItemResult) error {
	return s.finishJob(ctx, jobID, models.JobStatusCompleted, results, "")
}

// FailJob writes the terminal FAILED status with the failure reason and any
// per-item results gathered before the failure.
func (s *Store) FailJob(ctx context.Context, jobID string, results []models.BatchItemResult, reason string) error {
	return s.finishJob(ctx, jobID, models.JobStatusFailed, results, reason)
}

func (s *Store) finishJob(ctx context.Context, jobID string, status models.JobStatus, results []models.BatchItemResult, reason string) error {
	var resultsRaw []byte
	if len(results) > 0 {
		var err error
		resultsRaw, err = json.Marshal(results)
		if err != nil {
			return fmt.Errorf("encode results for job %s: %w", jobID, err)
		}
	}

	_, err := s.pool.Exec(ctx,
		`UPDATE batch_jobs
		 SET status = $2, results = $3, error = $4,
		     updated_at = now(), completed_at = now()
		 WHERE id = $1 AND status NOT IN ($5, $6)`,
		jobID, string(status), resultsRaw, reason,
		string(models.JobStatusCompleted), string(models.JobStatusFailed),
	)
	if err != nil {
		return fmt.Errorf("finish job %s: %w", jobID, err)
	}
	return nil
}
