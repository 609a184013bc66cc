// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

// Package batch implements the two batch execution paths: small submissions
// run inline with staged bounded concurrency, large ones become persisted
// jobs consumed by the worker process. Both paths run each input through the
// same single-search pipeline; the submission itself is rate-limited once,
// items are not re-admitted individually.
package batch

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/identicore/identicore/internal/config"
	"github.com/identicore/identicore/internal/logging"
	"github.com/identicore/identicore/internal/metrics"
	"github.com/identicore/identicore/internal/models"
	"github.com/identicore/identicore/internal/queue"
	"github.com/identicore/identicore/internal/ratelimit"
	"github.com/identicore/identicore/internal/search"
)

// Executor runs one query through the single-search pipeline without quota
// admission.
type Executor interface {
	Execute(ctx context.Context, userID string, q models.SearchQuery) (*models.SearchResult, error)
}

// JobStore is the job-table surface the coordinator needs.
type JobStore interface {
	CreateJob(ctx context.Context, jobID, userID string, inputCount int) error
	GetJob(ctx context.Context, jobID string) (*models.BatchJob, error)
	FailJob(ctx context.Context, jobID string, results []models.BatchItemResult, reason string) error
}

// JobPublisher enqueues persisted jobs for the worker.
type JobPublisher interface {
	PublishJob(ctx context.Context, jm *queue.JobMessage) error
}

// Submission is the outcome of a batch submit: exactly one of Inline or
// Queued is set.
type Submission struct {
	Inline *models.BatchInlineResponse
	Queued *models.BatchQueuedResponse
}

// Coordinator validates, admits, and routes batch submissions.
type Coordinator struct {
	executor  Executor
	limiter   *ratelimit.Limiter
	jobs      JobStore
	publisher JobPublisher
	cfg       config.BatchConfig
}

// NewCoordinator wires the batch entrypoint.
func NewCoordinator(
	executor Executor,
	limiter *ratelimit.Limiter,
	jobs JobStore,
	publisher JobPublisher,
	cfg config.BatchConfig,
) *Coordinator {
	return &Coordinator{
		executor:  executor,
		limiter:   limiter,
		jobs:      jobs,
		publisher: publisher,
		cfg:       cfg,
	}
}

// Submit handles one batch request. Small batches return an inline summary;
// large ones return a job id the caller polls. An enqueue failure after the
// job row exists surfaces as a FAILED job, never as a request error.
func (c *Coordinator) Submit(ctx context.Context, userID string, plan models.Plan, req *models.BatchRequest) (*Submission, error) {
	if len(req.Queries) == 0 {
		return nil, &search.ValidationError{Reason: "batch has no inputs"}
	}
	if len(req.Queries) > c.cfg.MaxBatchSize {
		return nil, &search.ValidationError{
			Reason: fmt.Sprintf("batch of %d inputs exceeds the absolute maximum of %d",
				len(req.Queries), c.cfg.MaxBatchSize),
		}
	}

	decision := c.limiter.Check(ctx, userID, plan, ratelimit.OperationBatch, len(req.Queries))
	if !decision.Allowed {
		return nil, &search.QuotaError{
			Window:    decision.Window,
			Reason:    decision.Reason,
			Remaining: decision.Remaining,
		}
	}

	if len(req.Queries) < c.cfg.InlineThreshold {
		metrics.BatchJobsSubmitted.WithLabelValues("inline").Inc()
		return c.submitInline(ctx, userID, req)
	}
	metrics.BatchJobsSubmitted.WithLabelValues("queued").Inc()
	return c.submitQueued(ctx, userID, req)
}

// JobStatus returns a point-in-time job snapshot for polling.
func (c *Coordinator) JobStatus(ctx context.Context, jobID string) (*models.BatchJob, error) {
	return c.jobs.GetJob(ctx, jobID)
}

func (c *Coordinator) submitInline(ctx context.Context, userID string, req *models.BatchRequest) (*Submission, error) {
	results := ProcessInputs(ctx, c.executor, userID, req.Queries, c.chunkSize(req.MaxConcurrency))
	return &Submission{
		Inline: &models.BatchInlineResponse{
			Summary: Summarize(results),
			Results: results,
		},
	}, nil
}

func (c *Coordinator) submitQueued(ctx context.Context, userID string, req *models.BatchRequest) (*Submission, error) {
	jobID := uuid.NewString()

	// The row is created before publishing so a status poll never races the
	// queue. Failure here is a setup failure and is surfaced as an error.
	if err := c.jobs.CreateJob(ctx, jobID, userID, len(req.Queries)); err != nil {
		return nil, fmt.Errorf("create batch job: %w", err)
	}

	jm := &queue.JobMessage{
		JobID:          jobID,
		UserID:         userID,
		Inputs:         req.Queries,
		MaxConcurrency: req.MaxConcurrency,
	}
	if err := c.publisher.PublishJob(ctx, jm); err != nil {
		logging.Ctx(ctx).Error().
			Err(err).
			Str("job_id", jobID).
			Msg("Failed to enqueue batch job")
		if failErr := c.jobs.FailJob(ctx, jobID, nil, "enqueue failed: "+err.Error()); failErr != nil {
			logging.Ctx(ctx).Error().
				Err(failErr).
				Str("job_id", jobID).
				Msg("Failed to mark unenqueued job as failed")
		}
		return &Submission{
			Queued: &models.BatchQueuedResponse{JobID: jobID, Status: models.JobStatusFailed},
		}, nil
	}

	return &Submission{
		Queued: &models.BatchQueuedResponse{JobID: jobID, Status: models.JobStatusPending},
	}, nil
}

// chunkSize bounds per-chunk concurrency by the hard cap regardless of what
// the caller asked for.
func (c *Coordinator) chunkSize(requested int) int {
	if requested <= 0 || requested > c.cfg.ConcurrencyCap {
		return c.cfg.ConcurrencyCap
	}
	return requested
}

// ProcessInputs runs inputs through the pipeline in staged chunks: the items
// of one chunk run concurrently, and the next chunk does not start until the
// current one fully completes. Results come back in input order.
func ProcessInputs(ctx context.Context, executor Executor, userID string, inputs []string, chunkSize int) []models.BatchItemResult {
	if chunkSize < 1 {
		chunkSize = 1
	}
	results := make([]models.BatchItemResult, len(inputs))

	for start := 0; start < len(inputs); start += chunkSize {
		end := start + chunkSize
		if end > len(inputs) {
			end = len(inputs)
		}

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				results[i] = ProcessItem(ctx, executor, userID, i, inputs[i])
				return nil
			})
		}
		// Item failures land in their result slots, never here.
		_ = g.Wait()
	}

	return results
}

// ProcessItem runs one input through classification and the single-search
// pipeline, mapping the outcome to a per-item status.
func ProcessItem(ctx context.Context, executor Executor, userID string, index int, input string) models.BatchItemResult {
	item := models.BatchItemResult{Index: index, Input: input}

	q, err := search.ClassifyInput(input)
	if err != nil {
		item.Outcome = models.ItemError
		item.Error = err.Error()
		metrics.BatchItemsProcessed.WithLabelValues(string(models.ItemError)).Inc()
		return item
	}

	result, err := executor.Execute(ctx, userID, q)
	switch {
	case err != nil:
		item.Outcome = models.ItemError
		item.Error = err.Error()
	case result.Found:
		item.Outcome = models.ItemSuccess
		item.Result = result
	default:
		item.Outcome = models.ItemNotFound
		item.Result = result
	}
	metrics.BatchItemsProcessed.WithLabelValues(string(item.Outcome)).Inc()
	return item
}

// Summarize aggregates item outcomes.
func Summarize(results []models.BatchItemResult) models.BatchSummary {
	summary := models.BatchSummary{Total: len(results)}
	for _, r := range results {
		switch r.Outcome {
		case models.ItemSuccess:
			summary.Successful++
		case models.ItemNotFound:
			summary.NotFound++
		case models.ItemError:
			summary.Errors++
		}
	}
	return summary
}
