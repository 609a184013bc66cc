// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"golang.org/x/sync/errgroup"

	"github.com/identicore/identicore/internal/config"
	"github.com/identicore/identicore/internal/logging"
	"github.com/identicore/identicore/internal/metrics"
	"github.com/identicore/identicore/internal/models"
	"github.com/identicore/identicore/internal/queue"
	"github.com/identicore/identicore/internal/store"
)

// WorkerStore is the job-table surface the worker needs.
type WorkerStore interface {
	GetJob(ctx context.Context, jobID string) (*models.BatchJob, error)
	MarkJobProcessing(ctx context.Context, jobID string) (bool, error)
	IncrementJobProgress(ctx context.Context, jobID string, outcome models.ItemOutcome) error
	CompleteJob(ctx context.Context, jobID string, results []models.BatchItemResult) error
	FailJob(ctx context.Context, jobID string, results []models.BatchItemResult, reason string) error
}

// Worker consumes queued batch jobs and owns their lifecycle: it alone
// transitions a claimed job through PROCESSING to its terminal status, and
// it persists progress after every item so status polls see partial results.
type Worker struct {
	executor Executor
	jobs     WorkerStore
	cfg      config.BatchConfig
}

// NewWorker wires the job consumer.
func NewWorker(executor Executor, jobs WorkerStore, cfg config.BatchConfig) *Worker {
	return &Worker{executor: executor, jobs: jobs, cfg: cfg}
}

// Register attaches the worker to the router.
func (w *Worker) Register(r *queue.Router, subscriber message.Subscriber) {
	r.AddConsumerHandler("batch_worker", queue.TopicBatchJobs, subscriber, w.HandleMessage)
}

// HandleMessage processes one job message. Returning an error nacks the
// message into the retry/poison path; returning nil acks it. Redeliveries of
// already-claimed or finished jobs ack without doing any work.
//
// The router cancels message contexts when it shuts down. A claimed job must
// still run to its terminal status, so processing happens on a context
// detached from that cancellation and bounded by batch.job_timeout instead.
func (w *Worker) HandleMessage(msg *message.Message) error {
	ctx := msg.Context()

	jm, err := queue.UnmarshalJobMessage(msg)
	if err != nil {
		// Malformed payloads never become valid; let retries exhaust into
		// the poison queue where they can be inspected.
		return err
	}

	log := logging.Ctx(ctx).With().Str("job_id", jm.JobID).Logger()

	job, err := w.jobs.GetJob(ctx, jm.JobID)
	if errors.Is(err, store.ErrJobNotFound) {
		log.Warn().Msg("Job message without a job row, dropping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job %s: %w", jm.JobID, err)
	}

	if job.Status.Terminal() {
		log.Debug().Str("status", string(job.Status)).Msg("Redelivered message for finished job, ignoring")
		return nil
	}

	claimed, err := w.jobs.MarkJobProcessing(ctx, jm.JobID)
	if err != nil {
		return fmt.Errorf("claim job %s: %w", jm.JobID, err)
	}
	if !claimed {
		log.Warn().Msg("Job already claimed by another delivery, ignoring")
		return nil
	}

	log.Info().Int("inputs", len(jm.Inputs)).Msg("Processing batch job")
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.JobTimeout)
	defer cancel()
	results := w.processJob(jobCtx, jm)

	if err := w.jobs.CompleteJob(jobCtx, jm.JobID, results); err != nil {
		// The counters are already persisted; losing the terminal write
		// would strand the job in PROCESSING.
		return fmt.Errorf("complete job %s: %w", jm.JobID, err)
	}

	summary := Summarize(results)
	metrics.BatchJobsCompleted.WithLabelValues(string(models.JobStatusCompleted)).Inc()
	log.Info().
		Int("successful", summary.Successful).
		Int("not_found", summary.NotFound).
		Int("errors", summary.Errors).
		Msg("Batch job completed")
	return nil
}

// processJob runs every input through the pipeline in staged chunks,
// persisting progress after each item. Item failures are recorded and do not
// abort the remaining items.
func (w *Worker) processJob(ctx context.Context, jm *queue.JobMessage) []models.BatchItemResult {
	chunkSize := jm.MaxConcurrency
	if chunkSize <= 0 || chunkSize > w.cfg.ConcurrencyCap {
		chunkSize = w.cfg.ConcurrencyCap
	}
	if chunkSize < 1 {
		chunkSize = 1
	}

	results := make([]models.BatchItemResult, len(jm.Inputs))

	for start := 0; start < len(jm.Inputs); start += chunkSize {
		end := start + chunkSize
		if end > len(jm.Inputs) {
			end = len(jm.Inputs)
		}

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				results[i] = ProcessItem(ctx, w.executor, jm.UserID, i, jm.Inputs[i])
				if err := w.jobs.IncrementJobProgress(ctx, jm.JobID, results[i].Outcome); err != nil {
					logging.Ctx(ctx).Warn().
						Err(err).
						Str("job_id", jm.JobID).
						Int("index", i).
						Msg("Failed to persist item progress")
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	return results
}
