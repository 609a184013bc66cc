// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/identicore/identicore/internal/config"
	"github.com/identicore/identicore/internal/models"
	"github.com/identicore/identicore/internal/queue"
	"github.com/identicore/identicore/internal/ratelimit"
	"github.com/identicore/identicore/internal/search"
	"github.com/identicore/identicore/internal/store"
)

// fakeExecutor resolves items by input shape: addresses containing "missing"
// are not found, ones containing "fail" error. It tracks peak concurrency.
type fakeExecutor struct {
	calls   atomic.Int64
	current atomic.Int64
	peak    atomic.Int64
	delay   time.Duration
}

func (f *fakeExecutor) Execute(_ context.Context, _ string, q models.SearchQuery) (*models.SearchResult, error) {
	f.calls.Add(1)
	cur := f.current.Add(1)
	for {
		peak := f.peak.Load()
		if cur <= peak || f.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	defer f.current.Add(-1)

	input := q.Params["email"] + q.Params["phone"] + q.Params["name"]
	if strings.Contains(input, "fail") {
		return nil, errors.New("provider blew up")
	}
	return &models.SearchResult{
		Query: q,
		Found: !strings.Contains(input, "missing"),
	}, nil
}

// fakeJobStore is an in-memory job table.
type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]*models.BatchJob
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]*models.BatchJob)}
}

func (f *fakeJobStore) CreateJob(_ context.Context, jobID, userID string, inputCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobID] = &models.BatchJob{
		ID:         jobID,
		UserID:     userID,
		Status:     models.JobStatusPending,
		InputCount: inputCount,
		CreatedAt:  time.Now(),
	}
	return nil
}

func (f *fakeJobStore) GetJob(_ context.Context, jobID string) (*models.BatchJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	copied := *job
	copied.Results = append([]models.BatchItemResult(nil), job.Results...)
	return &copied, nil
}

func (f *fakeJobStore) MarkJobProcessing(_ context.Context, jobID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok || job.Status != models.JobStatusPending {
		return false, nil
	}
	job.Status = models.JobStatusProcessing
	return true, nil
}

func (f *fakeJobStore) IncrementJobProgress(_ context.Context, jobID string, outcome models.ItemOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[jobID]
	job.ProcessedCount++
	if outcome == models.ItemError {
		job.ErrorCount++
	} else {
		job.SuccessCount++
	}
	return nil
}

func (f *fakeJobStore) CompleteJob(_ context.Context, jobID string, results []models.BatchItemResult) error {
	return f.finish(jobID, models.JobStatusCompleted, results, "")
}

func (f *fakeJobStore) FailJob(_ context.Context, jobID string, results []models.BatchItemResult, reason string) error {
	return f.finish(jobID, models.JobStatusFailed, results, reason)
}

func (f *fakeJobStore) finish(jobID string, status models.JobStatus, results []models.BatchItemResult, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok || job.Status.Terminal() {
		return nil
	}
	now := time.Now()
	job.Status = status
	job.Results = results
	job.Error = reason
	job.CompletedAt = &now
	return nil
}

// fakePublisher records published jobs and optionally fails.
type fakePublisher struct {
	mu        sync.Mutex
	published []*queue.JobMessage
	failErr   error
}

func (f *fakePublisher) PublishJob(_ context.Context, jm *queue.JobMessage) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, jm)
	return nil
}

// unlimitedCounter backs the limiter with an empty usage log.
type unlimitedCounter struct{}

func (unlimitedCounter) CountSearchesSince(context.Context, string, time.Time) (int, error) {
	return 0, nil
}

func testBatchConfig() config.BatchConfig {
	return config.BatchConfig{
		InlineThreshold: 20,
		MaxBatchSize:    500,
		ConcurrencyCap:  10,
		JobTimeout:      time.Minute,
	}
}

func newCoordinator(exec Executor, jobs JobStore, pub JobPublisher) *Coordinator {
	return NewCoordinator(exec, ratelimit.New(unlimitedCounter{}, 0), jobs, pub, testBatchConfig())
}

func emailInputs(n int) []string {
	inputs := make([]string, n)
	for i := range inputs {
		inputs[i] = fmt.Sprintf("user%d@example.com", i)
	}
	return inputs
}

func TestInlineBatchOrderedResults(t *testing.T) {
	exec := &fakeExecutor{delay: 5 * time.Millisecond}
	c := newCoordinator(exec, newFakeJobStore(), &fakePublisher{})

	inputs := []string{
		"a@example.com",
		"missing@example.com",
		"fail@example.com",
		"+15551234567",
		"Jane Roe",
	}
	sub, err := c.Submit(context.Background(), "user-1", models.PlanEnterprise, &models.BatchRequest{
		Queries:        inputs,
		MaxConcurrency: 2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.Inline == nil {
		t.Fatal("small batch should be processed inline")
	}

	results := sub.Inline.Results
	if len(results) != len(inputs) {
		t.Fatalf("got %d results, want %d", len(results), len(inputs))
	}
	for i, r := range results {
		if r.Index != i || r.Input != inputs[i] {
			t.Errorf("result %d out of order: %+v", i, r)
		}
	}
	if results[0].Outcome != models.ItemSuccess {
		t.Errorf("result 0 = %s, want success", results[0].Outcome)
	}
	if results[1].Outcome != models.ItemNotFound {
		t.Errorf("result 1 = %s, want not_found", results[1].Outcome)
	}
	if results[2].Outcome != models.ItemError || results[2].Error == "" {
		t.Errorf("result 2 = %s (%q), want error with message", results[2].Outcome, results[2].Error)
	}

	summary := sub.Inline.Summary
	if summary.Total != 5 || summary.Successful != 3 || summary.NotFound != 1 || summary.Errors != 1 {
		t.Errorf("summary = %+v, want 5/3/1/1", summary)
	}
}

func TestInlineBatchStagedConcurrency(t *testing.T) {
	exec := &fakeExecutor{delay: 10 * time.Millisecond}
	c := newCoordinator(exec, newFakeJobStore(), &fakePublisher{})

	sub, err := c.Submit(context.Background(), "user-1", models.PlanEnterprise, &models.BatchRequest{
		Queries:        emailInputs(15),
		MaxConcurrency: 5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.Inline == nil {
		t.Fatal("expected inline processing")
	}
	if got := exec.calls.Load(); got != 15 {
		t.Errorf("executor called %d times, want 15", got)
	}
	if peak := exec.peak.Load(); peak > 5 {
		t.Errorf("peak concurrency %d exceeds requested 5", peak)
	}
}

func TestInlineConcurrencyHardCap(t *testing.T) {
	exec := &fakeExecutor{delay: 5 * time.Millisecond}
	c := newCoordinator(exec, newFakeJobStore(), &fakePublisher{})

	_, err := c.Submit(context.Background(), "user-1", models.PlanEnterprise, &models.BatchRequest{
		Queries:        emailInputs(19),
		MaxConcurrency: 50,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if peak := exec.peak.Load(); peak > 10 {
		t.Errorf("peak concurrency %d exceeds the hard cap of 10", peak)
	}
}

func TestLargeBatchIsQueued(t *testing.T) {
	exec := &fakeExecutor{}
	jobs := newFakeJobStore()
	pub := &fakePublisher{}
	c := newCoordinator(exec, jobs, pub)

	sub, err := c.Submit(context.Background(), "user-1", models.PlanEnterprise, &models.BatchRequest{
		Queries: emailInputs(25),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.Queued == nil {
		t.Fatal("25 inputs should be queued, not inline")
	}
	if sub.Queued.Status != models.JobStatusPending {
		t.Errorf("status = %s, want PENDING", sub.Queued.Status)
	}
	if exec.calls.Load() != 0 {
		t.Error("queued path must not execute items synchronously")
	}

	job, err := jobs.GetJob(context.Background(), sub.Queued.JobID)
	if err != nil {
		t.Fatalf("job row missing: %v", err)
	}
	if job.Status != models.JobStatusPending || job.InputCount != 25 {
		t.Errorf("job = %+v, want PENDING with 25 inputs", job)
	}

	if len(pub.published) != 1 || pub.published[0].JobID != sub.Queued.JobID {
		t.Errorf("published = %+v, want one message for the job", pub.published)
	}
	if len(pub.published[0].Inputs) != 25 {
		t.Errorf("message carries %d inputs, want 25", len(pub.published[0].Inputs))
	}
}

func TestEnqueueFailureSurfacesAsFailedJob(t *testing.T) {
	jobs := newFakeJobStore()
	pub := &fakePublisher{failErr: errors.New("broker down")}
	c := newCoordinator(&fakeExecutor{}, jobs, pub)

	sub, err := c.Submit(context.Background(), "user-1", models.PlanEnterprise, &models.BatchRequest{
		Queries: emailInputs(30),
	})
	if err != nil {
		t.Fatalf("enqueue failure must not be a request error, got %v", err)
	}
	if sub.Queued == nil || sub.Queued.Status != models.JobStatusFailed {
		t.Fatalf("submission = %+v, want queued response with FAILED status", sub)
	}

	job, err := jobs.GetJob(context.Background(), sub.Queued.JobID)
	if err != nil {
		t.Fatalf("job row missing: %v", err)
	}
	if job.Status != models.JobStatusFailed {
		t.Errorf("job status = %s, want FAILED", job.Status)
	}
	if !strings.Contains(job.Error, "enqueue failed") {
		t.Errorf("job error = %q, want enqueue failure reason", job.Error)
	}
}

func TestBatchHardCeiling(t *testing.T) {
	c := newCoordinator(&fakeExecutor{}, newFakeJobStore(), &fakePublisher{})

	_, err := c.Submit(context.Background(), "user-1", models.PlanEnterprise, &models.BatchRequest{
		Queries: emailInputs(501),
	})
	var ve *search.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *ValidationError for oversized batch", err)
	}
}

func TestBatchPlanSizeDenial(t *testing.T) {
	c := newCoordinator(&fakeExecutor{}, newFakeJobStore(), &fakePublisher{})

	// FREE allows at most 10 per batch.
	_, err := c.Submit(context.Background(), "user-1", models.PlanFree, &models.BatchRequest{
		Queries: emailInputs(11),
	})
	var qe *search.QuotaError
	if !errors.As(err, &qe) {
		t.Fatalf("err = %v, want *QuotaError", err)
	}
	if qe.Window != ratelimit.WindowBatchSize {
		t.Errorf("window = %s, want batch_size", qe.Window)
	}
}

func TestEmptyBatchRejected(t *testing.T) {
	c := newCoordinator(&fakeExecutor{}, newFakeJobStore(), &fakePublisher{})

	_, err := c.Submit(context.Background(), "user-1", models.PlanEnterprise, &models.BatchRequest{})
	var ve *search.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *ValidationError for empty batch", err)
	}
}
