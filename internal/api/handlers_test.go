// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/identicore/identicore/internal/batch"
	"github.com/identicore/identicore/internal/cache"
	"github.com/identicore/identicore/internal/config"
	"github.com/identicore/identicore/internal/dedup"
	"github.com/identicore/identicore/internal/models"
	"github.com/identicore/identicore/internal/provider"
	"github.com/identicore/identicore/internal/queue"
	"github.com/identicore/identicore/internal/ratelimit"
	"github.com/identicore/identicore/internal/search"
	"github.com/identicore/identicore/internal/store"
)

type fakeProviders struct {
	failErr error
	found   bool
}

func (f *fakeProviders) Search(_ context.Context, q models.SearchQuery) (*provider.Result, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	return &provider.Result{
		Found:    f.found,
		Records:  []models.PersonRecord{{Emails: []string{q.Params["email"]}}},
		Provider: "fake",
	}, nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []store.SearchEvent
	times  []time.Time
}

func (f *fakeEvents) AppendSearchEvent(_ context.Context, ev store.SearchEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	f.times = append(f.times, time.Now())
	return nil
}

func (f *fakeEvents) CountSearchesSince(_ context.Context, userID string, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for i, ev := range f.events {
		if ev.UserID == userID && !f.times[i].Before(since) {
			count++
		}
	}
	return count, nil
}

type fakePlans struct {
	plans map[string]models.Plan
	err   error
}

func (f *fakePlans) PlanForUser(_ context.Context, userID string) (models.Plan, error) {
	if f.err != nil {
		return "", f.err
	}
	if p, ok := f.plans[userID]; ok {
		return p, nil
	}
	return models.PlanFree, nil
}

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
	j, ok := f.jobs[jobID]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (f *fakeJobStore) FailJob(_ context.Context, jobID string, results []models.BatchItemResult, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[jobID]; ok {
		j.Status = models.JobStatusFailed
		j.Results = results
		j.Error = reason
	}
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []*queue.JobMessage
	failErr   error
}

func (f *fakePublisher) PublishJob(_ context.Context, jm *queue.JobMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.published = append(f.published, jm)
	return nil
}

type testServer struct {
	router    http.Handler
	providers *fakeProviders
	events    *fakeEvents
	jobs      *fakeJobStore
	publisher *fakePublisher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	providers := &fakeProviders{found: true}
	events := &fakeEvents{}
	jobs := newFakeJobStore()
	publisher := &fakePublisher{}

	c := cache.New(cache.NewMemoryStore(), config.CacheConfig{
		EmailTTL:         time.Hour,
		PhoneTTL:         24 * time.Hour,
		NameTTL:          6 * time.Hour,
		AddressTTL:       24 * time.Hour,
		ComprehensiveTTL: 30 * time.Minute,
	})
	limiter := ratelimit.New(events, 0)
	svc := search.NewService(limiter, c, dedup.New(), providers, events)

	coordinator := batch.NewCoordinator(svc, limiter, jobs, publisher, config.BatchConfig{
		InlineThreshold: 20,
		MaxBatchSize:    500,
		ConcurrencyCap:  10,
	})

	plans := &fakePlans{plans: map[string]models.Plan{
		"alice": models.PlanEnterprise,
		"frank": models.PlanFree,
	}}

	handler := NewHandler(svc, coordinator, plans)
	router := NewRouter(config.ServerConfig{
		RateLimitRequests: 10000,
		RateLimitWindow:   time.Minute,
		CORSOrigins:       []string{"*"},
	}, handler)

	return &testServer{
		router:    router,
		providers: providers,
		events:    events,
		jobs:      jobs,
		publisher: publisher,
	}
}

type envelope struct {
	Status string           `json:"status"`
	Data   json.RawMessage  `json:"data"`
	Error  *models.APIError `json:"error"`
}

func (ts *testServer) do(t *testing.T, method, path, userID, body string) (int, *envelope) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("response is not a valid envelope: %v (body %q)", err, rec.Body.String())
	}
	return rec.Code, &env
}

func TestSearchEndpointSuccess(t *testing.T) {
	ts := newTestServer(t)

	code, env := ts.do(t, http.MethodPost, "/api/v1/search", "alice",
		`{"email":"Jane.Doe@Example.COM"}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if env.Status != "success" {
		t.Fatalf("envelope status = %q, want success", env.Status)
	}

	var result models.SearchResult
	if err := json.Unmarshal(env.Data, &result); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if !result.Found {
		t.Error("result.Found = false, want true")
	}
	if result.Query.Params["email"] != "jane.doe@example.com" {
		t.Errorf("email not normalized: %q", result.Query.Params["email"])
	}
}

func TestSearchRequiresIdentityHeader(t *testing.T) {
	ts := newTestServer(t)

	code, env := ts.do(t, http.MethodPost, "/api/v1/search", "",
		`{"email":"jane@example.com"}`)
	if code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", code)
	}
	if env.Error == nil || env.Error.Code != "MISSING_IDENTITY" {
		t.Fatalf("error = %+v, want MISSING_IDENTITY", env.Error)
	}
}

func TestSearchRejectsMalformedBody(t *testing.T) {
	ts := newTestServer(t)

	code, env := ts.do(t, http.MethodPost, "/api/v1/search", "alice", `{not json`)
	if code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", code)
	}
	if env.Error == nil || env.Error.Code != "VALIDATION_ERROR" {
		t.Fatalf("error = %+v, want VALIDATION_ERROR", env.Error)
	}
}

func TestSearchRejectsEmptyRequest(t *testing.T) {
	ts := newTestServer(t)

	code, env := ts.do(t, http.MethodPost, "/api/v1/search", "alice", `{}`)
	if code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", code)
	}
	if env.Error == nil || env.Error.Code != "VALIDATION_ERROR" {
		t.Fatalf("error = %+v, want VALIDATION_ERROR", env.Error)
	}
}

func TestSearchQuotaExceeded(t *testing.T) {
	ts := newTestServer(t)

	// Free plan allows 5 searches per day; distinct addresses avoid cache hits.
	for i := 0; i < 5; i++ {
		code, _ := ts.do(t, http.MethodPost, "/api/v1/search", "frank",
			fmt.Sprintf(`{"email":"user%d@example.com"}`, i))
		if code != http.StatusOK {
			t.Fatalf("search %d: status = %d, want 200", i, code)
		}
	}

	code, env := ts.do(t, http.MethodPost, "/api/v1/search", "frank",
		`{"email":"user6@example.com"}`)
	if code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", code)
	}
	if env.Error == nil || env.Error.Code != "QUOTA_EXCEEDED" {
		t.Fatalf("error = %+v, want QUOTA_EXCEEDED", env.Error)
	}
	details, ok := env.Error.Details.(map[string]interface{})
	if !ok {
		t.Fatalf("details = %T, want object", env.Error.Details)
	}
	if details["window"] != string(ratelimit.WindowDaily) {
		t.Errorf("details.window = %v, want %s", details["window"], ratelimit.WindowDaily)
	}
}

func TestSearchProviderUnavailable(t *testing.T) {
	ts := newTestServer(t)
	ts.providers.failErr = errors.New("upstream down")

	code, env := ts.do(t, http.MethodPost, "/api/v1/search", "alice",
		`{"email":"jane@example.com"}`)
	if code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", code)
	}
	if env.Error == nil || env.Error.Code != "PROVIDER_UNAVAILABLE" {
		t.Fatalf("error = %+v, want PROVIDER_UNAVAILABLE", env.Error)
	}
}

func TestSmallBatchRunsInline(t *testing.T) {
	ts := newTestServer(t)

	code, env := ts.do(t, http.MethodPost, "/api/v1/batch", "alice",
		`{"queries":["a@example.com","b@example.com","+15551234567"]}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}

	var inline models.BatchInlineResponse
	if err := json.Unmarshal(env.Data, &inline); err != nil {
		t.Fatalf("decoding inline response: %v", err)
	}
	if inline.Summary.Total != 3 {
		t.Errorf("summary.Total = %d, want 3", inline.Summary.Total)
	}
	if len(inline.Results) != 3 {
		t.Errorf("len(results) = %d, want 3", len(inline.Results))
	}
	if len(ts.publisher.published) != 0 {
		t.Errorf("inline batch published %d messages, want 0", len(ts.publisher.published))
	}
}

func TestLargeBatchQueuedAndPollable(t *testing.T) {
	ts := newTestServer(t)

	queries := make([]string, 25)
	for i := range queries {
		queries[i] = fmt.Sprintf("user%d@example.com", i)
	}
	body, err := json.Marshal(map[string]interface{}{"queries": queries})
	if err != nil {
		t.Fatal(err)
	}

	code, env := ts.do(t, http.MethodPost, "/api/v1/batch", "alice", string(body))
	if code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", code)
	}

	var queued models.BatchQueuedResponse
	if err := json.Unmarshal(env.Data, &queued); err != nil {
		t.Fatalf("decoding queued response: %v", err)
	}
	if queued.JobID == "" {
		t.Fatal("queued response has no job id")
	}
	if queued.Status != models.JobStatusPending {
		t.Errorf("status = %s, want %s", queued.Status, models.JobStatusPending)
	}
	if len(ts.publisher.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(ts.publisher.published))
	}

	code, env = ts.do(t, http.MethodGet, "/api/v1/batch/"+queued.JobID, "alice", "")
	if code != http.StatusOK {
		t.Fatalf("poll status = %d, want 200", code)
	}
	var status models.JobStatusResponse
	if err := json.Unmarshal(env.Data, &status); err != nil {
		t.Fatalf("decoding job status: %v", err)
	}
	if status.Job.Status != models.JobStatusPending {
		t.Errorf("job status = %s, want PENDING", status.Job.Status)
	}
	if status.Progress != 0 {
		t.Errorf("progress = %f, want 0", status.Progress)
	}
}

func TestBatchPlanSizeDenied(t *testing.T) {
	ts := newTestServer(t)

	queries := make([]string, 11) // free plan caps batches at 10
	for i := range queries {
		queries[i] = fmt.Sprintf("user%d@example.com", i)
	}
	body, err := json.Marshal(map[string]interface{}{"queries": queries})
	if err != nil {
		t.Fatal(err)
	}

	code, env := ts.do(t, http.MethodPost, "/api/v1/batch", "frank", string(body))
	if code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", code)
	}
	if env.Error == nil || env.Error.Code != "QUOTA_EXCEEDED" {
		t.Fatalf("error = %+v, want QUOTA_EXCEEDED", env.Error)
	}
}

func TestJobStatusNotFound(t *testing.T) {
	ts := newTestServer(t)

	code, env := ts.do(t, http.MethodGet,
		"/api/v1/batch/00000000-0000-0000-0000-000000000000", "alice", "")
	if code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", code)
	}
	if env.Error == nil || env.Error.Code != "JOB_NOT_FOUND" {
		t.Fatalf("error = %+v, want JOB_NOT_FOUND", env.Error)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	code, env := ts.do(t, http.MethodGet, "/api/v1/health", "", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if env.Status != "success" {
		t.Errorf("envelope status = %q, want success", env.Status)
	}
}
