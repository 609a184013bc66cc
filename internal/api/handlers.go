// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

// Package api exposes the HTTP surface: single search, batch submit, job
// status polling, and health. Identity arrives as an X-User-ID header set by
// the upstream gateway; plan resolution happens here so the core layers only
// ever see (userID, plan) pairs.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/identicore/identicore/internal/batch"
	"github.com/identicore/identicore/internal/models"
	"github.com/identicore/identicore/internal/search"
	"github.com/identicore/identicore/internal/store"
)

// maxRequestBytes bounds request bodies; batch payloads are the largest
// legitimate requests and stay well under this.
const maxRequestBytes = 1 << 20 // 1MB

// PlanResolver maps a user id to their subscription plan.
type PlanResolver interface {
	PlanForUser(ctx context.Context, userID string) (models.Plan, error)
}

// Pinger reports backing-store connectivity for readiness checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds the HTTP handlers and their collaborators.
type Handler struct {
	searches    *search.Service
	coordinator *batch.Coordinator
	plans       PlanResolver
	validate    *validator.Validate

	// dbPing is optional; when set, health includes the database.
	dbPing Pinger
}

// NewHandler wires the HTTP handlers.
func NewHandler(searches *search.Service, coordinator *batch.Coordinator, plans PlanResolver) *Handler {
	return &Handler{
		searches:    searches,
		coordinator: coordinator,
		plans:       plans,
		validate:    validator.New(),
	}
}

// SetDBPinger adds the database to the health check.
func (h *Handler) SetDBPinger(p Pinger) {
	h.dbPing = p
}

// Search handles POST /api/v1/search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	userID, plan, ok := h.resolveIdentity(w, r)
	if !ok {
		return
	}

	var req models.SearchRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	q, err := search.BuildQuery(&req)
	if err != nil {
		respondSearchError(w, err)
		return
	}

	result, err := h.searches.Search(r.Context(), userID, plan, q)
	if err != nil {
		respondSearchError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, result, started, result.Cached)
}

// SubmitBatch handles POST /api/v1/batch.
func (h *Handler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	userID, plan, ok := h.resolveIdentity(w, r)
	if !ok {
		return
	}

	var req models.BatchRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	sub, err := h.coordinator.Submit(r.Context(), userID, plan, &req)
	if err != nil {
		respondSearchError(w, err)
		return
	}

	if sub.Inline != nil {
		respondSuccess(w, http.StatusOK, sub.Inline, started, false)
		return
	}
	respondSuccess(w, http.StatusAccepted, sub.Queued, started, false)
}

// JobStatus handles GET /api/v1/batch/{jobID}.
func (h *Handler) JobStatus(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "job id is required", nil)
		return
	}

	job, err := h.coordinator.JobStatus(r.Context(), jobID)
	if errors.Is(err, store.ErrJobNotFound) {
		respondError(w, http.StatusNotFound, "JOB_NOT_FOUND", "no batch job with that id", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load job status", err)
		return
	}

	respondSuccess(w, http.StatusOK, &models.JobStatusResponse{
		Job:      job,
		Progress: job.Progress(),
	}, started, false)
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"service": "ok"}
	code := http.StatusOK

	if h.dbPing != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := h.dbPing.Ping(ctx); err != nil {
			status["database"] = "unreachable"
			code = http.StatusServiceUnavailable
		} else {
			status["database"] = "ok"
		}
	}

	respondSuccess(w, code, status, time.Now(), false)
}

// resolveIdentity reads the X-User-ID header and resolves the user's plan.
func (h *Handler) resolveIdentity(w http.ResponseWriter, r *http.Request) (string, models.Plan, bool) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "MISSING_IDENTITY", "X-User-ID header is required", nil)
		return "", "", false
	}

	plan, err := h.plans.PlanForUser(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "IDENTITY_LOOKUP_FAILED", "could not resolve user plan", err)
		return "", "", false
	}
	return userID, plan, true
}

// decodeAndValidate parses the JSON body and runs struct validation,
// responding with a structured error on failure.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return false
	}
	return true
}

// respondSearchError maps pipeline errors onto the API taxonomy.
func respondSearchError(w http.ResponseWriter, err error) {
	var ve *search.ValidationError
	if errors.As(err, &ve) {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", ve.Reason, nil)
		return
	}

	var qe *search.QuotaError
	if errors.As(err, &qe) {
		respondJSON(w, http.StatusTooManyRequests, &models.APIResponse{
			Status:   "error",
			Metadata: models.Metadata{Timestamp: time.Now()},
			Error: &models.APIError{
				Code:    "QUOTA_EXCEEDED",
				Message: qe.Reason,
				Details: map[string]interface{}{
					"window":    string(qe.Window),
					"remaining": qe.Remaining,
				},
			},
		})
		return
	}

	if errors.Is(err, search.ErrProviderUnavailable) {
		respondError(w, http.StatusBadGateway, "PROVIDER_UNAVAILABLE",
			"no data provider could serve this search", err)
		return
	}

	respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "search failed", err)
}
