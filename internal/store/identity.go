// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/identicore/identicore/internal/models"
)

// PlanForUser returns the subscription plan for a user. An unknown user id
// resolves to the FREE plan rather than an error: quota enforcement must
// never be more permissive for users the identity service has not synced yet.
func (s *Store) PlanForUser(ctx context.Context, userID string) (models.Plan, error) {
	var plan string
	err := s.pool.QueryRow(ctx,
		`SELECT plan FROM users WHERE id = $1`, userID,
	).Scan(&plan)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.PlanFree, nil
	}
	if err != nil {
		return "", fmt.Errorf("look up user plan: %w", err)
	}

	p := models.Plan(plan)
	if !p.Valid() {
		return models.PlanFree, nil
	}
	return p, nil
}

// UpsertUser records or updates a user's plan. Called by the identity sync
// path, not the search path.
func (s *Store) UpsertUser(ctx context.Context, userID string, plan models.Plan) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, plan) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET plan = $2, updated_at = now()`,
		userID, string(plan),
	)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", userID, err)
	}
	return nil
}
