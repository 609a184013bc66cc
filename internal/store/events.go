// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/identicore/identicore/internal/models"
)

// SearchEvent is one appended usage record. Both successful and failed
// attempts count against plan quotas, so the success flag is informational.
type SearchEvent struct {
	UserID    string
	QueryType models.QueryType
	Success   bool
	Cached    bool
}

// AppendSearchEvent records one search attempt in the usage log. The log is
// append-only from the core's perspective; the rate limiter reads it back
// through CountSearchesSince.
func (s *Store) AppendSearchEvent(ctx context.Context, ev SearchEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO search_events (user_id, query_type, success, cached)
		 VALUES ($1, $2, $3, $4)`,
		ev.UserID, string(ev.QueryType), ev.Success, ev.Cached,
	)
	if err != nil {
		return fmt.Errorf("append search event: %w", err)
	}
	return nil
}

// CountSearchesSince returns how many searches the user has made at or after
// the given instant. Implements the counter interface consumed by the rate
// limiter; every appended event counts, including cache hits and failures.
func (s *Store) CountSearchesSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM search_events WHERE user_id = $1 AND created_at >= $2`,
		userID, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count search events: %w", err)
	}
	return count, nil
}
