// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

/*
store.go - PostgreSQL Connection and Schema Management

This file manages the pgx connection pool and the schema for the three
tables the core depends on:
  - users: user id to subscription plan mapping
  - search_events: append-only log of every search attempt; the rate limiter
    derives its window counts from this log rather than a mutable counter,
    so counts are always consistent with actual usage
  - batch_jobs: queued batch lifecycle rows; counters grow monotonically and
    terminal status is written exactly once by the owning worker

All columns are defined in the initial CREATE TABLE statements. Indexes
cover the hot paths: window-count scans over (user_id, created_at) and job
lookups by id.
*/
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/identicore/identicore/internal/config"
	"github.com/identicore/identicore/internal/logging"
)

// Store provides access to the identity and batch-job tables. All methods
// are safe for concurrent use; the pool handles connection management.
type Store struct {
	pool *pgxpool.Pool
}

// New opens a connection pool against the configured database, verifies
// connectivity, and creates the schema if it does not exist.
func New(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.ConnTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.createTables(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	logging.Info().
		Int32("max_conns", poolCfg.MaxConns).
		Msg("Database store initialized")

	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// createTables creates the core tables and indexes.
func (s *Store) createTables(ctx context.Context) error {
	schemaCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			plan TEXT NOT NULL DEFAULT 'FREE',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE TABLE IF NOT EXISTS search_events (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			query_type TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			cached BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		// Window-count scans filter by user and time range.
		`CREATE INDEX IF NOT EXISTS idx_search_events_user_created
			ON search_events (user_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS batch_jobs (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL,
			input_count INTEGER NOT NULL,
			processed_count INTEGER NOT NULL DEFAULT 0,
			success_count INTEGER NOT NULL DEFAULT 0,
			error_count INTEGER NOT NULL DEFAULT 0,
			results JSONB,
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at TIMESTAMPTZ
		)`,

		`CREATE INDEX IF NOT EXISTS idx_batch_jobs_user_created
			ON batch_jobs (user_id, created_at DESC)`,
	}

	for _, query := range queries {
		if _, err := s.pool.Exec(schemaCtx, query); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}

	return nil
}
