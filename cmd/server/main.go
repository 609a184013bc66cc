// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

// The server command runs the HTTP API process: single search, batch
// submission, and job status polling. Batch jobs above the inline threshold
// are published to JetStream for the worker process.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/identicore/identicore/internal/api"
	"github.com/identicore/identicore/internal/batch"
	"github.com/identicore/identicore/internal/cache"
	"github.com/identicore/identicore/internal/config"
	"github.com/identicore/identicore/internal/dedup"
	"github.com/identicore/identicore/internal/logging"
	"github.com/identicore/identicore/internal/provider"
	"github.com/identicore/identicore/internal/queue"
	"github.com/identicore/identicore/internal/ratelimit"
	"github.com/identicore/identicore/internal/search"
	"github.com/identicore/identicore/internal/store"
	"github.com/identicore/identicore/internal/supervisor"
	"github.com/identicore/identicore/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)).
		Bool("redis", cfg.Redis.Enabled).
		Bool("nats", cfg.NATS.Enabled).
		Int("providers", len(cfg.Providers)).
		Msg("Starting Identicore API server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer st.Close()

	tree := supervisor.NewTree("identicore-server", logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	// Queue transport. When NATS is disabled, queued submissions fail fast
	// into FAILED jobs instead of blocking the request path.
	var publisher batch.JobPublisher = unavailablePublisher{}
	if cfg.NATS.Enabled {
		natsCfg := cfg.NATS
		if natsCfg.EmbeddedServer {
			embedded, err := queue.NewEmbeddedServer(natsCfg)
			if err != nil {
				logging.Fatal().Err(err).Msg("Failed to start embedded NATS server")
			}
			natsCfg.URL = embedded.ClientURL()
			tree.AddQueueService(services.NewNATSServerService(embedded, cfg.Server.ShutdownTimeout))
		}

		if err := ensureStream(ctx, natsCfg); err != nil {
			logging.Fatal().Err(err).Msg("Failed to provision JetStream stream")
		}

		pub, err := queue.NewPublisher(natsCfg, queue.NewLoggerAdapter())
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to connect job publisher")
		}
		defer func() {
			if err := pub.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing job publisher")
			}
		}()
		publisher = pub
	} else {
		logging.Warn().Msg("NATS disabled; queued batch submissions will fail immediately")
	}

	limiter := ratelimit.New(st, cfg.RateLimit.CountCacheTTL)
	svc := newSearchService(cfg, st, limiter)
	coordinator := batch.NewCoordinator(svc, limiter, st, publisher, cfg.Batch)

	handler := api.NewHandler(svc, coordinator, st)
	handler.SetDBPinger(st)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(cfg.Server, handler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	runTree(ctx, cancel, tree)
}

// newSearchService assembles the single-search pipeline shared by the API
// and the inline batch path.
func newSearchService(cfg *config.Config, st *store.Store, limiter *ratelimit.Limiter) *search.Service {
	var cacheStore cache.StoreClient
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		remote := cache.NewRedisStore(rdb, cache.WithKeyPrefix("identicore"))
		cacheStore = cache.NewResilientStore(remote, cache.NewMemoryStore(), cfg.Cache.OperationTimeout)
	} else {
		cacheStore = cache.NewMemoryStore()
	}

	providers := provider.NewFailoverClient(cfg.Providers, provider.NewBreakerRegistry())

	return search.NewService(limiter, cache.New(cacheStore, cfg.Cache), dedup.New(), providers, st)
}

// runTree starts the supervisor tree and blocks until a signal or a
// supervisor-level failure stops it.
func runTree(ctx context.Context, cancel context.CancelFunc, tree *supervisor.Tree) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Identicore API server stopped")
}

// ensureStream provisions the batch stream before any publish or subscribe.
func ensureStream(ctx context.Context, cfg config.NATSConfig) error {
	nc, err := queue.Connect(cfg)
	if err != nil {
		return err
	}
	defer nc.Close()

	mgr, err := queue.NewStreamManager(nc, cfg)
	if err != nil {
		return err
	}

	provisionCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err = mgr.EnsureStream(provisionCtx, cfg)
	return err
}

// unavailablePublisher rejects every publish; the coordinator turns the
// error into a FAILED job row.
type unavailablePublisher struct{}

func (unavailablePublisher) PublishJob(context.Context, *queue.JobMessage) error {
	return errors.New("job queue is not configured")
}
