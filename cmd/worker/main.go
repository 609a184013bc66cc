// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

// The worker command consumes queued batch jobs from JetStream and runs
// them through the search pipeline. It shares the server's configuration;
// only the entrypoint differs.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

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

	if !cfg.NATS.Enabled {
		logging.Fatal().Msg("The worker requires NATS; set nats.enabled")
	}

	logging.Info().
		Str("stream", cfg.NATS.StreamName).
		Bool("embedded", cfg.NATS.EmbeddedServer).
		Msg("Starting Identicore batch worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer st.Close()

	tree := supervisor.NewTree("identicore-worker", logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	natsCfg := cfg.NATS
	if natsCfg.EmbeddedServer {
		embedded, err := queue.NewEmbeddedServer(natsCfg)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to start embedded NATS server")
		}
		natsCfg.URL = embedded.ClientURL()
		tree.AddQueueService(services.NewNATSServerService(embedded, 10*time.Second))
	}

	if err := ensureStream(ctx, natsCfg); err != nil {
		logging.Fatal().Err(err).Msg("Failed to provision JetStream stream")
	}

	wmLogger := queue.NewLoggerAdapter()

	// Poison publisher for messages that exhaust retries.
	poisonPub, err := queue.NewPublisher(natsCfg, wmLogger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to connect poison publisher")
	}
	defer func() {
		if err := poisonPub.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing poison publisher")
		}
	}()

	subscriber, err := queue.NewSubscriber(natsCfg, wmLogger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to connect job subscriber")
	}
	defer func() {
		if err := subscriber.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing job subscriber")
		}
	}()

	router, err := queue.NewRouter(routerConfig(natsCfg), poisonPub, wmLogger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build message router")
	}

	worker := batch.NewWorker(newExecutor(cfg, st), st, cfg.Batch)
	worker.Register(router, subscriber.Messages())
	tree.AddQueueService(services.NewRouterService(router))

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

	logging.Info().Msg("Identicore batch worker stopped")
}

// newExecutor assembles the search pipeline the worker runs jobs through.
// Quota admission happened at submit time, so the worker uses the
// no-admission Execute path; the pipeline is otherwise identical to the
// server's, including the shared cache and dedup.
func newExecutor(cfg *config.Config, st *store.Store) *search.Service {
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
	limiter := ratelimit.New(st, cfg.RateLimit.CountCacheTTL)

	return search.NewService(limiter, cache.New(cacheStore, cfg.Cache), dedup.New(), providers, st)
}

// routerConfig maps queue settings onto the router's middleware config.
func routerConfig(cfg config.NATSConfig) queue.RouterConfig {
	rc := queue.DefaultRouterConfig()
	if cfg.RouterRetryCount > 0 {
		rc.RetryMaxRetries = cfg.RouterRetryCount
	}
	if cfg.RouterRetryInitialInterval > 0 {
		rc.RetryInitialInterval = cfg.RouterRetryInitialInterval
	}
	if cfg.RouterPoisonQueueTopic != "" {
		rc.PoisonQueueTopic = cfg.RouterPoisonQueueTopic
	}
	if cfg.RouterCloseTimeout > 0 {
		rc.CloseTimeout = cfg.RouterCloseTimeout
	}
	return rc
}

// ensureStream provisions the batch stream before subscribing.
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
