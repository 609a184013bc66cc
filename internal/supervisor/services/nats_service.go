// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

package services

import (
	"context"
	"fmt"
	"time"
)

// EmbeddedBroker matches the embedded NATS server lifecycle.
type EmbeddedBroker interface {
	Shutdown(ctx context.Context) error
	Running() bool
}

// NATSServerService keeps the embedded broker alive for the life of the
// process. The broker runs its own accept loops; supervision only maps
// context cancellation to a bounded shutdown, and reports an error if the
// broker dies underneath us so suture restarts the layer.
type NATSServerService struct {
	broker          EmbeddedBroker
	shutdownTimeout time.Duration
}

// NewNATSServerService wraps an embedded broker for supervision.
func NewNATSServerService(broker EmbeddedBroker, shutdownTimeout time.Duration) *NATSServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &NATSServerService{broker: broker, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service.
func (n *NATSServerService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), n.shutdownTimeout)
			defer cancel()
			if err := n.broker.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("nats server shutdown failed: %w", err)
			}
			return ctx.Err()
		case <-ticker.C:
			if !n.broker.Running() {
				return fmt.Errorf("embedded nats server stopped unexpectedly")
			}
		}
	}
}

func (n *NATSServerService) String() string {
	return "nats-server"
}
