// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/identicore/identicore/internal/config"
)

// Connect opens a plain NATS connection for stream provisioning and health
// checks. The watermill publisher and subscriber manage their own
// connections.
func Connect(cfg config.NATSConfig) (*nats.Conn, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", cfg.URL, err)
	}
	return nc, nil
}

// StreamManager provisions the JetStream stream both processes depend on.
type StreamManager struct {
	js   jetstream.JetStream
	name string
}

// NewStreamManager creates a stream manager over an existing connection.
func NewStreamManager(nc *nats.Conn, cfg config.NATSConfig) (*StreamManager, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	return &StreamManager{js: js, name: cfg.StreamName}, nil
}

// EnsureStream creates or updates the batch stream. The duplicate window
// lets JetStream drop a re-published job message by its message id; the
// poison subject shares the stream so dead letters survive restarts.
func (m *StreamManager) EnsureStream(ctx context.Context, cfg config.NATSConfig) (jetstream.Stream, error) {
	streamCfg := jetstream.StreamConfig{
		Name:       m.name,
		Subjects:   []string{TopicBatchJobs, TopicBatchPoison},
		Retention:  jetstream.WorkQueuePolicy,
		MaxBytes:   cfg.MaxStore,
		Duplicates: 10 * time.Minute,
		Storage:    jetstream.FileStorage,
		Discard:    jetstream.DiscardOld,
	}

	if _, err := m.js.Stream(ctx, m.name); err == nil {
		stream, err := m.js.UpdateStream(ctx, streamCfg)
		if err != nil {
			return nil, fmt.Errorf("update stream %s: %w", m.name, err)
		}
		return stream, nil
	}

	stream, err := m.js.CreateStream(ctx, streamCfg)
	if err != nil {
		return nil, fmt.Errorf("create stream %s: %w", m.name, err)
	}
	return stream, nil
}

// StreamInfo returns the stream's current state for health reporting.
func (m *StreamManager) StreamInfo(ctx context.Context) (*jetstream.StreamInfo, error) {
	stream, err := m.js.Stream(ctx, m.name)
	if err != nil {
		return nil, fmt.Errorf("get stream %s: %w", m.name, err)
	}
	return stream.Info(ctx)
}
