// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/identicore/identicore/internal/config"
	"github.com/identicore/identicore/internal/metrics"
)

// Publisher wraps the watermill NATS publisher with reconnection handling
// and JetStream message-id deduplication.
type Publisher struct {
	publisher message.Publisher
	logger    watermill.LoggerAdapter

	mu     sync.RWMutex
	closed bool
}

// NewPublisher creates a JetStream publisher. The stream must already exist;
// StreamManager.EnsureStream provisions it at startup.
func NewPublisher(cfg config.NATSConfig, logger watermill.LoggerAdapter) (*Publisher, error) {
	if logger == nil {
		logger = NewLoggerAdapter()
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	}

	wmConfig := wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}

	pub, err := wmNats.NewPublisher(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create publisher: %w", err)
	}

	return &Publisher{publisher: pub, logger: logger}, nil
}

// PublishJob enqueues a batch job. The job id doubles as the NATS message id
// so a duplicate publish inside the stream's duplicate window is dropped
// server-side.
func (p *Publisher) PublishJob(_ context.Context, jm *JobMessage) error {
	msg, err := jm.Marshal()
	if err != nil {
		return err
	}
	return p.Publish(TopicBatchJobs, msg)
}

// Publish sends messages to the given topic. The signature satisfies
// watermill's message.Publisher so the router's poison-queue middleware can
// use the same publisher.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("publisher is closed")
	}
	p.mu.RUnlock()

	for _, msg := range messages {
		if msg.Metadata.Get(natsgo.MsgIdHdr) == "" {
			msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
		}
	}

	if err := p.publisher.Publish(topic, messages...); err != nil {
		metrics.QueuePublishFailures.Inc()
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close shuts the publisher down. Subsequent publishes fail fast.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}
