// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

package queue

import (
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
)

func TestJobMessageRoundTrip(t *testing.T) {
	t.Parallel()

	jm := &JobMessage{
		JobID:          "6f1c9d26-0000-4000-8000-000000000001",
		UserID:         "user-42",
		Inputs:         []string{"a@b.com", "+15551234567"},
		MaxConcurrency: 4,
	}

	msg, err := jm.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if msg.UUID != jm.JobID {
		t.Errorf("message UUID = %q, want job id (drives broker-side dedup)", msg.UUID)
	}

	got, err := UnmarshalJobMessage(msg)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.JobID != jm.JobID || got.UserID != jm.UserID {
		t.Errorf("identity fields lost: %+v", got)
	}
	if len(got.Inputs) != 2 || got.Inputs[1] != "+15551234567" {
		t.Errorf("inputs lost: %+v", got.Inputs)
	}
	if got.MaxConcurrency != 4 {
		t.Errorf("max_concurrency = %d, want 4", got.MaxConcurrency)
	}
}

func TestUnmarshalJobMessageRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := UnmarshalJobMessage(message.NewMessage("m1", []byte("not json")))
	if err == nil {
		t.Error("expected error for malformed payload")
	}

	_, err = UnmarshalJobMessage(message.NewMessage("m2", []byte(`{"user_id":"u"}`)))
	if err == nil {
		t.Error("expected error for payload without job id")
	}
}

func TestDefaultRouterConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultRouterConfig()

	if cfg.CloseTimeout != 30*time.Second {
		t.Errorf("CloseTimeout = %v, want %v", cfg.CloseTimeout, 30*time.Second)
	}
	if cfg.RetryMaxRetries != 5 {
		t.Errorf("RetryMaxRetries = %d, want 5", cfg.RetryMaxRetries)
	}
	if cfg.RetryMultiplier != 2.0 {
		t.Errorf("RetryMultiplier = %f, want 2.0", cfg.RetryMultiplier)
	}
	if cfg.PoisonQueueTopic != TopicBatchPoison {
		t.Errorf("PoisonQueueTopic = %q, want %q", cfg.PoisonQueueTopic, TopicBatchPoison)
	}
}

// The router's poison-queue middleware takes a message.Publisher; Publisher
// must satisfy it directly.
var _ message.Publisher = (*Publisher)(nil)

type capturingPublisher struct {
	topics   []string
	messages []*message.Message
}

func (c *capturingPublisher) Publish(topic string, messages ...*message.Message) error {
	c.topics = append(c.topics, topic)
	c.messages = append(c.messages, messages...)
	return nil
}

func (c *capturingPublisher) Close() error { return nil }

func TestPublishStampsMessageIDPerMessage(t *testing.T) {
	t.Parallel()

	inner := &capturingPublisher{}
	pub := &Publisher{publisher: inner}

	first := message.NewMessage("job-1", []byte(`{}`))
	second := message.NewMessage("job-2", []byte(`{}`))
	if err := pub.Publish(TopicBatchJobs, first, second); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(inner.messages) != 2 {
		t.Fatalf("forwarded %d messages, want 2", len(inner.messages))
	}
	for _, msg := range inner.messages {
		if got := msg.Metadata.Get(natsgo.MsgIdHdr); got != msg.UUID {
			t.Errorf("message id header = %q, want %q", got, msg.UUID)
		}
	}
	if inner.topics[0] != TopicBatchJobs {
		t.Errorf("topic = %q, want %q", inner.topics[0], TopicBatchJobs)
	}
}

func TestPublishAfterCloseFails(t *testing.T) {
	t.Parallel()

	inner := &capturingPublisher{}
	pub := &Publisher{publisher: inner}
	if err := pub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := pub.Publish(TopicBatchJobs, message.NewMessage("job-3", nil)); err == nil {
		t.Error("publish on closed publisher should fail")
	}
	if len(inner.messages) != 0 {
		t.Errorf("closed publisher forwarded %d messages, want 0", len(inner.messages))
	}
}
