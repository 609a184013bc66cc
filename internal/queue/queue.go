// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

// Package queue provides the JetStream transport between the API process,
// which enqueues batch jobs, and the worker process, which consumes them.
//
// The transport carries the full job payload: the job row in the store holds
// lifecycle state and counters, while the message holds the inputs to
// process. A redelivered message is harmless because the worker checks the
// job's status before doing any work.
package queue

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
)

const (
	// TopicBatchJobs is the subject batch job messages are published to.
	TopicBatchJobs = "batch.jobs"

	// TopicBatchPoison receives messages that exhausted handler retries.
	TopicBatchPoison = "batch.poison"
)

// JobMessage is the queue payload for one batch job. Inputs are carried raw;
// the worker classifies each one as part of the per-item pipeline, so a
// malformed input becomes a per-item error rather than a poisoned message.
type JobMessage struct {
	JobID          string   `json:"job_id"`
	UserID         string   `json:"user_id"`
	Inputs         []string `json:"inputs"`
	MaxConcurrency int      `json:"max_concurrency"`
}

// Marshal encodes the job into a watermill message. The message UUID is the
// job id, so JetStream message-id deduplication collapses duplicate
// publishes of the same job.
func (m *JobMessage) Marshal() (*message.Message, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode job message: %w", err)
	}
	return message.NewMessage(m.JobID, payload), nil
}

// UnmarshalJobMessage decodes a queue message back into a job.
func UnmarshalJobMessage(msg *message.Message) (*JobMessage, error) {
	var jm JobMessage
	if err := json.Unmarshal(msg.Payload, &jm); err != nil {
		return nil, fmt.Errorf("decode job message %s: %w", msg.UUID, err)
	}
	if jm.JobID == "" {
		return nil, fmt.Errorf("job message %s has no job id", msg.UUID)
	}
	return &jm, nil
}
