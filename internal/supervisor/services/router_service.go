// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

package services

import (
	"context"
	"fmt"
)

// MessageRouter matches the watermill router lifecycle used by the batch
// consumer.
type MessageRouter interface {
	Run(ctx context.Context) error
	Close() error
}

// RouterService supervises the watermill router. Run blocks until the
// context is canceled, so the wrapper only needs to translate errors and
// ensure Close on the way out.
type RouterService struct {
	router MessageRouter
}

// NewRouterService wraps a message router for supervision.
func NewRouterService(router MessageRouter) *RouterService {
	return &RouterService{router: router}
}

// Serve implements suture.Service.
func (r *RouterService) Serve(ctx context.Context) error {
	if err := r.router.Run(ctx); err != nil {
		return fmt.Errorf("message router failed: %w", err)
	}
	return ctx.Err()
}

func (r *RouterService) String() string {
	return "message-router"
}
