// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

package search

import (
	"errors"
	"fmt"

	"github.com/identicore/identicore/internal/ratelimit"
)

// ErrProviderUnavailable is returned when every configured provider was
// open, unsupported, or failed for this query. It is terminal for the query
// only; other queries and providers are unaffected.
var ErrProviderUnavailable = errors.New("no provider could serve the search")

// ValidationError rejects malformed input before the limiter, cache, or any
// provider is touched.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid search input: %s", e.Reason)
}

// QuotaError is a structured rate-limit denial. It names the boundary that
// was hit and the remaining allowance, and is never retried automatically.
type QuotaError struct {
	Window    ratelimit.Window
	Reason    string
	Remaining int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exceeded (%s): %s", e.Window, e.Reason)
}
