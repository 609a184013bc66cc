// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

package dedup

import "errors"

// errUnexpectedResultType indicates a producer returned a value of the wrong
// dynamic type through the singleflight group.
var errUnexpectedResultType = errors.New("dedup: unexpected result type")
