// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

package gossip

import "errors"

// Failure taxonomy for dissemination. None of these is fatal: every
// one resolves into a local retry, reassignment, or abandonment, and
// the dispatcher keeps serving other peers and artifacts.
var (
	// ErrNotAvailable means a peer no longer holds an artifact it
	// advertised. The requester reassigns immediately.
	ErrNotAvailable = errors.New("artifact not available from peer")

	// ErrRetryBudgetExhausted means an artifact hit its retry ceiling
	// and was abandoned. Surfaced in logs and metrics only; the
	// subnet's redundancy is expected to resupply the artifact.
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")

	// ErrCapacityExceeded means a session's send queue was full and
	// the lowest-priority pending frame was dropped.
	ErrCapacityExceeded = errors.New("send queue capacity exceeded")

	// ErrValidationFailed means delivered bytes were rejected before
	// or during store insertion. The delivery is discarded, the
	// artifact retried against a different advertiser, and the
	// offending peer reported to the misbehavior hook.
	ErrValidationFailed = errors.New("delivered artifact failed validation")
)
