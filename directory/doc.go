// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package directory tracks mesh membership. The gossip layer treats
// the directory as the single authority on which peers exist:
// transport connections come and go, but obligations (pending
// requests, queued sends) are only created for directory members and
// are released when the directory says a peer left.
package directory
