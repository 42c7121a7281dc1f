// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for the gossip core so that retry
// deadlines, entry TTLs, and the periodic dissemination sweep are
// testable without wall-clock waits.
//
// [Real] returns the production implementation backed by the time
// package. [Fake] returns a deterministic clock whose time moves only
// under [FakeClock.Advance]; pending timers and tickers fire in
// deadline order as the clock crosses them.
package clock
