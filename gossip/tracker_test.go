// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

package gossip

import (
	"testing"
	"time"

	"github.com/ledgermesh/ledgermesh/artifact"
	"github.com/ledgermesh/ledgermesh/lib/clock"
	"github.com/ledgermesh/ledgermesh/lib/config"
)

func newTestTracker(cfg config.GossipConfig) (*Tracker, *clock.FakeClock) {
	clk := clock.Fake(time.Unix(1700000000, 0))
	return NewTracker(cfg, clk), clk
}

func advertFor(i int) artifact.Advert {
	payload := []byte{byte(i)}
	return artifact.NewAdvert(artifact.KindConsensus, payload, "origin")
}

func TestTrackerAdvertLifecycle(t *testing.T) {
	tracker, _ := newTestTracker(config.DefaultGossip())
	advert := advertFor(1)

	if state := tracker.ObserveAdvert(advert, "b", FetchNow); state != StateAdvertised {
		t.Fatalf("first advert state = %v, want Advertised", state)
	}
	// Duplicate adverts from more peers are idempotent.
	tracker.ObserveAdvert(advert, "c", FetchNow)
	tracker.ObserveAdvert(advert, "b", FetchNow)
	advertisers := tracker.Advertisers(advert.ID)
	if len(advertisers) != 2 || advertisers[0] != "b" || advertisers[1] != "c" {
		t.Fatalf("advertisers = %v, want [b c] in first-seen order", advertisers)
	}

	if err := tracker.Assign(advert.ID, "b"); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	info, _ := tracker.Info(advert.ID)
	if info.State != StateRequestPending || info.Assigned != "b" || info.Attempts != 1 {
		t.Fatalf("after Assign: %+v", info)
	}

	// A second assignment while a request is outstanding must fail:
	// at most one in-flight request per artifact.
	if err := tracker.Assign(advert.ID, "c"); err == nil {
		t.Fatal("Assign succeeded while a request was outstanding")
	}

	tracker.MarkDispatched(advert.ID)
	info, _ = tracker.Info(advert.ID)
	if info.State != StateInFlight {
		t.Fatalf("after MarkDispatched state = %v, want InFlight", info.State)
	}

	already, ok := tracker.MarkDelivered(advert.ID)
	if !ok || already {
		t.Fatalf("MarkDelivered = (already=%v, ok=%v), want (false, true)", already, ok)
	}
	if already, _ := tracker.MarkDelivered(advert.ID); !already {
		t.Fatal("second MarkDelivered did not report already delivered")
	}
}

func TestTrackerDeliveredNeverRegresses(t *testing.T) {
	tracker, _ := newTestTracker(config.DefaultGossip())
	advert := advertFor(1)
	tracker.ObserveAdvert(advert, "b", FetchNow)
	tracker.MarkDelivered(advert.ID)

	// Late adverts, failures, and releases must not move the state.
	tracker.ObserveAdvert(advert, "c", FetchNow)
	tracker.Fail(advert.ID, "b", true)
	tracker.ReleasePeer("b")

	info, _ := tracker.Info(advert.ID)
	if info.State != StateDelivered {
		t.Fatalf("state regressed from Delivered to %v", info.State)
	}
}

func TestTrackerAssignRequiresAdvertiser(t *testing.T) {
	tracker, _ := newTestTracker(config.DefaultGossip())
	advert := advertFor(1)
	tracker.ObserveAdvert(advert, "b", FetchNow)

	if err := tracker.Assign(advert.ID, "c"); err == nil {
		t.Fatal("Assign accepted a peer that never advertised the artifact")
	}
}

func TestTrackerRetryCeiling(t *testing.T) {
	cfg := config.DefaultGossip()
	cfg.RetryLimit = 2
	tracker, _ := newTestTracker(cfg)
	advert := advertFor(1)
	tracker.ObserveAdvert(advert, "b", FetchNow)
	tracker.ObserveAdvert(advert, "c", FetchNow)

	// Attempt 1 fails: back to Advertised.
	if err := tracker.Assign(advert.ID, "b"); err != nil {
		t.Fatal(err)
	}
	if state := tracker.Fail(advert.ID, "b", false); state != StateAdvertised {
		t.Fatalf("after first failure state = %v, want Advertised", state)
	}

	// Attempt 2 fails: ceiling hit, Abandoned.
	if err := tracker.Assign(advert.ID, "c"); err != nil {
		t.Fatal(err)
	}
	if state := tracker.Fail(advert.ID, "c", false); state != StateAbandoned {
		t.Fatalf("after second failure state = %v, want Abandoned", state)
	}

	// Abandoned is terminal until GC.
	if state := tracker.ObserveAdvert(advert, "d", FetchNow); state != StateAbandoned {
		t.Fatalf("advert after abandonment: state = %v, want Abandoned", state)
	}
}

func TestTrackerFailDropsAdvertiser(t *testing.T) {
	tracker, _ := newTestTracker(config.DefaultGossip())
	advert := advertFor(1)
	tracker.ObserveAdvert(advert, "b", FetchNow)
	tracker.ObserveAdvert(advert, "c", FetchNow)

	tracker.Assign(advert.ID, "b")
	tracker.Fail(advert.ID, "b", true)

	advertisers := tracker.Advertisers(advert.ID)
	if len(advertisers) != 1 || advertisers[0] != "c" {
		t.Fatalf("advertisers after drop = %v, want [c]", advertisers)
	}
}

func TestTrackerStaleFailureIgnored(t *testing.T) {
	tracker, _ := newTestTracker(config.DefaultGossip())
	advert := advertFor(1)
	tracker.ObserveAdvert(advert, "b", FetchNow)
	tracker.Assign(advert.ID, "b")

	// A failure attributed to a peer that is not the assignee is
	// stale and must not disturb the outstanding request.
	if state := tracker.Fail(advert.ID, "c", false); state != StateRequestPending {
		t.Fatalf("stale failure moved state to %v", state)
	}
}

func TestTrackerReleasePeer(t *testing.T) {
	tracker, _ := newTestTracker(config.DefaultGossip())

	assigned := advertFor(1)
	tracker.ObserveAdvert(assigned, "b", FetchNow)
	tracker.ObserveAdvert(assigned, "c", FetchNow)
	tracker.Assign(assigned.ID, "b")
	tracker.MarkDispatched(assigned.ID)

	onlyAdvertised := advertFor(2)
	tracker.ObserveAdvert(onlyAdvertised, "b", FetchNow)

	requeued, abandoned := tracker.ReleasePeer("b")
	if len(requeued) != 1 || requeued[0] != assigned.ID {
		t.Fatalf("requeued = %v, want [%s]", requeued, assigned.ID.Short())
	}
	if len(abandoned) != 0 {
		t.Fatalf("abandoned = %v, want none", abandoned)
	}

	// The in-flight entry fell back to Advertised with only c left.
	info, _ := tracker.Info(assigned.ID)
	if info.State != StateAdvertised {
		t.Fatalf("released entry state = %v, want Advertised", info.State)
	}
	if advertisers := tracker.Advertisers(assigned.ID); len(advertisers) != 1 || advertisers[0] != "c" {
		t.Fatalf("advertisers = %v, want [c]", advertisers)
	}

	// The entry advertised only by b has no advertisers left and is
	// no longer fetch-eligible.
	for _, id := range tracker.PendingFetch() {
		if id == onlyAdvertised.ID {
			t.Fatal("entry with no advertisers still pending fetch")
		}
	}
}

func TestTrackerExpire(t *testing.T) {
	cfg := config.DefaultGossip()
	tracker, clk := newTestTracker(cfg)
	advert := advertFor(1)
	tracker.ObserveAdvert(advert, "b", FetchNow)
	tracker.Assign(advert.ID, "b")
	tracker.MarkDispatched(advert.ID)

	// Before the deadline, nothing expires.
	clk.Advance(cfg.RequestTimeout.Std() - time.Second)
	if timeouts := tracker.Expire(); len(timeouts) != 0 {
		t.Fatalf("premature expiry: %v", timeouts)
	}

	clk.Advance(2 * time.Second)
	timeouts := tracker.Expire()
	if len(timeouts) != 1 || timeouts[0].ID != advert.ID || timeouts[0].Peer != "b" || timeouts[0].Abandoned {
		t.Fatalf("timeouts = %+v, want one retryable timeout for b", timeouts)
	}
	info, _ := tracker.Info(advert.ID)
	if info.State != StateAdvertised {
		t.Fatalf("state after timeout = %v, want Advertised", info.State)
	}

	// The timed-out peer keeps its advertiser slot: timeouts are
	// congestion, not proof of loss.
	if advertisers := tracker.Advertisers(advert.ID); len(advertisers) != 1 {
		t.Fatalf("advertisers after timeout = %v", advertisers)
	}
}

func TestTrackerExpireHonorsKindTimeout(t *testing.T) {
	cfg := config.DefaultGossip()
	cfg.RequestTimeout = config.Duration(10 * time.Second)
	cfg.KindTimeouts = map[string]config.Duration{
		artifact.KindStateSync.String(): config.Duration(30 * time.Second),
	}
	tracker, clk := newTestTracker(cfg)

	chunk := artifact.NewAdvert(artifact.KindStateSync, []byte("chunk"), "origin")
	tracker.ObserveAdvert(chunk, "b", FetchLater)
	tracker.Assign(chunk.ID, "b")
	tracker.MarkDispatched(chunk.ID)

	clk.Advance(15 * time.Second)
	if timeouts := tracker.Expire(); len(timeouts) != 0 {
		t.Fatal("state-sync request expired before its per-kind deadline")
	}
	clk.Advance(20 * time.Second)
	if timeouts := tracker.Expire(); len(timeouts) != 1 {
		t.Fatal("state-sync request did not expire after its per-kind deadline")
	}
}

func TestTrackerPendingFetchOrder(t *testing.T) {
	tracker, clk := newTestTracker(config.DefaultGossip())

	later := advertFor(1)
	tracker.ObserveAdvert(later, "b", FetchLater)
	clk.Advance(time.Second)
	now := advertFor(2)
	tracker.ObserveAdvert(now, "b", FetchNow)
	clk.Advance(time.Second)
	stashed := advertFor(3)
	tracker.ObserveAdvert(stashed, "b", Stash)

	pending := tracker.PendingFetch()
	if len(pending) != 2 {
		t.Fatalf("pending = %d entries, want 2 (stashed excluded)", len(pending))
	}
	if pending[0] != now.ID || pending[1] != later.ID {
		t.Fatal("FetchNow entry not ordered ahead of FetchLater entry")
	}

	if ids := tracker.Stashed(); len(ids) != 1 || ids[0] != stashed.ID {
		t.Fatalf("Stashed = %v, want the stashed entry only", ids)
	}
}

func TestTrackerGC(t *testing.T) {
	cfg := config.DefaultGossip()
	cfg.EntryTTL = config.Duration(time.Minute)
	tracker, clk := newTestTracker(cfg)

	delivered := advertFor(1)
	tracker.ObserveAdvert(delivered, "b", FetchNow)
	tracker.MarkDelivered(delivered.ID)

	unconfirmed := advertFor(2)
	tracker.ObserveAdvert(unconfirmed, "b", FetchNow)

	outstanding := advertFor(3)
	tracker.ObserveAdvert(outstanding, "b", FetchNow)
	tracker.Assign(outstanding.ID, "b")
	tracker.MarkDispatched(outstanding.ID)

	clk.Advance(time.Minute)
	removed := tracker.GC()
	if removed != 2 {
		t.Fatalf("GC removed %d, want 2 (delivered and unconfirmed)", removed)
	}
	// The outstanding request is Expire's job, not GC's.
	if _, ok := tracker.Info(outstanding.ID); !ok {
		t.Fatal("GC removed an entry with an outstanding request")
	}
	if tracker.Len() != 1 {
		t.Fatalf("Len = %d, want 1", tracker.Len())
	}
}

func TestTrackerObserveLocalShortCircuits(t *testing.T) {
	tracker, _ := newTestTracker(config.DefaultGossip())
	advert := advertFor(1)

	tracker.ObserveLocal(advert)
	if state := tracker.ObserveAdvert(advert, "b", FetchNow); state != StateDelivered {
		t.Fatalf("late advert for local artifact: state = %v, want Delivered", state)
	}
	if pending := tracker.PendingFetch(); len(pending) != 0 {
		t.Fatal("locally delivered artifact became fetch-eligible")
	}
}
