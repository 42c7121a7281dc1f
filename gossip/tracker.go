// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

package gossip

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ledgermesh/ledgermesh/artifact"
	"github.com/ledgermesh/ledgermesh/lib/clock"
	"github.com/ledgermesh/ledgermesh/lib/config"
	"github.com/ledgermesh/ledgermesh/peer"
)

// State is an artifact's dissemination state.
type State int

const (
	// StateAdvertised means at least one peer advertised the artifact
	// (or it is stashed awaiting load relief) and no request is
	// outstanding.
	StateAdvertised State = iota + 1

	// StateRequestPending means a peer has been chosen and admitted
	// into its request budget, but the request frame has not been
	// dispatched yet.
	StateRequestPending

	// StateInFlight means the request frame was handed to the peer
	// session. At most one artifact request is in flight system-wide
	// per artifact.
	StateInFlight

	// StateDelivered means the artifact passed validation and store
	// insertion. Terminal; no transition ever leaves Delivered.
	StateDelivered

	// StateAbandoned means the retry ceiling was hit. Terminal until
	// the entry ages out; the subnet's redundancy resupplies the
	// artifact if it still matters.
	StateAbandoned
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case StateAdvertised:
		return "advertised"
	case StateRequestPending:
		return "request_pending"
	case StateInFlight:
		return "in_flight"
	case StateDelivered:
		return "delivered"
	case StateAbandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// terminal reports whether the state admits no further transitions.
func (s State) terminal() bool {
	return s == StateDelivered || s == StateAbandoned
}

// EntryInfo is a point-in-time snapshot of one tracker entry.
type EntryInfo struct {
	ID          artifact.ID
	Kind        artifact.Kind
	Size        uint64
	Integrity   artifact.Digest
	State       State
	Verdict     Verdict
	Assigned    peer.ID
	Attempts    int
	LastAttempt time.Time
}

// Timeout reports one request that exceeded its deadline during a
// sweep.
type Timeout struct {
	ID        artifact.ID
	Peer      peer.ID
	Abandoned bool
}

// trackerEntry is the per-artifact state machine. Guarded by its own
// mutex; the tracker's map lock is held only to find or remove
// entries, so contention stays artifact-local.
type trackerEntry struct {
	mu sync.Mutex

	id        artifact.ID
	kind      artifact.Kind
	size      uint64
	integrity artifact.Digest

	state   State
	verdict Verdict

	advertisers []peer.ID // first-seen order, the assignment tie-break
	advertised  map[peer.ID]bool

	assigned    peer.ID
	attempts    int
	firstSeen   time.Time
	lastAttempt time.Time
	resolvedAt  time.Time
}

// Tracker holds the dissemination state machine for every artifact the
// replica currently knows about. Safe for concurrent use.
type Tracker struct {
	cfg config.GossipConfig
	clk clock.Clock

	mu      sync.RWMutex
	entries map[artifact.ID]*trackerEntry
}

// NewTracker creates an empty tracker with the given policy.
func NewTracker(cfg config.GossipConfig, clk clock.Clock) *Tracker {
	return &Tracker{
		cfg:     cfg,
		clk:     clk,
		entries: make(map[artifact.ID]*trackerEntry),
	}
}

// lookup returns the entry, or nil.
func (t *Tracker) lookup(id artifact.ID) *trackerEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[id]
}

// getOrCreate returns the entry, creating it in the given initial
// state on first sight.
func (t *Tracker) getOrCreate(advert artifact.Advert, initial State, verdict Verdict) *trackerEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.entries[advert.ID]; ok {
		return entry
	}
	entry := &trackerEntry{
		id:         advert.ID,
		kind:       advert.Kind,
		size:       advert.Size,
		integrity:  advert.Integrity,
		state:      initial,
		verdict:    verdict,
		advertised: make(map[peer.ID]bool),
		firstSeen:  t.clk.Now(),
	}
	if initial.terminal() {
		entry.resolvedAt = entry.firstSeen
	}
	t.entries[advert.ID] = entry
	return entry
}

// ObserveAdvert records an advert from a peer and returns the
// artifact's state afterward. Duplicate adverts from any number of
// peers are idempotent; an advert for a Delivered artifact
// short-circuits without disturbing the terminal state.
func (t *Tracker) ObserveAdvert(advert artifact.Advert, from peer.ID, verdict Verdict) State {
	entry := t.getOrCreate(advert, StateAdvertised, verdict)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if !entry.advertised[from] && !entry.state.terminal() {
		entry.advertised[from] = true
		entry.advertisers = append(entry.advertisers, from)
	}
	return entry.state
}

// ObserveLocal records a locally produced artifact as already
// delivered, so late-arriving adverts for it short-circuit instead of
// generating requests.
func (t *Tracker) ObserveLocal(advert artifact.Advert) {
	entry := t.getOrCreate(advert, StateDelivered, FetchNow)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if !entry.state.terminal() {
		entry.state = StateDelivered
		entry.resolvedAt = t.clk.Now()
	}
}

// MarkDelivered moves the artifact to Delivered. Idempotent: the
// first return reports whether it was already delivered, so racing
// delivery paths both observe Delivered but only one proceeds with
// re-advertisement. Returns ok=false for unknown artifacts.
func (t *Tracker) MarkDelivered(id artifact.ID) (already, ok bool) {
	entry := t.lookup(id)
	if entry == nil {
		return false, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.state == StateDelivered {
		return true, true
	}
	entry.state = StateDelivered
	entry.assigned = ""
	entry.resolvedAt = t.clk.Now()
	return false, true
}

// Info snapshots an entry.
func (t *Tracker) Info(id artifact.ID) (EntryInfo, bool) {
	entry := t.lookup(id)
	if entry == nil {
		return EntryInfo{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.snapshot(), true
}

func (e *trackerEntry) snapshot() EntryInfo {
	return EntryInfo{
		ID:          e.id,
		Kind:        e.kind,
		Size:        e.size,
		Integrity:   e.integrity,
		State:       e.state,
		Verdict:     e.verdict,
		Assigned:    e.assigned,
		Attempts:    e.attempts,
		LastAttempt: e.lastAttempt,
	}
}

// Advertisers returns the peers that advertised the artifact, in
// first-seen order.
func (t *Tracker) Advertisers(id artifact.ID) []peer.ID {
	entry := t.lookup(id)
	if entry == nil {
		return nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	advertisers := make([]peer.ID, len(entry.advertisers))
	copy(advertisers, entry.advertisers)
	return advertisers
}

// SetVerdict updates the stored verdict after a reclassification.
func (t *Tracker) SetVerdict(id artifact.ID, verdict Verdict) {
	entry := t.lookup(id)
	if entry == nil {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.verdict = verdict
}

// Assign moves Advertised -> RequestPending(p) and counts the attempt.
// Fails if the artifact is in any other state or p never advertised
// it, preserving the invariants that at most one request is
// outstanding per artifact and a peer is only asked for artifacts it
// advertised.
func (t *Tracker) Assign(id artifact.ID, p peer.ID) error {
	entry := t.lookup(id)
	if entry == nil {
		return fmt.Errorf("assign %s: unknown artifact", id.Short())
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.state != StateAdvertised {
		return fmt.Errorf("assign %s: state is %s", id.Short(), entry.state)
	}
	if !entry.advertised[p] {
		return fmt.Errorf("assign %s: peer %s never advertised it", id.Short(), p)
	}
	entry.state = StateRequestPending
	entry.assigned = p
	entry.attempts++
	entry.lastAttempt = t.clk.Now()
	return nil
}

// MarkDispatched moves RequestPending -> InFlight once the request
// frame is handed to the session. A no-op in any other state (the
// artifact may have been delivered in between).
func (t *Tracker) MarkDispatched(id artifact.ID) {
	entry := t.lookup(id)
	if entry == nil {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.state == StateRequestPending {
		entry.state = StateInFlight
	}
}

// Fail records a failed attempt against the assigned peer: the
// request timed out, the peer answered "not available", disconnected,
// or delivered bytes that failed validation. The entry returns to
// Advertised for reassignment, or to Abandoned once the retry ceiling
// is hit. dropAdvertiser removes the peer from the advertiser set so
// reassignment must pick a different peer.
//
// A no-op unless the entry is currently assigned to p, so a stale
// failure (e.g. a timeout racing a delivery) never regresses state.
func (t *Tracker) Fail(id artifact.ID, p peer.ID, dropAdvertiser bool) State {
	entry := t.lookup(id)
	if entry == nil {
		return 0
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.assigned != p || (entry.state != StateRequestPending && entry.state != StateInFlight) {
		return entry.state
	}
	entry.failLocked(dropAdvertiser, t.cfg.RetryLimit, t.clk.Now())
	return entry.state
}

func (e *trackerEntry) failLocked(dropAdvertiser bool, retryLimit int, now time.Time) {
	if dropAdvertiser {
		e.removeAdvertiserLocked(e.assigned)
	}
	e.assigned = ""
	if e.attempts >= retryLimit {
		e.state = StateAbandoned
		e.resolvedAt = now
		return
	}
	e.state = StateAdvertised
}

func (e *trackerEntry) removeAdvertiserLocked(p peer.ID) {
	if !e.advertised[p] {
		return
	}
	delete(e.advertised, p)
	for i, advertiser := range e.advertisers {
		if advertiser == p {
			e.advertisers = append(e.advertisers[:i], e.advertisers[i+1:]...)
			break
		}
	}
}

// ReleasePeer cancels every obligation attributed to a disconnected
// peer: it is removed from all advertiser sets, and entries assigned
// to it fail over. Returns the artifacts returned to Advertised (for
// immediate reassignment) and those abandoned at the retry ceiling.
func (t *Tracker) ReleasePeer(p peer.ID) (requeued, abandoned []artifact.ID) {
	now := t.clk.Now()
	for _, entry := range t.all() {
		entry.mu.Lock()
		wasAssigned := entry.assigned == p &&
			(entry.state == StateRequestPending || entry.state == StateInFlight)
		entry.removeAdvertiserLocked(p)
		if wasAssigned {
			entry.assigned = "" // already removed as advertiser above
			if entry.attempts >= t.cfg.RetryLimit {
				entry.state = StateAbandoned
				entry.resolvedAt = now
				abandoned = append(abandoned, entry.id)
			} else {
				entry.state = StateAdvertised
				requeued = append(requeued, entry.id)
			}
		}
		entry.mu.Unlock()
	}
	return requeued, abandoned
}

// Expire fails every outstanding request past its per-kind deadline.
// The timed-out peer stays in the advertiser set (timeouts are often
// congestion, not loss), so reassignment may legitimately retry it.
func (t *Tracker) Expire() []Timeout {
	now := t.clk.Now()
	var timeouts []Timeout
	for _, entry := range t.all() {
		entry.mu.Lock()
		outstanding := entry.state == StateRequestPending || entry.state == StateInFlight
		if outstanding && now.Sub(entry.lastAttempt) >= t.cfg.TimeoutFor(entry.kind) {
			timedOutPeer := entry.assigned
			entry.failLocked(false, t.cfg.RetryLimit, now)
			timeouts = append(timeouts, Timeout{
				ID:        entry.id,
				Peer:      timedOutPeer,
				Abandoned: entry.state == StateAbandoned,
			})
		}
		entry.mu.Unlock()
	}
	return timeouts
}

// PendingFetch returns the artifacts eligible for a request right
// now: Advertised, fetchable verdict, at least one advertiser.
// Ordered FetchNow before FetchLater, then by first-seen time, so the
// sweep dispatches in priority order when budgets free up.
func (t *Tracker) PendingFetch() []artifact.ID {
	type candidate struct {
		id        artifact.ID
		verdict   Verdict
		firstSeen time.Time
	}
	var candidates []candidate
	for _, entry := range t.all() {
		entry.mu.Lock()
		if entry.state == StateAdvertised && entry.verdict.Fetchable() && len(entry.advertisers) > 0 {
			candidates = append(candidates, candidate{entry.id, entry.verdict, entry.firstSeen})
		}
		entry.mu.Unlock()
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].verdict != candidates[j].verdict {
			return candidates[i].verdict > candidates[j].verdict
		}
		if !candidates[i].firstSeen.Equal(candidates[j].firstSeen) {
			return candidates[i].firstSeen.Before(candidates[j].firstSeen)
		}
		return bytes.Compare(candidates[i].id[:], candidates[j].id[:]) < 0
	})
	ids := make([]artifact.ID, len(candidates))
	for i, c := range candidates {
		ids[i] = c.id
	}
	return ids
}

// DeliveredEntries snapshots every Delivered entry still within its
// retention window, for the periodic re-advertisement sweep. The
// per-session recency windows keep the sweep from re-sending to peers
// that already have the artifact.
func (t *Tracker) DeliveredEntries() []EntryInfo {
	var infos []EntryInfo
	for _, entry := range t.all() {
		entry.mu.Lock()
		if entry.state == StateDelivered {
			infos = append(infos, entry.snapshot())
		}
		entry.mu.Unlock()
	}
	return infos
}

// Stashed returns the artifacts currently held back by a Stash
// verdict, for reclassification when the load context changes.
func (t *Tracker) Stashed() []artifact.ID {
	var ids []artifact.ID
	for _, entry := range t.all() {
		entry.mu.Lock()
		if entry.state == StateAdvertised && entry.verdict == Stash {
			ids = append(ids, entry.id)
		}
		entry.mu.Unlock()
	}
	return ids
}

// GC removes entries past the TTL: resolved entries once their
// duplicate-suppression window lapses, and unconfirmed entries that
// never resolved (e.g. advertised only by a peer that vanished).
// Entries with an outstanding request are left for Expire. Returns
// the number removed.
func (t *Tracker) GC() int {
	now := t.clk.Now()
	ttl := t.cfg.EntryTTL.Std()

	var victims []artifact.ID
	for _, entry := range t.all() {
		entry.mu.Lock()
		switch entry.state {
		case StateDelivered, StateAbandoned:
			if now.Sub(entry.resolvedAt) >= ttl {
				victims = append(victims, entry.id)
			}
		case StateAdvertised:
			if now.Sub(entry.firstSeen) >= ttl {
				victims = append(victims, entry.id)
			}
		}
		entry.mu.Unlock()
	}
	if len(victims) == 0 {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for _, id := range victims {
		if _, ok := t.entries[id]; ok {
			delete(t.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked artifacts.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// all snapshots the entry pointers so iteration never holds the map
// lock while taking entry locks.
func (t *Tracker) all() []*trackerEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entries := make([]*trackerEntry, 0, len(t.entries))
	for _, entry := range t.entries {
		entries = append(entries, entry)
	}
	return entries
}
