// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

package gossip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ledgermesh/ledgermesh/artifact"
	"github.com/ledgermesh/ledgermesh/directory"
	"github.com/ledgermesh/ledgermesh/lib/clock"
	"github.com/ledgermesh/ledgermesh/lib/config"
	"github.com/ledgermesh/ledgermesh/peer"
	"github.com/ledgermesh/ledgermesh/store"
	"github.com/ledgermesh/ledgermesh/transport"
)

// Options configures a Dispatcher. Classifier and Misbehavior are
// optional; everything else is required.
type Options struct {
	Config    config.GossipConfig
	Store     store.Store
	Transport transport.Transport
	Directory directory.Directory
	Clock     clock.Clock
	Logger    *slog.Logger
	Metrics   *Metrics

	// Classifier overrides the standard priority policy. Defaults to
	// NewClassifier(Config).
	Classifier Classifier

	// Misbehavior is invoked when a peer sends malformed frames or
	// payloads that fail validation. The external reputation layer
	// hangs off this hook; the dispatcher itself only retries
	// elsewhere.
	Misbehavior func(peer.ID, error)
}

// producedEvent is a local artifact-production notification.
type producedEvent struct {
	id   artifact.ID
	kind artifact.Kind
	size uint64
}

// depthEvent is a consumer queue depth report.
type depthEvent struct {
	kind  artifact.Kind
	depth int
}

// Dispatcher is the coordination point of the gossip layer. A single
// event loop turns local artifact production, inbound frames,
// membership changes, and timer sweeps into advert tracker and peer
// session transitions. The loop itself never blocks on peer I/O:
// sends go through the per-session queues, so a slow peer degrades
// only its own session.
type Dispatcher struct {
	self        peer.ID
	cfg         config.GossipConfig
	store       store.Store
	transport   transport.Transport
	dir         directory.Directory
	clk         clock.Clock
	logger      *slog.Logger
	metrics     *Metrics
	classify    Classifier
	misbehavior func(peer.ID, error)

	tracker *Tracker

	// Loop-owned state, touched only by the Run goroutine.
	sessions   map[peer.ID]*session
	members    map[peer.ID]bool
	queueDepth map[artifact.Kind]int

	produced chan producedEvent
	depths   chan depthEvent
	done     chan struct{}
}

// New creates a dispatcher. Call Run to start it.
func New(opts Options) (*Dispatcher, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("gossip: Options.Store is required")
	case opts.Transport == nil:
		return nil, errors.New("gossip: Options.Transport is required")
	case opts.Directory == nil:
		return nil, errors.New("gossip: Options.Directory is required")
	case opts.Clock == nil:
		return nil, errors.New("gossip: Options.Clock is required")
	case opts.Logger == nil:
		return nil, errors.New("gossip: Options.Logger is required")
	case opts.Metrics == nil:
		return nil, errors.New("gossip: Options.Metrics is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("gossip: %w", err)
	}

	classify := opts.Classifier
	if classify == nil {
		classify = NewClassifier(opts.Config)
	}
	misbehavior := opts.Misbehavior
	if misbehavior == nil {
		misbehavior = func(peer.ID, error) {}
	}

	return &Dispatcher{
		self:        opts.Transport.Self(),
		cfg:         opts.Config,
		store:       opts.Store,
		transport:   opts.Transport,
		dir:         opts.Directory,
		clk:         opts.Clock,
		logger:      opts.Logger.With("component", "gossip"),
		metrics:     opts.Metrics,
		classify:    classify,
		misbehavior: misbehavior,
		tracker:     NewTracker(opts.Config, opts.Clock),
		sessions:    make(map[peer.ID]*session),
		members:     make(map[peer.ID]bool),
		queueDepth:  make(map[artifact.Kind]int),
		produced:    make(chan producedEvent, 256),
		depths:      make(chan depthEvent, 16),
		done:        make(chan struct{}),
	}, nil
}

// ArtifactProduced notifies the dispatcher that a new artifact exists
// in the local store, to be advertised to the subnet. The producer
// inserts into the store first, then calls this.
func (d *Dispatcher) ArtifactProduced(ctx context.Context, id artifact.ID, kind artifact.Kind, size uint64) error {
	select {
	case d.produced <- producedEvent{id: id, kind: kind, size: size}:
		return nil
	case <-d.done:
		return errors.New("gossip: dispatcher stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetQueueDepth reports the local consumer queue depth for a kind.
// Crossing the stash threshold downward promotes stashed adverts back
// to fetchable on the next reclassification.
func (d *Dispatcher) SetQueueDepth(ctx context.Context, kind artifact.Kind, depth int) error {
	select {
	case d.depths <- depthEvent{kind: kind, depth: depth}:
		return nil
	case <-d.done:
		return errors.New("gossip: dispatcher stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes the event loop until ctx is cancelled. Shutdown closes
// every session; queued sends are dropped, since per-link delivery is
// best-effort and subnet replication provides the reliability.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)

	for _, p := range d.dir.Peers() {
		d.members[p] = true
	}
	membership := d.dir.Watch(ctx)

	sweep := d.clk.NewTicker(d.cfg.SweepInterval.Std())
	defer sweep.Stop()

	d.logger.Info("gossip dispatcher running",
		"self", d.self,
		"members", len(d.members),
		"sweep_interval", d.cfg.SweepInterval.Std())

	for {
		select {
		case event, ok := <-d.transport.Events():
			if !ok {
				d.shutdown()
				return errors.New("gossip: transport closed")
			}
			d.handleTransportEvent(event)

		case event := <-d.produced:
			d.handleProduced(event)

		case event := <-d.depths:
			d.queueDepth[event.kind] = event.depth
			d.reclassifyStashed()

		case event, ok := <-membership:
			if ok {
				d.handleMembership(event)
			}

		case <-sweep.C:
			d.sweep()

		case <-ctx.Done():
			d.shutdown()
			return nil
		}
	}
}

func (d *Dispatcher) shutdown() {
	for _, s := range d.sessions {
		s.close()
	}
	d.sessions = make(map[peer.ID]*session)
	d.logger.Info("gossip dispatcher stopped")
}

func (d *Dispatcher) handleTransportEvent(event transport.Event) {
	switch event.Type {
	case transport.PeerConnected:
		d.handleConnect(event.Peer)
	case transport.PeerDisconnected:
		d.handleDisconnect(event.Peer)
	case transport.FrameReceived:
		d.handleFrame(event.Peer, event.Frame)
	}
}

func (d *Dispatcher) handleConnect(p peer.ID) {
	if !d.members[p] {
		d.logger.Warn("connection from non-member peer ignored", "peer", p)
		return
	}
	if _, ok := d.sessions[p]; ok {
		return
	}
	d.sessions[p] = newSession(p, d.transport, d.cfg, d.logger, d.metrics)
	d.logger.Info("peer session opened", "peer", p)
}

// handleDisconnect tears down the session and releases every
// obligation attributed to the peer. Requests it was serving fail
// over to other advertisers immediately.
func (d *Dispatcher) handleDisconnect(p peer.ID) {
	s, ok := d.sessions[p]
	if !ok {
		return
	}
	s.close()
	delete(d.sessions, p)

	requeued, abandoned := d.tracker.ReleasePeer(p)
	d.metrics.InFlight.Sub(float64(len(requeued) + len(abandoned)))
	d.logger.Info("peer session closed",
		"peer", p,
		"requeued", len(requeued),
		"abandoned", len(abandoned))

	for _, id := range abandoned {
		d.metrics.Abandoned.Inc()
		d.logger.Warn("artifact abandoned", "artifact", id.Short(), "error", ErrRetryBudgetExhausted)
	}
	for _, id := range requeued {
		d.metrics.Retries.Inc()
		d.maybeRequest(id)
	}
}

func (d *Dispatcher) handleMembership(event directory.Event) {
	switch event.Type {
	case directory.PeerJoined:
		d.members[event.Peer] = true
	case directory.PeerLeft:
		delete(d.members, event.Peer)
		// Membership removal outranks connection liveness.
		d.handleDisconnect(event.Peer)
	}
}

func (d *Dispatcher) handleFrame(p peer.ID, raw []byte) {
	s, ok := d.sessions[p]
	if !ok {
		return
	}
	frame, err := DecodeFrame(raw)
	if err != nil {
		d.logger.Warn("malformed frame", "peer", p, "error", err)
		d.misbehavior(p, err)
		return
	}
	switch frame.Type {
	case FrameAdvert:
		d.handleAdvert(s, *frame.Advert)
	case FrameRequest:
		d.handleRequest(s, frame.ID)
	case FramePayload:
		d.handlePayload(s, frame.ID, frame.Kind, frame.Payload)
	case FrameNotAvailable:
		d.handleNotAvailable(s, frame.ID)
	}
}

func (d *Dispatcher) handleAdvert(s *session, advert artifact.Advert) {
	d.metrics.AdvertsReceived.WithLabelValues(advert.Kind.String()).Inc()

	// The advertiser evidently has the artifact; never flood it back.
	s.markSent(advert.ID)

	if d.store.Has(advert.ID) {
		// Already held (e.g. self-produced before the advert
		// arrived). Record Delivered so duplicates keep
		// short-circuiting.
		d.tracker.ObserveLocal(advert)
		return
	}

	verdict := d.classify(advert.Kind, advert.Size, d.loadContext())
	if verdict == Drop {
		return
	}

	state := d.tracker.ObserveAdvert(advert, s.peer, verdict)
	if state != StateAdvertised {
		return
	}
	d.tracker.SetVerdict(advert.ID, verdict)
	if verdict.Fetchable() {
		d.maybeRequest(advert.ID)
	}
}

// handleRequest serves an artifact from the store, or answers
// "not available" explicitly so the requester reassigns immediately
// instead of waiting out its timeout.
func (d *Dispatcher) handleRequest(s *session, id artifact.ID) {
	d.metrics.RequestsReceived.Inc()

	payload, ok := d.store.Get(id)
	if !ok {
		reply, err := NotAvailableFrame(id).Encode()
		if err == nil {
			s.enqueue(classControl, reply)
		}
		d.metrics.NotAvailable.Inc()
		return
	}
	kind, _ := d.store.Kind(id)

	frame, err := PayloadFrame(id, kind, payload).Encode()
	if err != nil {
		d.logger.Error("encoding payload frame", "artifact", id.Short(), "error", err)
		return
	}
	if s.enqueue(classBulk, frame) == nil {
		s.markSent(id)
		d.metrics.PayloadsSent.WithLabelValues(kind.String()).Inc()
	}
}

func (d *Dispatcher) handlePayload(s *session, id artifact.ID, kind artifact.Kind, payload []byte) {
	info, tracked := d.tracker.Info(id)
	solicited := tracked && info.Assigned == s.peer &&
		(info.State == StateRequestPending || info.State == StateInFlight)
	if solicited {
		s.releaseInFlight()
		d.metrics.InFlight.Dec()
	}

	if d.store.Has(id) {
		// Raced with another delivery path; both observe Delivered.
		d.tracker.MarkDelivered(id)
		return
	}

	// Integrity before insertion: the bytes must match the advertised
	// digest, then hash to the ID and pass external validation inside
	// Put.
	if tracked && info.Integrity != (artifact.Digest{}) && !artifact.VerifyIntegrity(payload, info.Integrity) {
		d.rejectDelivery(s, id, fmt.Errorf("%w: integrity digest mismatch", ErrValidationFailed))
		return
	}
	if _, err := d.store.Put(id, kind, payload); err != nil {
		if errors.Is(err, store.ErrValidation) {
			err = fmt.Errorf("%w: %v", ErrValidationFailed, err)
		}
		d.rejectDelivery(s, id, err)
		return
	}

	if solicited {
		s.recordDelivery(len(payload), d.clk.Now().Sub(info.LastAttempt))
	}
	already, known := d.tracker.MarkDelivered(id)
	if !known {
		// Unsolicited but valid payload; track it so later adverts
		// short-circuit.
		d.tracker.ObserveLocal(artifact.Advert{
			ID:        id,
			Kind:      kind,
			Size:      uint64(len(payload)),
			Integrity: artifact.IntegrityDigest(payload),
			Origin:    s.peer,
		})
	}

	d.metrics.PayloadsReceived.WithLabelValues(kind.String()).Inc()
	d.metrics.PayloadBytes.Observe(float64(len(payload)))
	d.logger.Debug("artifact delivered",
		"artifact", id.Short(),
		"kind", kind,
		"bytes", len(payload),
		"peer", s.peer)

	if !already {
		// Flood: re-advertise to everyone except the source, guarded
		// per session by the recency window.
		d.broadcastAdvert(artifact.Advert{
			ID:        id,
			Kind:      kind,
			Size:      uint64(len(payload)),
			Integrity: artifact.IntegrityDigest(payload),
			Origin:    d.self,
		}, s.peer, classReadvert)
	}

	// A budget slot freed up; dispatch deferred requests.
	d.dispatchPending()
}

// rejectDelivery discards a failed delivery, reports the peer, and
// retries the artifact against a different advertiser.
func (d *Dispatcher) rejectDelivery(s *session, id artifact.ID, cause error) {
	d.metrics.ValidationFails.Inc()
	d.logger.Warn("delivery rejected", "artifact", id.Short(), "peer", s.peer, "error", cause)
	d.misbehavior(s.peer, cause)

	state := d.tracker.Fail(id, s.peer, true)
	d.afterFailure(id, state)
}

func (d *Dispatcher) handleNotAvailable(s *session, id artifact.ID) {
	info, ok := d.tracker.Info(id)
	if !ok || info.Assigned != s.peer {
		return
	}
	if info.State == StateRequestPending || info.State == StateInFlight {
		s.releaseInFlight()
		d.metrics.InFlight.Dec()
	}
	d.logger.Debug("request refused",
		"artifact", id.Short(),
		"peer", s.peer,
		"error", ErrNotAvailable)

	// The advertiser evicted it; reassignment must pick someone else.
	state := d.tracker.Fail(id, s.peer, true)
	d.afterFailure(id, state)
}

// afterFailure finishes a failed attempt: count it, and either
// reassign or record the abandonment.
func (d *Dispatcher) afterFailure(id artifact.ID, state State) {
	switch state {
	case StateAbandoned:
		d.metrics.Abandoned.Inc()
		d.logger.Warn("artifact abandoned", "artifact", id.Short(), "error", ErrRetryBudgetExhausted)
	case StateAdvertised:
		d.metrics.Retries.Inc()
		d.maybeRequest(id)
	}
}

func (d *Dispatcher) handleProduced(event producedEvent) {
	payload, ok := d.store.Get(event.id)
	if !ok {
		d.logger.Warn("produced artifact missing from store", "artifact", event.id.Short())
		return
	}
	advert := artifact.Advert{
		ID:        event.id,
		Kind:      event.kind,
		Size:      event.size,
		Integrity: artifact.IntegrityDigest(payload),
		Origin:    d.self,
	}
	d.tracker.ObserveLocal(advert)
	d.broadcastAdvert(advert, "", classControl)
}

// broadcastAdvert floods an advert to every session except the given
// peer, skipping peers that already received (or sent us) the
// artifact within their recency window.
func (d *Dispatcher) broadcastAdvert(advert artifact.Advert, except peer.ID, class sendClass) {
	frame, err := AdvertFrame(advert).Encode()
	if err != nil {
		d.logger.Error("encoding advert frame", "artifact", advert.ID.Short(), "error", err)
		return
	}
	for _, s := range d.sessions {
		if s.peer == except || s.recentlySent(advert.ID) {
			continue
		}
		if s.enqueue(class, frame) == nil {
			s.markSent(advert.ID)
			d.metrics.AdvertsSent.WithLabelValues(advert.Kind.String()).Inc()
		}
	}
}

// maybeRequest tries to move an Advertised artifact into a request
// against the best advertiser with budget: highest throughput
// estimate first, earliest advertiser on ties. With every advertiser
// budget-exhausted or disconnected, the artifact stays Advertised and
// the next completion or sweep retries.
func (d *Dispatcher) maybeRequest(id artifact.ID) {
	info, ok := d.tracker.Info(id)
	if !ok || info.State != StateAdvertised || !info.Verdict.Fetchable() {
		return
	}
	if d.store.Has(id) {
		d.tracker.MarkDelivered(id)
		return
	}

	var chosen *session
	var chosenThroughput float64
	for _, p := range d.tracker.Advertisers(id) {
		s, connected := d.sessions[p]
		if !connected || s.inFlightCount() >= d.cfg.InFlightBudget {
			continue
		}
		estimate := s.throughputEstimate()
		if chosen == nil || estimate > chosenThroughput {
			chosen = s
			chosenThroughput = estimate
		}
	}
	if chosen == nil {
		return
	}

	if err := d.tracker.Assign(id, chosen.peer); err != nil {
		d.logger.Debug("assignment refused", "artifact", id.Short(), "error", err)
		return
	}
	// The reservation is the authoritative budget gate; the
	// inFlightCount filter above is only a pre-screen.
	if !chosen.reserveInFlight() {
		d.afterFailure(id, d.tracker.Fail(id, chosen.peer, false))
		return
	}

	frame, err := RequestFrame(id).Encode()
	if err != nil {
		d.logger.Error("encoding request frame", "artifact", id.Short(), "error", err)
		chosen.releaseInFlight()
		d.afterFailure(id, d.tracker.Fail(id, chosen.peer, false))
		return
	}
	class := classControl
	if info.Verdict == FetchLater {
		class = classReadvert
	}
	if err := chosen.enqueue(class, frame); err != nil {
		// The request never left. Count the attempt and reassign now;
		// at the retry ceiling this is where the abandonment lands.
		chosen.releaseInFlight()
		d.afterFailure(id, d.tracker.Fail(id, chosen.peer, false))
		return
	}

	d.tracker.MarkDispatched(id)
	d.metrics.RequestsSent.Inc()
	d.metrics.InFlight.Inc()
}

// reclassifyStashed re-runs the classifier over stashed adverts after
// a load change, promoting the ones the new context allows.
func (d *Dispatcher) reclassifyStashed() {
	for _, id := range d.tracker.Stashed() {
		info, ok := d.tracker.Info(id)
		if !ok {
			continue
		}
		verdict := d.classify(info.Kind, info.Size, d.loadContext())
		if verdict == info.Verdict {
			continue
		}
		d.tracker.SetVerdict(id, verdict)
		if verdict.Fetchable() {
			d.maybeRequest(id)
		}
	}
}

// sweep is the periodic pass: expire overdue requests, re-evaluate
// stashed adverts, dispatch deferred fetches, and collect garbage.
func (d *Dispatcher) sweep() {
	for _, timeout := range d.tracker.Expire() {
		if s, ok := d.sessions[timeout.Peer]; ok {
			s.releaseInFlight()
		}
		d.metrics.InFlight.Dec()
		if timeout.Abandoned {
			d.metrics.Abandoned.Inc()
			d.logger.Warn("artifact abandoned",
				"artifact", timeout.ID.Short(),
				"error", ErrRetryBudgetExhausted)
			continue
		}
		d.metrics.Retries.Inc()
		d.logger.Debug("request timed out",
			"artifact", timeout.ID.Short(),
			"peer", timeout.Peer)
	}

	d.reclassifyStashed()
	d.dispatchPending()
	d.readvertiseDelivered()

	if removed := d.tracker.GC(); removed > 0 {
		d.logger.Debug("tracker entries collected", "count", removed)
	}
	d.metrics.TrackedArtifacts.Set(float64(d.tracker.Len()))
}

// readvertiseDelivered re-floods adverts for delivered artifacts
// still in the tracker. For peers that already have them this is a
// no-op through the recency windows; peers that connected after the
// original flood catch up here.
func (d *Dispatcher) readvertiseDelivered() {
	for _, info := range d.tracker.DeliveredEntries() {
		if !d.store.Has(info.ID) {
			continue // evicted since delivery
		}
		d.broadcastAdvert(artifact.Advert{
			ID:        info.ID,
			Kind:      info.Kind,
			Size:      info.Size,
			Integrity: info.Integrity,
			Origin:    d.self,
		}, "", classReadvert)
	}
}

// dispatchPending walks the fetch-eligible artifacts in priority
// order and requests as many as budgets allow.
func (d *Dispatcher) dispatchPending() {
	for _, id := range d.tracker.PendingFetch() {
		d.maybeRequest(id)
	}
}

func (d *Dispatcher) loadContext() LoadContext {
	return LoadContext{QueueDepth: d.queueDepth}
}
