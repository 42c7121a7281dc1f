// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

package gossip

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ledgermesh/ledgermesh/artifact"
	"github.com/ledgermesh/ledgermesh/lib/config"
	"github.com/ledgermesh/ledgermesh/peer"
	"github.com/ledgermesh/ledgermesh/transport"
)

// sendClass orders a session's outbound queue. Lower value drains
// first.
type sendClass int

const (
	// classControl carries urgent frames: FetchNow requests, fresh
	// adverts, and not-available replies.
	classControl sendClass = iota

	// classReadvert carries FetchLater requests and re-advertisements
	// of artifacts received from other peers.
	classReadvert

	// classBulk carries artifact payloads.
	classBulk

	numSendClasses
)

// throughputDecay is the EWMA weight kept from the previous estimate
// when a new delivery sample arrives.
const throughputDecay = 0.8

// session is this replica's view of one connected peer. It owns the
// peer's bounded priority send queue (drained by a dedicated
// goroutine, so one slow peer never stalls the dispatcher), the
// in-flight request budget, the "already sent" recency window, and a
// throughput estimate used for advertiser selection.
type session struct {
	peer      peer.ID
	transport transport.Transport
	logger    *slog.Logger
	metrics   *Metrics

	mu       sync.Mutex
	queues   [numSendClasses][][]byte
	queued   int
	capacity int
	closed   bool

	inFlight int
	budget   int

	sent       *recencySet
	throughput float64 // bytes per second, EWMA

	notEmpty chan struct{}
	done     chan struct{}
}

func newSession(p peer.ID, tr transport.Transport, cfg config.GossipConfig, logger *slog.Logger, metrics *Metrics) *session {
	s := &session{
		peer:      p,
		transport: tr,
		logger:    logger.With("peer", p),
		metrics:   metrics,
		capacity:  cfg.SendQueueCapacity,
		budget:    cfg.InFlightBudget,
		sent:      newRecencySet(cfg.RecencyWindow),
		notEmpty:  make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go s.sendLoop()
	return s
}

// enqueue admits a frame at the given class. When the queue is full
// the lowest-priority pending frame is dropped to make room; if the
// incoming frame is itself the lowest priority, it is the one dropped
// and enqueue returns ErrCapacityExceeded. Never blocks.
func (s *session) enqueue(class sendClass, frame []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return transport.ErrPeerNotConnected
	}

	if s.queued >= s.capacity {
		victim := s.lowestClassLocked()
		if victim <= class {
			// Nothing queued ranks below the newcomer; the newcomer
			// is the one dropped.
			s.mu.Unlock()
			s.metrics.QueueDrops.Inc()
			return ErrCapacityExceeded
		}
		// Drop the newest frame of the lowest-priority class.
		queue := s.queues[victim]
		s.queues[victim] = queue[:len(queue)-1]
		s.queued--
		s.metrics.QueueDrops.Inc()
	}

	s.queues[class] = append(s.queues[class], frame)
	s.queued++
	s.metrics.QueueDepth.WithLabelValues(string(s.peer)).Set(float64(s.queued))
	s.mu.Unlock()

	select {
	case s.notEmpty <- struct{}{}:
	default:
	}
	return nil
}

// lowestClassLocked returns the lowest-priority class with queued
// frames.
func (s *session) lowestClassLocked() sendClass {
	for class := numSendClasses - 1; class >= 0; class-- {
		if len(s.queues[class]) > 0 {
			return class
		}
	}
	return 0
}

// sendLoop drains the queue highest class first. Transport errors are
// logged and the frame dropped; the dispatcher learns about a dead
// peer from the transport's disconnect event, not from here.
func (s *session) sendLoop() {
	for {
		frame, ok := s.dequeue()
		if !ok {
			select {
			case <-s.notEmpty:
				continue
			case <-s.done:
				return
			}
		}
		if err := s.transport.Send(context.Background(), s.peer, frame); err != nil {
			s.logger.Debug("frame send failed", "error", err)
		}
	}
}

func (s *session) dequeue() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for class := sendClass(0); class < numSendClasses; class++ {
		if queue := s.queues[class]; len(queue) > 0 {
			frame := queue[0]
			s.queues[class] = queue[1:]
			s.queued--
			s.metrics.QueueDepth.WithLabelValues(string(s.peer)).Set(float64(s.queued))
			return frame, true
		}
	}
	return nil, false
}

// reserveInFlight admits one more outstanding request to this peer,
// or reports the budget exhausted.
func (s *session) reserveInFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight >= s.budget {
		return false
	}
	s.inFlight++
	return true
}

// releaseInFlight returns one slot to the budget.
func (s *session) releaseInFlight() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight > 0 {
		s.inFlight--
	}
}

// inFlightCount returns the outstanding request count.
func (s *session) inFlightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// markSent records that the peer has (or was sent) the artifact, so
// flood re-advertisement skips it within the recency window.
func (s *session) markSent(id artifact.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent.Add(id)
}

// recentlySent reports whether the artifact is within the peer's
// recency window.
func (s *session) recentlySent(id artifact.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent.Contains(id)
}

// recordDelivery folds a completed transfer into the throughput
// estimate.
func (s *session) recordDelivery(size int, elapsed time.Duration) {
	if elapsed <= 0 {
		return
	}
	sample := float64(size) / elapsed.Seconds()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.throughput == 0 {
		s.throughput = sample
		return
	}
	s.throughput = throughputDecay*s.throughput + (1-throughputDecay)*sample
}

// throughputEstimate returns the EWMA bytes-per-second estimate. Zero
// until the first completed transfer.
func (s *session) throughputEstimate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.throughput
}

// close stops the send loop and discards the queue. Pending frames
// are dropped; dissemination is best-effort per link.
func (s *session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for class := range s.queues {
		s.queues[class] = nil
	}
	s.queued = 0
	s.metrics.QueueDepth.DeleteLabelValues(string(s.peer))
	s.mu.Unlock()
	close(s.done)
}
