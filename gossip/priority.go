// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

package gossip

import (
	"fmt"

	"github.com/ledgermesh/ledgermesh/artifact"
	"github.com/ledgermesh/ledgermesh/lib/config"
)

// Verdict is the priority classifier's decision for an advertised
// artifact.
type Verdict int

const (
	// Drop means never fetch. The advert is discarded without a
	// tracker entry.
	Drop Verdict = iota + 1

	// Stash means record the advert but do not request yet. Stashed
	// entries are re-evaluated when the local load context changes.
	Stash

	// FetchLater means fetch at bulk priority.
	FetchLater

	// FetchNow means fetch at the head of the request queue.
	// FetchLater and FetchNow differ only in queue ordering, never in
	// eligibility.
	FetchNow
)

// String returns the verdict name for logs and metrics labels.
func (v Verdict) String() string {
	switch v {
	case Drop:
		return "drop"
	case Stash:
		return "stash"
	case FetchLater:
		return "fetch_later"
	case FetchNow:
		return "fetch_now"
	default:
		return fmt.Sprintf("unknown(%d)", int(v))
	}
}

// Fetchable reports whether the verdict permits a request.
func (v Verdict) Fetchable() bool {
	return v == FetchLater || v == FetchNow
}

// LoadContext carries the mutable local-load inputs to classification.
// The dispatcher snapshots it before each call; the classifier itself
// stays pure.
type LoadContext struct {
	// QueueDepth is the local consumer queue depth per kind, reported
	// by the consuming subsystem via Dispatcher.SetQueueDepth.
	QueueDepth map[artifact.Kind]int
}

// Classifier maps an advertised artifact to a priority verdict. Pure
// and deterministic: the same inputs always produce the same verdict,
// with no side effects.
type Classifier func(kind artifact.Kind, size uint64, ctx LoadContext) Verdict

// NewClassifier builds the standard classifier from the gossip policy:
//
//   - disabled kinds and oversized artifacts are dropped;
//   - kinds whose consumer queue depth is at or above the stash
//     threshold are stashed until the backlog drains;
//   - consensus, certification, and DKG artifacts are fetched first,
//     since consensus progress blocks on them;
//   - ingress and state-sync artifacts are fetched at bulk priority.
func NewClassifier(cfg config.GossipConfig) Classifier {
	disabled := make(map[artifact.Kind]bool, len(cfg.DisabledKinds))
	for _, name := range cfg.DisabledKinds {
		if kind, err := artifact.ParseKind(name); err == nil {
			disabled[kind] = true
		}
	}
	maxSize := cfg.MaxArtifactSize
	stashThreshold := cfg.StashDepthThreshold

	return func(kind artifact.Kind, size uint64, ctx LoadContext) Verdict {
		if disabled[kind] {
			return Drop
		}
		if maxSize > 0 && size > maxSize {
			return Drop
		}
		if stashThreshold > 0 && ctx.QueueDepth[kind] >= stashThreshold {
			return Stash
		}
		switch kind {
		case artifact.KindConsensus, artifact.KindCertification, artifact.KindDKG:
			return FetchNow
		default:
			return FetchLater
		}
	}
}
