// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

package gossip

import (
	"testing"

	"github.com/ledgermesh/ledgermesh/artifact"
	"github.com/ledgermesh/ledgermesh/lib/config"
)

func TestClassifierDefaults(t *testing.T) {
	classify := NewClassifier(config.DefaultGossip())
	ctx := LoadContext{}

	cases := []struct {
		kind artifact.Kind
		want Verdict
	}{
		{artifact.KindConsensus, FetchNow},
		{artifact.KindCertification, FetchNow},
		{artifact.KindDKG, FetchNow},
		{artifact.KindIngress, FetchLater},
		{artifact.KindStateSync, FetchLater},
	}
	for _, tc := range cases {
		if got := classify(tc.kind, 1024, ctx); got != tc.want {
			t.Errorf("classify(%s) = %v, want %v", tc.kind, got, tc.want)
		}
	}
}

func TestClassifierDropsDisabledKinds(t *testing.T) {
	cfg := config.DefaultGossip()
	cfg.DisabledKinds = []string{"ingress"}
	classify := NewClassifier(cfg)

	if got := classify(artifact.KindIngress, 1024, LoadContext{}); got != Drop {
		t.Fatalf("disabled kind verdict = %v, want Drop", got)
	}
	if got := classify(artifact.KindConsensus, 1024, LoadContext{}); got != FetchNow {
		t.Fatalf("enabled kind verdict = %v, want FetchNow", got)
	}
}

func TestClassifierDropsOversized(t *testing.T) {
	cfg := config.DefaultGossip()
	cfg.MaxArtifactSize = 1 << 20
	classify := NewClassifier(cfg)

	if got := classify(artifact.KindStateSync, 2<<20, LoadContext{}); got != Drop {
		t.Fatalf("oversized verdict = %v, want Drop", got)
	}
	if got := classify(artifact.KindStateSync, 1<<20, LoadContext{}); got != FetchLater {
		t.Fatalf("at-limit verdict = %v, want FetchLater", got)
	}
}

func TestClassifierStashesUnderLoad(t *testing.T) {
	cfg := config.DefaultGossip()
	cfg.StashDepthThreshold = 10
	classify := NewClassifier(cfg)

	loaded := LoadContext{QueueDepth: map[artifact.Kind]int{artifact.KindIngress: 10}}
	if got := classify(artifact.KindIngress, 1024, loaded); got != Stash {
		t.Fatalf("saturated verdict = %v, want Stash", got)
	}

	// Other kinds are unaffected by one kind's backlog.
	if got := classify(artifact.KindConsensus, 1024, loaded); got != FetchNow {
		t.Fatalf("unrelated kind verdict = %v, want FetchNow", got)
	}

	// Same inputs after the backlog drains.
	drained := LoadContext{QueueDepth: map[artifact.Kind]int{artifact.KindIngress: 9}}
	if got := classify(artifact.KindIngress, 1024, drained); got != FetchLater {
		t.Fatalf("drained verdict = %v, want FetchLater", got)
	}
}

func TestClassifierIsPure(t *testing.T) {
	classify := NewClassifier(config.DefaultGossip())
	ctx := LoadContext{QueueDepth: map[artifact.Kind]int{}}
	first := classify(artifact.KindConsensus, 4096, ctx)
	for i := 0; i < 10; i++ {
		if got := classify(artifact.KindConsensus, 4096, ctx); got != first {
			t.Fatal("classifier returned different verdicts for identical inputs")
		}
	}
}
