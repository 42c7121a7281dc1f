// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

package gossip

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the dissemination instruments. Fire-and-forget: no
// metric affects control flow.
type Metrics struct {
	AdvertsSent      *prometheus.CounterVec
	AdvertsReceived  *prometheus.CounterVec
	RequestsSent     prometheus.Counter
	RequestsReceived prometheus.Counter
	PayloadsSent     *prometheus.CounterVec
	PayloadsReceived *prometheus.CounterVec
	NotAvailable     prometheus.Counter
	Retries          prometheus.Counter
	Abandoned        prometheus.Counter
	QueueDrops       prometheus.Counter
	QueueDepth       *prometheus.GaugeVec
	ValidationFails  prometheus.Counter
	InFlight         prometheus.Gauge
	TrackedArtifacts prometheus.Gauge
	PayloadBytes     prometheus.Histogram
}

// NewMetrics creates and registers the gossip instruments with the
// given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AdvertsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledgermesh",
			Subsystem: "gossip",
			Name:      "adverts_sent_total",
			Help:      "Adverts sent to peers, by artifact kind.",
		}, []string{"kind"}),
		AdvertsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledgermesh",
			Subsystem: "gossip",
			Name:      "adverts_received_total",
			Help:      "Adverts received from peers, by artifact kind.",
		}, []string{"kind"}),
		RequestsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgermesh",
			Subsystem: "gossip",
			Name:      "requests_sent_total",
			Help:      "Artifact requests dispatched to peers.",
		}),
		RequestsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgermesh",
			Subsystem: "gossip",
			Name:      "requests_received_total",
			Help:      "Artifact requests received from peers.",
		}),
		PayloadsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledgermesh",
			Subsystem: "gossip",
			Name:      "payloads_sent_total",
			Help:      "Artifact payloads served to peers, by kind.",
		}, []string{"kind"}),
		PayloadsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledgermesh",
			Subsystem: "gossip",
			Name:      "payloads_received_total",
			Help:      "Artifact payloads received from peers, by kind.",
		}, []string{"kind"}),
		NotAvailable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgermesh",
			Subsystem: "gossip",
			Name:      "not_available_total",
			Help:      "Not-available replies sent for evicted artifacts.",
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgermesh",
			Subsystem: "gossip",
			Name:      "retries_total",
			Help:      "Fetch attempts reassigned after timeout, disconnect, or rejection.",
		}),
		Abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgermesh",
			Subsystem: "gossip",
			Name:      "abandoned_total",
			Help:      "Artifacts abandoned at the retry ceiling.",
		}),
		QueueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgermesh",
			Subsystem: "gossip",
			Name:      "queue_drops_total",
			Help:      "Frames dropped from full session send queues.",
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ledgermesh",
			Subsystem: "gossip",
			Name:      "send_queue_depth",
			Help:      "Frames queued per peer session.",
		}, []string{"peer"}),
		ValidationFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgermesh",
			Subsystem: "gossip",
			Name:      "validation_failures_total",
			Help:      "Deliveries rejected by integrity or store validation.",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ledgermesh",
			Subsystem: "gossip",
			Name:      "requests_in_flight",
			Help:      "Outstanding artifact requests across all peers.",
		}),
		TrackedArtifacts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ledgermesh",
			Subsystem: "gossip",
			Name:      "tracked_artifacts",
			Help:      "Entries currently held by the advert tracker.",
		}),
		PayloadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ledgermesh",
			Subsystem: "gossip",
			Name:      "payload_bytes",
			Help:      "Size distribution of received artifact payloads.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 12),
		}),
	}

	reg.MustRegister(
		m.AdvertsSent, m.AdvertsReceived,
		m.RequestsSent, m.RequestsReceived,
		m.PayloadsSent, m.PayloadsReceived,
		m.NotAvailable, m.Retries, m.Abandoned,
		m.QueueDrops, m.QueueDepth, m.ValidationFails,
		m.InFlight, m.TrackedArtifacts, m.PayloadBytes,
	)
	return m
}
