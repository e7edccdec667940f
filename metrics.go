package tagsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Protocol counters. Exposition is the binary's concern; the core only
// counts.
var (
	sentCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tagsync",
		Name:      "messages_sent_total",
		Help:      "Wire messages handed to the transport, by type tag.",
	}, []string{"type"})

	receivedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tagsync",
		Name:      "messages_received_total",
		Help:      "Wire messages dispatched to a handler, by type tag.",
	}, []string{"type"})

	droppedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tagsync",
		Name:      "messages_dropped_total",
		Help:      "Messages dropped before or during dispatch, by reason.",
	}, []string{"reason"})

	suppressedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tagsync",
		Name:      "digests_suppressed_total",
		Help:      "Digest sends skipped because the target already knew everything.",
	})

	correctionCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tagsync",
		Name:      "corrections_sent_total",
		Help:      "Unsolicited pushes of fresher data after a stale digest, by kind.",
	}, []string{"kind"})
)
