// Package metrics exposes the process's Prometheus instrumentation, served
// on the router's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for EventsTotal. Labels stay a closed set; job identities
// are attacker-controlled on rejected deliveries and must not become label
// values.
const (
	OutcomeSync     = "sync"
	OutcomeQueued   = "queued"
	OutcomeRejected = "rejected"
)

var (
	// EventsTotal counts inbound deliveries by how the gateway settled them.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shophand",
		Name:      "events_total",
		Help:      "Inbound event deliveries by outcome.",
	}, []string{"outcome"})

	// PayloadOffloadsTotal counts payloads persisted to the blob store
	// because they exceeded the inline threshold.
	PayloadOffloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shophand",
		Name:      "payload_offloads_total",
		Help:      "Payloads offloaded to the blob store.",
	})

	// RunsTotal counts durable runs reaching a terminal state.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shophand",
		Name:      "runs_total",
		Help:      "Durable runs by terminal state.",
	}, []string{"state"})
)
