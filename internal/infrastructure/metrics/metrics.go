// Package metrics provides Prometheus instrumentation for the staking engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RoundTransitions counts session state machine transitions by name.
	RoundTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dotrust_session_transitions_total",
		Help: "Session state machine transitions",
	}, []string{"transition"})

	// PenaltiesTotal counts applied deductions, labeled low_quality or toxic.
	PenaltiesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dotrust_penalties_total",
		Help: "Life-line deductions applied",
	}, []string{"type"})

	ForfeitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dotrust_forfeits_total",
		Help: "Sessions ended by life-line exhaustion",
	})

	ClassifierFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dotrust_classifier_failures_total",
		Help: "Classifier calls that failed and fell back to a neutral verdict",
	})

	ClassifierLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dotrust_classifier_latency_seconds",
		Help:    "Classifier call latency in seconds",
		Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20},
	})

	ModerationDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dotrust_moderation_queue_dropped_total",
		Help: "Moderation jobs dropped because the queue was full",
	})

	// SettlementsTotal counts ledger submissions by action and outcome.
	SettlementsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dotrust_settlements_total",
		Help: "Settlement submissions",
	}, []string{"action", "outcome"})

	StreamClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dotrust_stream_clients",
		Help: "Open SSE and WebSocket connections",
	})
)

func init() {
	prometheus.MustRegister(
		RoundTransitions,
		PenaltiesTotal,
		ForfeitsTotal,
		ClassifierFailures,
		ClassifierLatency,
		ModerationDropped,
		SettlementsTotal,
		StreamClients,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
