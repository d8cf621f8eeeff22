package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingest Metrics
var (
	// MessagesIngestedTotal tracks ingest outcomes by result
	MessagesIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_ingested_total",
			Help: "Total ingested chat messages by result (accepted/duplicate/invalid/rate_limited)",
		},
		[]string{"result"},
	)

	// ClassificationsTotal tracks classification outcomes by category
	ClassificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifications_total",
			Help: "Total accepted messages by classified category",
		},
		[]string{"category"},
	)

	// DedupSetSize tracks the current number of entries in the dedup set
	DedupSetSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dedup_set_entries",
			Help: "Current number of entries in the ingest dedup set",
		},
	)
)

// Poll Lifecycle Metrics
var (
	// PollTransitionsTotal tracks state machine transitions
	PollTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poll_transitions_total",
			Help: "Total poll state machine transitions by from/to status",
		},
		[]string{"from", "to"},
	)

	// PollActive is 1 while a poll is active, 0 otherwise
	PollActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "poll_active",
			Help: "1 if a poll is currently active, 0 otherwise",
		},
	)

	// SentimentTermsTracked tracks the current size of the sentiment map
	SentimentTermsTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentiment_terms_tracked",
			Help: "Current number of terms in the sentiment aggregation map",
		},
	)
)

// Dispatch Metrics
var (
	// DispatchBatchesTotal tracks flushed batches by result
	DispatchBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_batches_total",
			Help: "Total dispatched event batches by result (delivered/failed)",
		},
		[]string{"result"},
	)

	// DispatchRetriesTotal tracks scheduled batch retries
	DispatchRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_retries_total",
			Help: "Total batch delivery retries scheduled",
		},
	)

	// DispatchDroppedBatchesTotal tracks batches dropped after exhausting retries
	DispatchDroppedBatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_dropped_batches_total",
			Help: "Total batches dropped after exceeding the retry attempt cap",
		},
	)

	// DispatchErrorsTotal tracks delivery failures by classification
	DispatchErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_errors_total",
			Help: "Total delivery failures by classification (timeout/cors_suspected/generic)",
		},
		[]string{"class"},
	)

	// DispatchRequestDuration tracks outbound request latency
	DispatchRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_request_duration_seconds",
			Help:    "Outbound dispatch request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)
)

// Broadcast Metrics
var (
	// BroadcastConnectedClients tracks connected overlay websocket clients
	BroadcastConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcast_connected_clients",
			Help: "Current number of connected overlay WebSocket clients",
		},
	)

	// BroadcastSlowClientsEvicted tracks slow clients evicted due to a full send buffer
	BroadcastSlowClientsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_slow_clients_evicted_total",
			Help: "Total slow WebSocket clients evicted due to buffer full",
		},
	)
)
