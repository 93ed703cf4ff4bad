// Package metrics exposes Prometheus collectors for the replay server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveReplaySessions tracks replay sessions with at least one subscriber.
	ActiveReplaySessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "replay",
		Name:      "active_sessions",
		Help:      "Number of active replay sessions.",
	})

	// ConnectedClients tracks open websocket connections.
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "replay",
		Name:      "connected_clients",
		Help:      "Number of connected websocket clients.",
	})

	// BatchesSent counts telemetry batches delivered to clients.
	BatchesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "replay",
		Name:      "batches_sent_total",
		Help:      "Total telemetry batches sent to clients.",
	})

	// FramesDropped counts outbound frames dropped due to backpressure.
	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "replay",
		Name:      "frames_dropped_total",
		Help:      "Total outbound frames dropped because a client could not keep up.",
	})

	// BufferRefills counts buffer refills per trigger ("initial", "seek", "low_water").
	BufferRefills = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replay",
		Name:      "buffer_refills_total",
		Help:      "Total pre-fetch buffer refills by trigger.",
	}, []string{"trigger"})

	// StoreReadDuration observes latency of stream store range reads.
	StoreReadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "replay",
		Name:      "store_read_duration_seconds",
		Help:      "Latency of telemetry stream range reads.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stream"})

	// StoreReadErrors counts failed stream store reads.
	StoreReadErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replay",
		Name:      "store_read_errors_total",
		Help:      "Total failed telemetry stream reads.",
	}, []string{"stream"})
)
