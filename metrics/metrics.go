package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_events_enqueued_total",
		Help: "Payments appended to the event log",
	})
	EnqueueErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_enqueue_errors_total",
		Help: "Payments dropped because the event log append failed",
	})
	EventsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_events_delivered_total",
		Help: "Entries read from the consumer group",
	})
	EventsAcked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_events_acked_total",
		Help: "Entries acknowledged in the consumer group",
	})
	PollErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_poll_errors_total",
		Help: "Failed reads from the consumer group",
	})
	Dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_dispatches_total",
		Help: "Dispatch outcomes by result",
	}, []string{"outcome"})
	LedgerErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_ledger_errors_total",
		Help: "Ledger appends that failed after a successful payment",
	})
	PoolInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_pool_in_flight",
		Help: "Dispatch tasks currently running",
	})
	PoolQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_pool_queued",
		Help: "Dispatch tasks waiting for a worker",
	})
	ProcessorLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_processor_request_seconds",
		Help:    "Latency of calls to the payment processors",
		Buckets: prometheus.DefBuckets,
	}, []string{"processor"})
)
