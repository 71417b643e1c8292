package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LogsReceived tracks raw logs delivered per source (recovery, live)
	LogsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "impactwatcher_logs_received_total",
			Help: "Total number of raw logs received",
		},
		[]string{"source"},
	)

	// EventsHandled tracks dispatched events by outcome
	EventsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "impactwatcher_events_handled_total",
			Help: "Total number of parsed events dispatched to handlers",
		},
		[]string{"category", "event", "result"},
	)

	// Anomalies tracks logs that were dropped or skipped
	Anomalies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "impactwatcher_anomalies_total",
			Help: "Total number of dropped or skipped logs by kind",
		},
		[]string{"kind"},
	)

	// CheckpointBlock tracks the last durably flushed block
	CheckpointBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "impactwatcher_checkpoint_block",
			Help: "Last processed block persisted to the checkpoint store",
		},
		[]string{"chain"},
	)

	// ChainLatestBlock tracks the latest block height of the chain
	ChainLatestBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "impactwatcher_chain_latest_block",
			Help: "Latest block height of the chain",
		},
		[]string{"chain"},
	)

	// RecoveryState exposes the recovery pass state as a number
	// (0 idle, 1 running, 2 completed, 3 aborted)
	RecoveryState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "impactwatcher_recovery_state",
			Help: "Current recovery coordinator state",
		},
		[]string{"chain"},
	)

	// RPCCallsTotal tracks RPC calls per chain and provider
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "impactwatcher_rpc_calls_total",
			Help: "Total number of RPC calls",
		},
		[]string{"chain", "provider", "method"},
	)

	// RPCErrorsTotal tracks RPC errors per chain and provider
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "impactwatcher_rpc_errors_total",
			Help: "Total number of RPC errors",
		},
		[]string{"chain", "provider", "error_type"},
	)

	// RPCLatency tracks RPC call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "impactwatcher_rpc_latency_seconds",
			Help:    "RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain", "provider", "method"},
	)

	// SubscriptionReconnects counts websocket re-dials after a drop
	SubscriptionReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "impactwatcher_subscription_reconnects_total",
			Help: "Total number of live subscription reconnect attempts",
		},
		[]string{"chain"},
	)

	// Notifications tracks push notification requests by outcome
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "impactwatcher_notifications_total",
			Help: "Total number of notification requests by result",
		},
		[]string{"type", "result"},
	)

	// DBConnectionPoolUsage tracks open connections as a percentage of the pool
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "impactwatcher_db_connection_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)

	// RegistrySize tracks the number of resolvable community contracts
	RegistrySize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "impactwatcher_registry_size",
			Help: "Number of community contracts in the registry cache",
		},
	)
)

// Anomaly kinds.
const (
	AnomalyUnknownEvent     = "unknown_event"
	AnomalyDecodeFailed     = "decode_failed"
	AnomalyUnroutable       = "unroutable"
	AnomalyUnregistered     = "unregistered_community"
	AnomalyMissingReference = "missing_reference"
	AnomalyNoPendingRequest = "no_pending_request"
	AnomalyHandlerFailed    = "handler_failed"
	AnomalyLateActivation   = "late_activation"
)
