// Package metrics exposes Prometheus instrumentation for the
// blockcreative-chain service.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "blockcreative_chain"

// Transaction submission metrics
var (
	TxSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_submitted_total",
			Help:      "Transactions submitted to the ledger",
		},
		[]string{"operation", "status"}, // status: submitted, confirmed, failed, dropped
	)

	TxConfirmationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tx_confirmation_duration_seconds",
			Help:      "Time from broadcast to settled confirmation depth",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"operation"},
	)

	TxMockTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_mock_total",
			Help:      "Synthetic transactions produced while the gateway is disabled",
		},
	)
)

// Gas metrics
var (
	GasEstimatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gas_estimated_total",
			Help:      "Gas estimations performed",
		},
		[]string{"operation", "source"}, // source: dry_run, fallback
	)

	GasRequested = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gas_limit_requested",
			Help:      "Gas limit attached to submitted transactions",
			Buckets:   []float64{21000, 50000, 100000, 200000, 300000, 500000, 1000000},
		},
		[]string{"operation"},
	)

	GasUsed = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gas_used",
			Help:      "Gas actually consumed per receipt",
			Buckets:   []float64{21000, 50000, 100000, 200000, 300000, 500000, 1000000},
		},
		[]string{"operation"},
	)

	GasPriceGwei = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gas_price_gwei",
			Help:      "Last observed effective gas price in Gwei",
		},
	)
)

// Node connectivity metrics
var (
	NodeReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_reconnects_total",
			Help:      "Ledger node reconnection attempts",
		},
	)

	NodeRPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_rpc_errors_total",
			Help:      "Ledger node RPC failures",
		},
		[]string{"method"},
	)

	WalletNonceGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "wallet_nonce_current",
			Help:      "Current hot wallet nonce",
		},
	)
)

// Monitor metrics
var (
	ActivePollersGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitor_active_pollers",
			Help:      "Transactions currently being tracked",
		},
	)

	PollCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_poll_cycles_total",
			Help:      "Monitor poll cycles by outcome",
		},
		[]string{"outcome"}, // pending, confirming, settled, failed, dropped, error
	)
)

// Reconciliation metrics
var (
	MirrorWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_writes_total",
			Help:      "Marketplace mirror record writes",
		},
		[]string{"kind", "status"}, // kind: project, transaction
	)
)

// Kafka metrics
var (
	KafkaMessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_messages_consumed_total",
			Help:      "Kafka messages consumed",
		},
		[]string{"topic"},
	)

	KafkaMessagesProduced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_messages_produced_total",
			Help:      "Kafka messages produced",
		},
		[]string{"topic"},
	)
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served",
		},
		[]string{"path", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"path"},
	)
)

// Helper functions

// RecordTxSubmitted records a broadcast transaction.
func RecordTxSubmitted(operation string) {
	TxSubmittedTotal.WithLabelValues(operation, "submitted").Inc()
}

// RecordTxSettled records a terminal transaction outcome.
func RecordTxSettled(operation, status string, durationSeconds float64) {
	TxSubmittedTotal.WithLabelValues(operation, status).Inc()
	if durationSeconds > 0 {
		TxConfirmationDuration.WithLabelValues(operation).Observe(durationSeconds)
	}
}

// RecordGasUsage records the gas an included transaction actually
// consumed, next to the limit that was requested for it.
func RecordGasUsage(operation string, requested, used uint64) {
	GasRequested.WithLabelValues(operation).Observe(float64(requested))
	GasUsed.WithLabelValues(operation).Observe(float64(used))
}

// RecordGasEstimate records one estimation and where the number came
// from.
func RecordGasEstimate(operation string, usedFallback bool) {
	source := "dry_run"
	if usedFallback {
		source = "fallback"
	}
	GasEstimatedTotal.WithLabelValues(operation, source).Inc()
}

// RecordKafkaMessage records one consumed or produced message.
func RecordKafkaMessage(topic string, produced bool) {
	if produced {
		KafkaMessagesProduced.WithLabelValues(topic).Inc()
	} else {
		KafkaMessagesConsumed.WithLabelValues(topic).Inc()
	}
}

// RecordMirrorWrite records one marketplace mirror write.
func RecordMirrorWrite(kind, status string) {
	MirrorWritesTotal.WithLabelValues(kind, status).Inc()
}

// UpdateGasPrice publishes the last observed effective price.
func UpdateGasPrice(gwei float64) {
	GasPriceGwei.Set(gwei)
}

// UpdateNonce publishes the current hot wallet nonce.
func UpdateNonce(nonce uint64) {
	WalletNonceGauge.Set(float64(nonce))
}

// RecordHTTPRequest records one served HTTP request.
func RecordHTTPRequest(path string, code int, seconds float64) {
	HTTPRequestsTotal.WithLabelValues(path, strconv.Itoa(code)).Inc()
	HTTPRequestDuration.WithLabelValues(path).Observe(seconds)
}
