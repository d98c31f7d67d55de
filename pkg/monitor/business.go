package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics 定义业务监控指标
type BusinessMetrics struct {
	WalletProvisionedTotal prometheus.Counter
	TransferTotal          *prometheus.CounterVec
	RelayLegTotal          *prometheus.CounterVec
	SubsidyAmountTotal     *prometheus.CounterVec
	OracleRequestDuration  *prometheus.HistogramVec
	ReceiptWaitDuration    *prometheus.HistogramVec
	NonceAllocatedTotal    *prometheus.CounterVec
	PartialFailureTotal    prometheus.Counter
	ReconciledTotal        *prometheus.CounterVec
	OutboxPendingMessages  prometheus.Gauge
}

// Business 在包加载时注册，promauto 只能注册一次
var Business = newBusinessMetrics()

func newBusinessMetrics() *BusinessMetrics {
	return &BusinessMetrics{
		WalletProvisionedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wallet_provisioned_total",
			Help: "The total number of wallets created",
		}),
		TransferTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_transfer_total",
			Help: "Transfers by kind and final result",
		}, []string{"kind", "result"}),
		RelayLegTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_relay_leg_total",
			Help: "Submitted transaction legs by leg and status",
		}, []string{"leg", "status"}),
		SubsidyAmountTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_subsidy_amount_total",
			Help: "Gas subsidy collected, in whole token units",
		}, []string{"currency"}),
		OracleRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wallet_oracle_request_duration_seconds",
			Help:    "Latency of spot price requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"result"}),
		ReceiptWaitDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wallet_receipt_wait_duration_seconds",
			Help:    "Time spent waiting for transaction receipts",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		}, []string{"leg"}),
		NonceAllocatedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_nonce_allocated_total",
			Help: "Nonces committed after a successful broadcast",
		}, []string{"account"}),
		PartialFailureTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wallet_partial_failure_total",
			Help: "Transfers whose subsidy legs settled but primary leg failed",
		}),
		ReconciledTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_reconciled_total",
			Help: "Submitted legs resolved by the reconciliation job",
		}, []string{"status"}),
		OutboxPendingMessages: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wallet_outbox_pending_messages",
			Help: "Outbox messages waiting to be published",
		}),
	}
}
