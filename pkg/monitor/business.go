package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics 定义业务监控指标
type BusinessMetrics struct {
	RoundupAmountTotal     prometheus.Counter
	RoundupRecordsTotal    *prometheus.CounterVec // result: created, duplicate, skipped
	SyncJobDuration        *prometheus.HistogramVec
	SyncErrorsTotal        prometheus.Counter
	BatchCreatedTotal      prometheus.Counter
	BatchChargedTotal      *prometheus.CounterVec // result: collected, failed
	WebhookEventsTotal     *prometheus.CounterVec // provider, result: applied, duplicate, rejected
	PayoutAmountTotal      prometheus.Counter
	PayoutSettledTotal     *prometheus.CounterVec // result: completed, failed
	CommissionAccruedTotal prometheus.Counter
}

// Global Metrics Instance
var Business *BusinessMetrics

// InitBusinessMetrics 初始化业务指标
func InitBusinessMetrics() {
	Business = &BusinessMetrics{
		RoundupAmountTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "roundup_amount_total",
			Help: "The total roundup amount recorded (after multiplier)",
		}),
		RoundupRecordsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "roundup_records_total",
			Help: "Roundup records by processing result",
		}, []string{"result"}),
		SyncJobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bank_sync_duration_seconds",
			Help:    "Duration of per-connection bank sync runs",
			Buckets: prometheus.DefBuckets,
		}, []string{"trigger"}),
		SyncErrorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bank_sync_errors_total",
			Help: "Bank sync runs that exhausted retries",
		}),
		BatchCreatedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "donation_batch_created_total",
			Help: "Donation batches created",
		}),
		BatchChargedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "donation_batch_charged_total",
			Help: "Donation batches reaching a terminal charge state",
		}, []string{"result"}),
		WebhookEventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Inbound webhook events by provider and result",
		}, []string{"provider", "result"}),
		PayoutAmountTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "payout_net_amount_total",
			Help: "The total net amount of initiated payouts",
		}),
		PayoutSettledTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "payout_settled_total",
			Help: "Payouts reaching a terminal state",
		}, []string{"result"}),
		CommissionAccruedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "referral_commission_accrued_total",
			Help: "Referral commissions accrued",
		}),
	}
}
