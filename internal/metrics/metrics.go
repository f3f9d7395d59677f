package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driverportal_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "driverportal_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	ChargeCodesGeneratedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "driverportal_charge_codes_generated_total",
			Help: "Total number of charge codes persisted",
		},
	)

	ChargeCodeBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driverportal_charge_code_batches_total",
			Help: "Charge code generation calls by outcome",
		},
		[]string{"outcome"},
	)

	ChargeCodeCollisionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "driverportal_charge_code_collisions_total",
			Help: "Generated codes replaced because they already existed in the registry",
		},
	)

	RedemptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driverportal_redemptions_total",
			Help: "Charge code redemption attempts by outcome",
		},
		[]string{"outcome"},
	)

	RedemptionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "driverportal_redemption_duration_seconds",
			Help:    "Time spent in the atomic redemption store call",
			Buckets: prometheus.DefBuckets,
		},
	)

	WalletCreditedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "driverportal_wallet_credited_minor_units_total",
			Help: "Sum of amounts credited through charge codes",
		},
	)

	WalletPostingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driverportal_wallet_postings_total",
			Help: "Administrative ledger postings by type",
		},
		[]string{"type"},
	)

	EmailsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driverportal_emails_sent_total",
			Help: "Total number of emails sent",
		},
		[]string{"type", "status"},
	)

	EmailQueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "driverportal_email_queue_length",
			Help: "Current length of email queue",
		},
	)
)

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

func RecordBatch(outcome string, codes int) {
	ChargeCodeBatchesTotal.WithLabelValues(outcome).Inc()
	if codes > 0 {
		ChargeCodesGeneratedTotal.Add(float64(codes))
	}
}

func RecordCollisions(n int) {
	if n > 0 {
		ChargeCodeCollisionsTotal.Add(float64(n))
	}
}

func RecordRedemption(outcome string) {
	RedemptionsTotal.WithLabelValues(outcome).Inc()
}

func ObserveRedemption(seconds float64) {
	RedemptionDuration.Observe(seconds)
}

func RecordCredit(amount int64) {
	if amount > 0 {
		WalletCreditedTotal.Add(float64(amount))
	}
}

func RecordPosting(txType string) {
	WalletPostingsTotal.WithLabelValues(txType).Inc()
}

func RecordEmail(emailType, status string) {
	EmailsSentTotal.WithLabelValues(emailType, status).Inc()
}
