package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SESCalls counts AWS SES API calls by operation and outcome
	SESCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbound_ses_api_calls_total",
			Help: "SES API calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// InboundEmails counts routed recipients by final routing status
	InboundEmails = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbound_emails_total",
			Help: "Inbound email recipients processed, by routing status",
		},
		[]string{"status"},
	)

	// WebhookDeliveries counts delivery attempts by outcome
	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbound_webhook_deliveries_total",
			Help: "Webhook delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	WebhookDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inbound_webhook_delivery_duration_seconds",
			Help:    "Webhook HTTP round trip duration",
			Buckets: prometheus.DefBuckets,
		},
	)

	// DomainTransitions counts verification state changes
	DomainTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbound_domain_transitions_total",
			Help: "Domain verification state transitions",
		},
		[]string{"from", "to"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inbound_delivery_queue_depth",
			Help: "Deliveries waiting in the queue",
		},
	)
)

// Outcome maps an error to the outcome label
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
