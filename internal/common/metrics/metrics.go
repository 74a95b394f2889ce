// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EmailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarding_emails_sent_total",
			Help: "Total number of confirmation emails sent",
		},
		[]string{"kind"},
	)

	EmailsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarding_emails_failed_total",
			Help: "Total number of confirmation email send failures",
		},
		[]string{"kind", "error_code"},
	)

	EmailSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "onboarding_email_send_duration_seconds",
			Help: "Duration of a single email send in seconds",
		},
		[]string{"kind"},
	)

	InboundProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarding_inbound_messages_total",
			Help: "Inbound mailbox messages by classification",
		},
		[]string{"classification"},
	)

	WatcherState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "onboarding_watcher_state",
			Help: "Inbox watcher state (0=stopped, 1=disconnected, 2=connecting, 3=watching, 4=processing)",
		},
	)

	WatcherReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "onboarding_watcher_reconnects_total",
			Help: "Total number of inbox watcher reconnect attempts",
		},
	)

	BatchJobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "onboarding_batch_jobs_active",
			Help: "Number of batch send jobs currently running",
		},
	)

	SubmissionsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarding_submissions_total",
			Help: "Vendor form submissions by outcome",
		},
		[]string{"outcome"},
	)
)
