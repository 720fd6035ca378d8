package infra

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the bot's Prometheus collectors.
type Metrics struct {
	UpdatesReceived  *prometheus.CounterVec
	UpdatesLimited   prometheus.Counter
	FlowsFinished    *prometheus.CounterVec
	StoreErrors      *prometheus.CounterVec
	RemindersSent    *prometheus.CounterVec
	RemindersFailed  *prometheus.CounterVec
	ReminderDuration prometheus.Histogram
	OutboxPublished  prometheus.Counter
}

// NewMetrics registers all collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		UpdatesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medbook_updates_received_total",
			Help: "Telegram updates received, by kind",
		}, []string{"kind"}),
		UpdatesLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "medbook_updates_rate_limited_total",
			Help: "Updates dropped by the per-user rate limiter",
		}),
		FlowsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medbook_flows_finished_total",
			Help: "Conversation flows that ended, by flow and result",
		}, []string{"flow", "result"}),
		StoreErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medbook_store_errors_total",
			Help: "Record store operations that failed, by operation",
		}, []string{"op"}),
		RemindersSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medbook_reminders_sent_total",
			Help: "Reminder messages delivered, by recipient kind",
		}, []string{"recipient"}),
		RemindersFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medbook_reminders_failed_total",
			Help: "Reminder messages that could not be delivered, by recipient kind",
		}, []string{"recipient"}),
		ReminderDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "medbook_reminder_run_duration_seconds",
			Help:    "Duration of a full reminder run",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),
		OutboxPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "medbook_outbox_published_total",
			Help: "Outbox events handed to the publisher",
		}),
	}
}

// ObserveReminderRun records the duration of a reminder run started at start.
func (m *Metrics) ObserveReminderRun(start time.Time) {
	m.ReminderDuration.Observe(time.Since(start).Seconds())
}
