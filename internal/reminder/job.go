package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/staffdesk/medbook/internal/domain"
	"github.com/staffdesk/medbook/internal/guard"
	"github.com/staffdesk/medbook/internal/infra"
)

// Source lists records whose medbook expires within a window.
type Source interface {
	FindExpiring(ctx context.Context, today time.Time, daysAhead int) ([]domain.ExpiringRecord, error)
}

// Notifier delivers one reminder text to a chat.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

// EventSink records that a reminder window was processed.
type EventSink interface {
	RecordEvent(ctx context.Context, draft domain.OutboxDraft) error
}

const (
	recipientStaff = "staff"
	recipientAdmin = "admin"

	sendTimeout = 10 * time.Second
)

// WindowReport summarises one window of a run.
type WindowReport struct {
	Window  int
	Records int
	Sent    int
	Failed  int
	Err     error
}

// Report summarises a run.
type Report struct {
	Today   time.Time
	Windows []WindowReport
}

// Sent returns the number of delivered messages.
func (r Report) Sent() int {
	n := 0
	for _, w := range r.Windows {
		n += w.Sent
	}
	return n
}

// Failed returns the number of undelivered messages.
func (r Report) Failed() int {
	n := 0
	for _, w := range r.Windows {
		n += w.Failed
	}
	return n
}

// Job sends the expiry reminders for every configured window.
type Job struct {
	source   Source
	notifier Notifier
	windows  []int
	admins   []int64
	loc      *time.Location
	now      func() time.Time
	breaker  *guard.CircuitBreaker
	metrics  *infra.Metrics
	events   EventSink
	logger   *slog.Logger
}

// JobConfig holds the Job's collaborators. Breaker, Metrics and Events may be nil.
type JobConfig struct {
	Source   Source
	Notifier Notifier
	Windows  []int
	Admins   []int64
	Location *time.Location
	Now      func() time.Time
	Breaker  *guard.CircuitBreaker
	Metrics  *infra.Metrics
	Events   EventSink
	Logger   *slog.Logger
}

// NewJob creates a Job.
func NewJob(cfg JobConfig) *Job {
	j := &Job{
		source:   cfg.Source,
		notifier: cfg.Notifier,
		windows:  append([]int(nil), cfg.Windows...),
		admins:   append([]int64(nil), cfg.Admins...),
		loc:      cfg.Location,
		now:      cfg.Now,
		breaker:  cfg.Breaker,
		metrics:  cfg.Metrics,
		events:   cfg.Events,
		logger:   cfg.Logger,
	}
	if j.loc == nil {
		j.loc = time.UTC
	}
	if j.now == nil {
		j.now = time.Now
	}
	return j
}

// Run processes every window in order. A failed lookup skips that window only;
// a failed send is logged and counted and the run continues.
func (j *Job) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	today := j.now().In(j.loc)
	report := Report{Today: domain.DateOf(today)}

	// Circuits only span one run; a user who unblocks the bot is retried tomorrow.
	if j.breaker != nil {
		j.breaker.Reset()
	}

	var errs []error
	for _, window := range j.windows {
		wr := j.runWindow(ctx, today, window)
		report.Windows = append(report.Windows, wr)
		if wr.Err != nil {
			errs = append(errs, wr.Err)
		}
	}

	if j.metrics != nil {
		j.metrics.ObserveReminderRun(start)
	}
	j.logger.Info("reminder run finished",
		"today", domain.FormatDisplayDate(report.Today),
		"sent", report.Sent(),
		"failed", report.Failed(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return report, errors.Join(errs...)
}

func (j *Job) runWindow(ctx context.Context, today time.Time, window int) WindowReport {
	wr := WindowReport{Window: window}

	records, err := j.source.FindExpiring(ctx, today, window)
	if err != nil {
		j.logger.Error("find expiring failed", "window", window, "error", err)
		wr.Err = fmt.Errorf("window %d: %w", window, err)
		return wr
	}
	wr.Records = len(records)

	for _, rec := range records {
		if ctx.Err() != nil {
			wr.Err = ctx.Err()
			break
		}
		daysLeft := domain.DaysUntil(rec.MedbookExpiry, today)
		expiry := domain.FormatDisplayDate(rec.MedbookExpiry)

		j.deliver(ctx, &wr, rec.TelegramID, recipientStaff, staffText(rec.FullName, expiry, daysLeft))
		for _, admin := range j.admins {
			j.deliver(ctx, &wr, admin, recipientAdmin, adminText(rec.FullName, expiry, daysLeft))
		}
	}

	j.recordEvent(ctx, wr)
	return wr
}

func (j *Job) deliver(ctx context.Context, wr *WindowReport, chatID int64, recipient, text string) {
	key := "chat:" + strconv.FormatInt(chatID, 10)

	if j.breaker != nil {
		if res := j.breaker.Check(ctx, key); !res.Allowed {
			wr.Failed++
			j.countFailed(recipient)
			j.logger.Warn("reminder skipped", "telegram_id", chatID, "recipient", recipient, "reason", res.Reason)
			return
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	err := j.notifier.Notify(sendCtx, chatID, text)
	cancel()

	if err != nil {
		wr.Failed++
		j.countFailed(recipient)
		if j.breaker != nil {
			if domain.HasCode(err, domain.CodeForbidden) {
				j.breaker.Trip(key)
			} else {
				j.breaker.RecordFailure(key)
			}
		}
		j.logger.Error("reminder delivery failed",
			"telegram_id", chatID,
			"recipient", recipient,
			"window", wr.Window,
			"error", domain.ErrDelivery(chatID, err),
		)
		return
	}

	wr.Sent++
	if j.breaker != nil {
		j.breaker.RecordSuccess(key)
	}
	if j.metrics != nil {
		j.metrics.RemindersSent.WithLabelValues(recipient).Inc()
	}
}

func (j *Job) countFailed(recipient string) {
	if j.metrics != nil {
		j.metrics.RemindersFailed.WithLabelValues(recipient).Inc()
	}
}

func (j *Job) recordEvent(ctx context.Context, wr WindowReport) {
	if j.events == nil || wr.Records == 0 {
		return
	}
	draft := domain.NewReminderDispatchedEvent(wr.Window, wr.Records, wr.Sent, wr.Failed)
	if err := j.events.RecordEvent(ctx, draft); err != nil {
		j.logger.Error("record reminder event failed", "window", wr.Window, "error", err)
	}
}

func staffText(name, expiry string, daysLeft int) string {
	return fmt.Sprintf("⚠️ Напоминание!\n%s, срок действия медкнижки истекает %s (осталось %d дн.). Оформите продление!",
		name, expiry, daysLeft)
}

func adminText(name, expiry string, daysLeft int) string {
	return fmt.Sprintf("🔔 Напоминание: у %s истекает медкнижка %s (через %d дн.)", name, expiry, daysLeft)
}
