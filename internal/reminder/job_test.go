package reminder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/staffdesk/medbook/internal/domain"
	"github.com/staffdesk/medbook/internal/guard"
	"github.com/staffdesk/medbook/internal/infra"
	"github.com/staffdesk/medbook/internal/service"
	"github.com/staffdesk/medbook/internal/telegram"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) FindExpiring(ctx context.Context, today time.Time, daysAhead int) ([]domain.ExpiringRecord, error) {
	args := m.Called(ctx, today, daysAhead)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ExpiringRecord), args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, chatID int64, text string) error {
	return m.Called(ctx, chatID, text).Error(0)
}

var (
	msk   = time.FixedZone("MSK", 3*60*60)
	clock = func() time.Time { return time.Date(2024, 6, 1, 10, 0, 0, 0, msk) }

	anna  = domain.ExpiringRecord{TelegramID: 100, FullName: "Анна Петрова", MedbookExpiry: date(2024, 6, 10)}
	boris = domain.ExpiringRecord{TelegramID: 200, FullName: "Борис Иванов", MedbookExpiry: date(2024, 6, 3)}
)

const adminID int64 = 1

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestJob(src Source, n Notifier, opts func(*JobConfig)) *Job {
	cfg := JobConfig{
		Source:   src,
		Notifier: n,
		Windows:  []int{14, 3},
		Admins:   []int64{adminID},
		Location: msk,
		Now:      clock,
		Logger:   testLogger(),
	}
	if opts != nil {
		opts(&cfg)
	}
	return NewJob(cfg)
}

func TestJob_SendsToStaffAndAdmins(t *testing.T) {
	src := new(mockSource)
	src.On("FindExpiring", mock.Anything, mock.Anything, 14).Return([]domain.ExpiringRecord{anna}, nil)
	src.On("FindExpiring", mock.Anything, mock.Anything, 3).Return([]domain.ExpiringRecord{}, nil)

	n := new(mockNotifier)
	n.On("Notify", mock.Anything, int64(100),
		"⚠️ Напоминание!\nАнна Петрова, срок действия медкнижки истекает 10.06.2024 (осталось 9 дн.). Оформите продление!").
		Return(nil).Once()
	n.On("Notify", mock.Anything, adminID,
		"🔔 Напоминание: у Анна Петрова истекает медкнижка 10.06.2024 (через 9 дн.)").
		Return(nil).Once()

	report, err := newTestJob(src, n, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Sent())
	assert.Zero(t, report.Failed())
	assert.Equal(t, date(2024, 6, 1), report.Today)
	require.Len(t, report.Windows, 2)
	assert.Equal(t, 14, report.Windows[0].Window)
	assert.Equal(t, 1, report.Windows[0].Records)
	n.AssertExpectations(t)
	src.AssertExpectations(t)
}

func TestJob_TodayUsesConfiguredZone(t *testing.T) {
	// 22:30 UTC on May 31 is already June 1 in Moscow.
	late := func() time.Time { return time.Date(2024, 5, 31, 22, 30, 0, 0, time.UTC) }

	src := new(mockSource)
	src.On("FindExpiring", mock.Anything, mock.MatchedBy(func(today time.Time) bool {
		return domain.DateOf(today).Equal(date(2024, 6, 1))
	}), 3).Return([]domain.ExpiringRecord{}, nil)

	job := newTestJob(src, new(mockNotifier), func(c *JobConfig) {
		c.Windows = []int{3}
		c.Now = late
	})
	report, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, date(2024, 6, 1), report.Today)
	src.AssertExpectations(t)
}

func TestJob_DeliveryFailureDoesNotAbortRun(t *testing.T) {
	src := new(mockSource)
	src.On("FindExpiring", mock.Anything, mock.Anything, 14).Return([]domain.ExpiringRecord{anna, boris}, nil)
	src.On("FindExpiring", mock.Anything, mock.Anything, 3).Return([]domain.ExpiringRecord{boris}, nil)

	n := new(mockNotifier)
	n.On("Notify", mock.Anything, int64(200), mock.Anything).Return(errors.New("bot was blocked by the user"))
	n.On("Notify", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	reg := prometheus.NewRegistry()
	metrics := infra.NewMetrics(reg)

	report, err := newTestJob(src, n, func(c *JobConfig) { c.Metrics = metrics }).Run(context.Background())
	require.NoError(t, err)

	// window 14: anna + admin, boris fails, boris admin; window 3: boris fails, admin.
	assert.Equal(t, 4, report.Sent())
	assert.Equal(t, 2, report.Failed())
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.RemindersFailed.WithLabelValues(recipientStaff)))
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.RemindersSent.WithLabelValues(recipientAdmin)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RemindersSent.WithLabelValues(recipientStaff)))
}

func TestJob_LookupFailureSkipsOnlyThatWindow(t *testing.T) {
	src := new(mockSource)
	src.On("FindExpiring", mock.Anything, mock.Anything, 14).Return(nil, errors.New("connection refused"))
	src.On("FindExpiring", mock.Anything, mock.Anything, 3).Return([]domain.ExpiringRecord{boris}, nil)

	n := new(mockNotifier)
	n.On("Notify", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	report, err := newTestJob(src, n, nil).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "window 14")

	require.Len(t, report.Windows, 2)
	assert.Error(t, report.Windows[0].Err)
	assert.NoError(t, report.Windows[1].Err)
	assert.Equal(t, 2, report.Sent())
}

func TestJob_OpenCircuitSkipsRecipient(t *testing.T) {
	src := new(mockSource)
	src.On("FindExpiring", mock.Anything, mock.Anything, 14).Return([]domain.ExpiringRecord{boris}, nil)
	src.On("FindExpiring", mock.Anything, mock.Anything, 3).Return([]domain.ExpiringRecord{boris}, nil)

	n := new(mockNotifier)
	n.On("Notify", mock.Anything, int64(200), mock.Anything).Return(errors.New("forbidden"))
	n.On("Notify", mock.Anything, adminID, mock.Anything).Return(nil)

	breaker := guard.NewCircuitBreaker(1, time.Hour)
	report, err := newTestJob(src, n, func(c *JobConfig) { c.Breaker = breaker }).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Failed())
	assert.Equal(t, 2, report.Sent())
	n.AssertNumberOfCalls(t, "Notify", 3)
	assert.Equal(t, guard.CircuitOpen, breaker.State("chat:200"))
}

func TestJob_BlockedRecipientTripsImmediately(t *testing.T) {
	src := new(mockSource)
	src.On("FindExpiring", mock.Anything, mock.Anything, 14).Return([]domain.ExpiringRecord{boris}, nil)
	src.On("FindExpiring", mock.Anything, mock.Anything, 3).Return([]domain.ExpiringRecord{boris}, nil)

	n := new(mockNotifier)
	n.On("Notify", mock.Anything, int64(200), mock.Anything).Return(domain.ErrRecipientBlocked(200, errors.New("403")))
	n.On("Notify", mock.Anything, adminID, mock.Anything).Return(nil)

	breaker := guard.NewCircuitBreaker(5, time.Hour)
	job := newTestJob(src, n, func(c *JobConfig) { c.Breaker = breaker })

	report, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Failed())
	n.AssertNumberOfCalls(t, "Notify", 3)

	// The next run starts with fresh circuits.
	_, err = job.Run(context.Background())
	require.NoError(t, err)
	n.AssertNumberOfCalls(t, "Notify", 6)
}

func TestJob_OverlappingWindowsNotifyTwice(t *testing.T) {
	store := service.NewMemoryRecordStore()
	store.Put(domain.StaffRecord{
		TelegramID:    200,
		FullName:      "Борис Иванов",
		MedbookStatus: domain.MedbookActive,
		MedbookExpiry: date(2024, 6, 3),
		ConsentGiven:  true,
	})

	n := new(mockNotifier)
	n.On("Notify", mock.Anything, int64(200), mock.Anything).Return(nil)
	n.On("Notify", mock.Anything, adminID, mock.Anything).Return(nil)

	report, err := newTestJob(store, n, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, report.Sent())
	require.Len(t, report.Windows, 2)
	for _, wr := range report.Windows {
		assert.Equal(t, 1, wr.Records, "window %d", wr.Window)
		assert.Equal(t, 2, wr.Sent, "window %d", wr.Window)
	}
	n.AssertNumberOfCalls(t, "Notify", 4)
}

func TestJob_RecordsWindowEvents(t *testing.T) {
	store := service.NewMemoryRecordStore()
	store.Put(domain.StaffRecord{
		TelegramID:    100,
		FullName:      "Анна Петрова",
		MedbookStatus: domain.MedbookActive,
		MedbookExpiry: date(2024, 6, 10),
		ConsentGiven:  true,
	})

	n := new(mockNotifier)
	n.On("Notify", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	job := newTestJob(store, n, func(c *JobConfig) { c.Events = store })
	report, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Sent())

	events := store.Events()
	require.Len(t, events, 1, "empty windows record nothing")
	assert.Equal(t, domain.EventReminderDispatched, events[0].EventType)
	assert.Equal(t, "14", events[0].AggregateID)
	assert.JSONEq(t, `{"window_days":14,"records":1,"sent":2,"failed":0}`, string(events[0].Payload))
}

func TestTelegramNotifier_SendsPlainMessage(t *testing.T) {
	s := &recordingSender{}
	require.NoError(t, NewTelegramNotifier(s).Notify(context.Background(), 42, "hi"))
	assert.Equal(t, int64(42), s.chatID)
	assert.Equal(t, "hi", s.text)
	assert.Nil(t, s.markup)
}

func TestTelegramNotifier_BlockedChat(t *testing.T) {
	s := &recordingSender{err: &telegram.APIError{Method: "sendMessage", Code: 403, Description: "Forbidden: bot was blocked by the user"}}
	err := NewTelegramNotifier(s).Notify(context.Background(), 42, "hi")
	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.CodeForbidden))
	assert.True(t, telegram.IsForbidden(err))

	s.err = errors.New("connection reset")
	err = NewTelegramNotifier(s).Notify(context.Background(), 42, "hi")
	require.Error(t, err)
	assert.False(t, domain.HasCode(err, domain.CodeForbidden))
}

type recordingSender struct {
	chatID int64
	text   string
	markup interface{}
	err    error
}

func (r *recordingSender) SendMessage(_ context.Context, chatID int64, text string, markup interface{}) error {
	r.chatID, r.text, r.markup = chatID, text, markup
	return r.err
}
