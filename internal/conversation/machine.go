package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/staffdesk/medbook/internal/domain"
)

// Store is the subset of the record store the flows commit to.
type Store interface {
	UpsertStaff(ctx context.Context, input domain.StaffInput) error
	UpdateMedbookExpiry(ctx context.Context, telegramID int64, expiry time.Time) error
	Exists(ctx context.Context, telegramID int64) (bool, error)
	FindBySurname(ctx context.Context, substr string) ([]domain.StaffRecord, error)
	AddToBlacklist(ctx context.Context, input domain.BlacklistInput) (*domain.BlacklistEntry, error)
	RemoveFromBlacklist(ctx context.Context, substr string) (int64, error)
	RemoveFromBlacklistExact(ctx context.Context, fullName string) (int64, error)
}

// Authorizer decides who may start the admin flows.
type Authorizer interface {
	IsAdmin(userID int64) bool
}

// Result classifies what a step did.
type Result string

const (
	ResultPrompt    Result = "prompt"
	ResultReprompt  Result = "reprompt"
	ResultCompleted Result = "completed"
	ResultFailed    Result = "failed"
	ResultCancelled Result = "cancelled"
)

// Outcome is what the caller should show after a Start or Handle call.
// Completed staff searches leave Reply empty and carry the matches in Staff.
type Outcome struct {
	Flow   FlowKind
	Step   Step
	Result Result
	Reply  string

	Staff      []domain.StaffRecord
	Removed    int64
	Entry      *domain.BlacklistEntry
	Registered *domain.StaffInput
}

// Done reports whether the flow has ended.
func (o Outcome) Done() bool { return o.Step == StepDone }

// Option configures a Machine.
type Option func(*Machine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithLocation sets the zone that decides "today" for age and expiry checks.
func WithLocation(loc *time.Location) Option {
	return func(m *Machine) { m.loc = loc }
}

// WithReminderDays lists the reminder windows mentioned in the registration summary.
func WithReminderDays(days []int) Option {
	return func(m *Machine) { m.reminderDays = append([]int(nil), days...) }
}

// Machine drives the per-user conversation flows.
type Machine struct {
	sessions     SessionStore
	store        Store
	admins       Authorizer
	logger       *slog.Logger
	now          func() time.Time
	loc          *time.Location
	reminderDays []int
	locks        *userLocks
}

// NewMachine creates a Machine.
func NewMachine(sessions SessionStore, store Store, admins Authorizer, logger *slog.Logger, opts ...Option) *Machine {
	m := &Machine{
		sessions: sessions,
		store:    store,
		admins:   admins,
		logger:   logger,
		now:      time.Now,
		loc:      time.UTC,
		locks:    newUserLocks(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) today() time.Time {
	return m.now().In(m.loc)
}

// StartRegistration begins the registration flow at the consent step.
func (m *Machine) StartRegistration(ctx context.Context, userID int64) (Outcome, error) {
	return m.start(ctx, userID, FlowRegistration, textConsent)
}

// StartMedbookUpdate begins the medbook update flow for a registered user.
// Unregistered users get a refusal and no session.
func (m *Machine) StartMedbookUpdate(ctx context.Context, userID int64) (Outcome, error) {
	unlock := m.locks.lock(userID)
	defer unlock()

	exists, err := m.store.Exists(ctx, userID)
	if err != nil {
		return Outcome{}, err
	}
	if !exists {
		return Outcome{Flow: FlowMedbookUpdate, Step: StepDone, Result: ResultFailed, Reply: textNotRegistered}, nil
	}
	return m.putFresh(ctx, userID, FlowMedbookUpdate, textAskNewExpiry)
}

// StartBlacklistAdd begins the admin blacklist flow.
func (m *Machine) StartBlacklistAdd(ctx context.Context, userID int64) (Outcome, error) {
	if !m.admins.IsAdmin(userID) {
		return Outcome{}, domain.ErrForbidden("blacklist requires admin")
	}
	return m.start(ctx, userID, FlowBlacklistAdd, textBlacklistAskName)
}

// StartSearch begins the admin surname search.
func (m *Machine) StartSearch(ctx context.Context, userID int64) (Outcome, error) {
	if !m.admins.IsAdmin(userID) {
		return Outcome{}, domain.ErrForbidden("search requires admin")
	}
	return m.start(ctx, userID, FlowStaffSearch, textAskSurname)
}

// StartBlacklistRemove begins the admin blacklist removal.
func (m *Machine) StartBlacklistRemove(ctx context.Context, userID int64) (Outcome, error) {
	if !m.admins.IsAdmin(userID) {
		return Outcome{}, domain.ErrForbidden("blacklist requires admin")
	}
	return m.start(ctx, userID, FlowBlacklistRemove, textAskRemoveName)
}

// Cancel discards the user's session. It reports whether one was active.
func (m *Machine) Cancel(ctx context.Context, userID int64) (bool, error) {
	unlock := m.locks.lock(userID)
	defer unlock()

	sess, err := m.sessions.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	if sess == nil {
		return false, nil
	}
	return true, m.sessions.Delete(ctx, userID)
}

// Active returns the user's current session.
func (m *Machine) Active(ctx context.Context, userID int64) (Session, bool, error) {
	sess, err := m.sessions.Get(ctx, userID)
	if err != nil || sess == nil {
		return Session{}, false, err
	}
	return *sess, true, nil
}

// Handle feeds one message to the user's active flow. handled is false when
// the user has no active flow and the message should be routed elsewhere.
func (m *Machine) Handle(ctx context.Context, userID int64, text string) (Outcome, bool, error) {
	unlock := m.locks.lock(userID)
	defer unlock()

	sess, err := m.sessions.Get(ctx, userID)
	if err != nil {
		return Outcome{}, false, err
	}
	if sess == nil {
		return Outcome{}, false, nil
	}

	out := m.step(ctx, sess, text)
	out.Flow = sess.Flow

	if out.Done() {
		if err := m.sessions.Delete(ctx, userID); err != nil {
			return out, true, err
		}
		m.logger.Info("flow finished",
			"telegram_id", userID,
			"flow", string(sess.Flow),
			"result", string(out.Result),
		)
		return out, true, nil
	}

	sess.Step = out.Step
	if err := m.sessions.Put(ctx, sess); err != nil {
		return out, true, err
	}
	return out, true, nil
}

func (m *Machine) start(ctx context.Context, userID int64, flow FlowKind, reply string) (Outcome, error) {
	unlock := m.locks.lock(userID)
	defer unlock()
	return m.putFresh(ctx, userID, flow, reply)
}

// putFresh replaces any active session with a new one at the flow's first step.
// The caller holds the user's lock.
func (m *Machine) putFresh(ctx context.Context, userID int64, flow FlowKind, reply string) (Outcome, error) {
	steps, ok := flowSteps[flow]
	if !ok {
		return Outcome{}, domain.ErrInternal(fmt.Sprintf("unknown flow %q", flow), nil)
	}

	prev, err := m.sessions.Get(ctx, userID)
	if err != nil {
		return Outcome{}, err
	}
	if prev != nil {
		m.logger.Info("flow replaced",
			"telegram_id", userID,
			"flow", string(prev.Flow),
			"step", string(prev.Step),
		)
	}

	sess := &Session{
		UserID:    userID,
		Flow:      flow,
		Step:      steps[0],
		StartedAt: m.now(),
	}
	if err := m.sessions.Put(ctx, sess); err != nil {
		return Outcome{}, err
	}
	return Outcome{Flow: flow, Step: sess.Step, Result: ResultPrompt, Reply: reply}, nil
}

func (m *Machine) step(ctx context.Context, sess *Session, text string) Outcome {
	switch sess.Flow {
	case FlowRegistration:
		return m.stepRegistration(ctx, sess, text)
	case FlowMedbookUpdate:
		return m.stepMedbookUpdate(ctx, sess, text)
	case FlowBlacklistAdd:
		return m.stepBlacklistAdd(ctx, sess, text)
	case FlowStaffSearch:
		return m.stepSearch(ctx, sess, text)
	case FlowBlacklistRemove:
		return m.stepBlacklistRemove(ctx, sess, text)
	}
	m.logger.Error("unknown flow in session", "telegram_id", sess.UserID, "flow", string(sess.Flow))
	return failed(textOperationFailed)
}

func prompt(step Step, reply string) Outcome {
	return Outcome{Step: step, Result: ResultPrompt, Reply: reply}
}

func reprompt(step Step, reply string) Outcome {
	return Outcome{Step: step, Result: ResultReprompt, Reply: reply}
}

func failed(reply string) Outcome {
	return Outcome{Step: StepDone, Result: ResultFailed, Reply: reply}
}

func cancelled() Outcome {
	return Outcome{Step: StepDone, Result: ResultCancelled, Reply: textCancelled}
}

func completed(reply string) Outcome {
	return Outcome{Step: StepDone, Result: ResultCompleted, Reply: reply}
}

// commitFailed logs a failed commit without personal data.
func (m *Machine) commitFailed(sess *Session, op string, err error) {
	m.logger.Error("flow commit failed",
		"telegram_id", sess.UserID,
		"flow", string(sess.Flow),
		"op", op,
		"error", err,
	)
}
