package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/staffdesk/medbook/internal/conversation"
	"github.com/staffdesk/medbook/internal/domain"
	"github.com/staffdesk/medbook/internal/guard"
	"github.com/staffdesk/medbook/internal/infra"
	"github.com/staffdesk/medbook/internal/telegram"
)

// Messenger is the outbound Telegram surface the dispatcher uses.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string, markup interface{}) error
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
	SendDocument(ctx context.Context, chatID int64, filename string, data []byte, caption string) error
}

// Records is the read side of the record store used by the direct handlers.
type Records interface {
	GetStaff(ctx context.Context, telegramID int64) (*domain.StaffRecord, error)
	Exists(ctx context.Context, telegramID int64) (bool, error)
	ListAll(ctx context.Context) ([]domain.StaffRecord, error)
	Stats(ctx context.Context) (domain.Stats, error)
	GetBlacklist(ctx context.Context) ([]domain.BlacklistEntry, error)
	IsBlacklisted(ctx context.Context, fullName string) (bool, error)
}

// Admins is the administrator allow-list.
type Admins interface {
	IsAdmin(userID int64) bool
	IDs() []int64
}

// Config holds the Dispatcher's collaborators. Dedup, Limiter and Metrics may be nil.
type Config struct {
	Machine   *conversation.Machine
	Records   Records
	Messenger Messenger
	Admins    Admins
	Dedup     *guard.IdempotencyGuard
	Limiter   *guard.RateLimiter
	Metrics   *infra.Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

// Dispatcher routes updates to commands, menu buttons and conversation flows.
type Dispatcher struct {
	machine *conversation.Machine
	records Records
	out     Messenger
	admins  Admins
	dedup   *guard.IdempotencyGuard
	limiter *guard.RateLimiter
	metrics *infra.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg Config) *Dispatcher {
	d := &Dispatcher{
		machine: cfg.Machine,
		records: cfg.Records,
		out:     cfg.Messenger,
		admins:  cfg.Admins,
		dedup:   cfg.Dedup,
		limiter: cfg.Limiter,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

var _ telegram.UpdateHandler = (*Dispatcher)(nil)

// HandleUpdate processes one update. Errors are logged and answered, never returned.
func (d *Dispatcher) HandleUpdate(ctx context.Context, u telegram.Update) {
	if d.metrics != nil {
		d.metrics.UpdatesReceived.WithLabelValues(u.Kind()).Inc()
	}
	if d.dedup != nil {
		if res := d.dedup.Check(ctx, strconv.FormatInt(u.UpdateID, 10)); !res.Allowed {
			d.logger.Debug("duplicate update dropped", "update_id", u.UpdateID)
			return
		}
	}

	sender := u.SenderID()
	if sender == 0 {
		return
	}
	if d.limiter != nil {
		if res := d.limiter.Check(ctx, "user:"+strconv.FormatInt(sender, 10)); !res.Allowed {
			if d.metrics != nil {
				d.metrics.UpdatesLimited.Inc()
			}
			d.logger.Warn("update rate limited", "telegram_id", sender)
			return
		}
	}

	switch {
	case u.CallbackQuery != nil:
		d.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil && u.Message.Text != "":
		d.handleMessage(ctx, u.Message)
	}
}

// NotifyStartup tells every administrator that the bot is running.
func (d *Dispatcher) NotifyStartup(ctx context.Context) {
	for _, id := range d.admins.IDs() {
		if err := d.out.SendMessage(ctx, id, textStartup, nil); err != nil {
			d.logger.Warn("startup notice failed", "telegram_id", id, "error", err)
		}
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, msg *telegram.Message) {
	userID := msg.From.ID
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	if cmd, ok := command(text); ok {
		switch cmd {
		case "start":
			d.cmdStart(ctx, userID, chatID)
		case "cancel":
			d.cmdCancel(ctx, userID, chatID)
		case "help":
			d.reply(ctx, chatID, textHelp, nil)
		default:
			d.continueFlow(ctx, userID, chatID, text)
		}
		return
	}

	switch text {
	case btnMyData:
		d.showMyData(ctx, userID, chatID)
	case btnUpdateMedbook:
		out, err := d.machine.StartMedbookUpdate(ctx, userID)
		d.replyStart(ctx, userID, chatID, out, err, nil)
	case btnHelp:
		d.reply(ctx, chatID, textHelp, nil)
	case btnBack:
		d.reply(ctx, chatID, textBackToMain, mainKeyboard(d.admins.IsAdmin(userID)))
	case btnAdminPanel:
		if !d.admins.IsAdmin(userID) {
			d.reply(ctx, chatID, textNoAdminRights, nil)
			return
		}
		d.reply(ctx, chatID, textAdminPanel, adminKeyboard())
	case btnSearch:
		out, err := d.machine.StartSearch(ctx, userID)
		d.replyStart(ctx, userID, chatID, out, err, nil)
	case btnStats:
		d.adminOnly(userID, func() { d.showStats(ctx, chatID) })
	case btnExport:
		d.adminOnly(userID, func() { d.exportAll(ctx, chatID) })
	case btnBlacklist:
		d.adminOnly(userID, func() { d.showBlacklist(ctx, chatID) })
	default:
		d.continueFlow(ctx, userID, chatID, text)
	}
}

func (d *Dispatcher) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) {
	if err := d.out.AnswerCallbackQuery(ctx, cb.ID, ""); err != nil {
		d.logger.Warn("answer callback failed", "telegram_id", cb.From.ID, "error", err)
	}

	userID := cb.From.ID
	chatID := userID
	if cb.Message != nil {
		chatID = cb.Message.Chat.ID
	}

	switch cb.Data {
	case cbBlacklistAdd:
		out, err := d.machine.StartBlacklistAdd(ctx, userID)
		d.replyStart(ctx, userID, chatID, out, err, cancelKeyboard())
	case cbBlacklistRemove:
		out, err := d.machine.StartBlacklistRemove(ctx, userID)
		d.replyStart(ctx, userID, chatID, out, err, cancelKeyboard())
	default:
		d.logger.Debug("unknown callback", "telegram_id", userID, "data", cb.Data)
	}
}

func (d *Dispatcher) cmdStart(ctx context.Context, userID, chatID int64) {
	if d.admins.IsAdmin(userID) {
		d.reply(ctx, chatID, textAdmin, mainKeyboard(true))
		return
	}
	exists, err := d.records.Exists(ctx, userID)
	if err != nil {
		d.storeFailed(ctx, chatID, "staff exists", userID, err)
		return
	}
	if exists {
		d.reply(ctx, chatID, textAlreadyRegistered, mainKeyboard(false))
		return
	}
	out, err := d.machine.StartRegistration(ctx, userID)
	d.replyStart(ctx, userID, chatID, out, err, consentKeyboard())
}

func (d *Dispatcher) cmdCancel(ctx context.Context, userID, chatID int64) {
	active, err := d.machine.Cancel(ctx, userID)
	if err != nil {
		d.storeFailed(ctx, chatID, "cancel session", userID, err)
		return
	}
	if !active {
		d.reply(ctx, chatID, textNothingToCancel, nil)
		return
	}
	d.reply(ctx, chatID, textCancelled, mainKeyboard(d.admins.IsAdmin(userID)))
}

// continueFlow feeds text to the user's active flow. Text outside a flow is ignored.
func (d *Dispatcher) continueFlow(ctx context.Context, userID, chatID int64, text string) {
	out, handled, err := d.machine.Handle(ctx, userID, text)
	if err != nil {
		d.storeFailed(ctx, chatID, "advance flow", userID, err)
		return
	}
	if !handled {
		d.logger.Debug("message outside flow ignored", "telegram_id", userID)
		return
	}
	if out.Done() {
		d.finishFlow(ctx, userID, chatID, out)
		return
	}
	d.reply(ctx, chatID, out.Reply, nil)
}

func (d *Dispatcher) finishFlow(ctx context.Context, userID, chatID int64, out conversation.Outcome) {
	if d.metrics != nil {
		d.metrics.FlowsFinished.WithLabelValues(string(out.Flow), string(out.Result)).Inc()
	}

	admin := d.admins.IsAdmin(userID)
	var markup interface{} = mainKeyboard(admin)
	switch out.Flow {
	case conversation.FlowBlacklistAdd, conversation.FlowBlacklistRemove, conversation.FlowStaffSearch:
		markup = adminKeyboard()
	}

	text := out.Reply
	if out.Flow == conversation.FlowStaffSearch && out.Result == conversation.ResultCompleted {
		text = renderSearch(out.Staff)
	}
	for _, chunk := range chunkText(text, telegram.MaxMessageLength) {
		d.reply(ctx, chatID, chunk, markup)
	}

	if out.Registered != nil {
		d.checkBlacklisted(ctx, *out.Registered)
	}
}

// checkBlacklisted warns every admin when a newly registered name is blacklisted.
func (d *Dispatcher) checkBlacklisted(ctx context.Context, in domain.StaffInput) {
	listed, err := d.records.IsBlacklisted(ctx, in.FullName)
	if err != nil {
		d.countStoreError("blacklist lookup")
		d.logger.Error("blacklist check failed", "telegram_id", in.TelegramID, "error", err)
		return
	}
	if !listed {
		return
	}
	d.logger.Warn("blacklisted person registered", "telegram_id", in.TelegramID)
	warning := renderBlacklistedWarning(in.FullName, in.TelegramID)
	for _, id := range d.admins.IDs() {
		d.reply(ctx, id, warning, nil)
	}
}

func (d *Dispatcher) showMyData(ctx context.Context, userID, chatID int64) {
	rec, err := d.records.GetStaff(ctx, userID)
	if err != nil {
		d.storeFailed(ctx, chatID, "get staff", userID, err)
		return
	}
	if rec == nil {
		d.reply(ctx, chatID, textNotRegistered, nil)
		return
	}
	d.reply(ctx, chatID, renderMyData(rec), nil)
}

func (d *Dispatcher) showStats(ctx context.Context, chatID int64) {
	st, err := d.records.Stats(ctx)
	if err != nil {
		d.storeFailed(ctx, chatID, "stats", chatID, err)
		return
	}
	d.reply(ctx, chatID, renderStats(st), nil)
}

func (d *Dispatcher) showBlacklist(ctx context.Context, chatID int64) {
	entries, err := d.records.GetBlacklist(ctx)
	if err != nil {
		d.storeFailed(ctx, chatID, "list blacklist", chatID, err)
		return
	}
	d.reply(ctx, chatID, renderBlacklist(entries), blacklistActions())
}

// exportAll sends the staff list as text chunks, then as an XLSX document.
func (d *Dispatcher) exportAll(ctx context.Context, chatID int64) {
	recs, err := d.records.ListAll(ctx)
	if err != nil {
		d.storeFailed(ctx, chatID, "list staff", chatID, err)
		return
	}
	if len(recs) == 0 {
		d.reply(ctx, chatID, textNoStaff, nil)
		return
	}
	for _, chunk := range chunkText(renderExport(recs), telegram.MaxMessageLength) {
		d.reply(ctx, chatID, chunk, nil)
	}

	data, err := buildExportXLSX(recs)
	if err != nil {
		d.logger.Error("build export failed", "telegram_id", chatID, "error", err)
		return
	}
	name := fmt.Sprintf("staff_%s.xlsx", d.now().Format("20060102"))
	caption := fmt.Sprintf("📤 Выгрузка: %d сотрудников", len(recs))
	if err := d.out.SendDocument(ctx, chatID, name, data, caption); err != nil {
		d.logger.Error("send export failed", "telegram_id", chatID, "error", err)
	}
}

// replyStart answers a flow start. Forbidden starts are ignored silently.
func (d *Dispatcher) replyStart(ctx context.Context, userID, chatID int64, out conversation.Outcome, err error, markup interface{}) {
	if err != nil {
		if domain.HasCode(err, domain.CodeForbidden) {
			d.logger.Debug("admin action refused", "telegram_id", userID)
			return
		}
		d.storeFailed(ctx, chatID, "start flow", userID, err)
		return
	}
	if out.Done() {
		markup = mainKeyboard(d.admins.IsAdmin(userID))
	}
	d.reply(ctx, chatID, out.Reply, markup)
}

func (d *Dispatcher) adminOnly(userID int64, fn func()) {
	if !d.admins.IsAdmin(userID) {
		d.logger.Debug("admin action refused", "telegram_id", userID)
		return
	}
	fn()
}

func (d *Dispatcher) storeFailed(ctx context.Context, chatID int64, op string, userID int64, err error) {
	d.countStoreError(op)
	d.logger.Error("request failed", "op", op, "telegram_id", userID, "error", err)
	d.reply(ctx, chatID, textFailure, nil)
}

func (d *Dispatcher) countStoreError(op string) {
	if d.metrics != nil {
		d.metrics.StoreErrors.WithLabelValues(op).Inc()
	}
}

func (d *Dispatcher) reply(ctx context.Context, chatID int64, text string, markup interface{}) {
	if text == "" {
		return
	}
	if err := d.out.SendMessage(ctx, chatID, text, markup); err != nil {
		var apiErr *telegram.APIError
		if errors.As(err, &apiErr) {
			d.logger.Warn("send message rejected", "telegram_id", chatID, "code", apiErr.Code, "error", err)
			return
		}
		d.logger.Error("send message failed", "telegram_id", chatID, "error", err)
	}
}

// command extracts the command name from "/name", "/name@bot" or "/name args".
func command(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	name := strings.TrimPrefix(strings.Fields(text)[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return strings.ToLower(name), name != ""
}
