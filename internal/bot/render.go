package bot

import (
	"fmt"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/staffdesk/medbook/internal/domain"
)

const (
	textAdmin             = "👑 Вы администратор."
	textAlreadyRegistered = "✅ Вы уже зарегистрированы!"
	textNotRegistered     = "❌ Вы не зарегистрированы. Нажмите /start"
	textNoAdminRights     = "❌ У вас нет прав администратора."
	textAdminPanel        = "👑 Админ-панель"
	textBackToMain        = "🔙 Возврат в главное меню"
	textNothingFound      = "❌ Ничего не найдено."
	textNoStaff           = "❌ Нет активных официантов."
	textBlacklistEmpty    = "✅ Чёрный список пуст"
	textCancelled         = "Действие отменено"
	textNothingToCancel   = "Нет активного действия."
	textFailure           = "❌ Не удалось выполнить операцию."
	textStartup           = "✅ Бот запущен и готов к работе!"
	textHelp              = "ℹ️ Справка:\n\n" +
		"👤 Для официантов:\n— /start для регистрации\n— Автоматические напоминания\n\n" +
		"👑 Для админов:\n— Поиск, выгрузка, ЧС\n\n" +
		"🔒 Данные защищены.\n\n/cancel отменяет текущее действие."

	blacklistPreview = 10
)

func statusLabel(s domain.MedbookStatus) string {
	switch s {
	case domain.MedbookActive:
		return "✅ Действует"
	case domain.MedbookExpired:
		return "❌ Просрочена"
	case domain.MedbookPending:
		return "🔄 Оформляется"
	}
	return string(s)
}

func statusEmoji(s domain.MedbookStatus) string {
	switch s {
	case domain.MedbookActive:
		return "✅"
	case domain.MedbookExpired:
		return "❌"
	}
	return "🔄"
}

func renderMyData(rec *domain.StaffRecord) string {
	return fmt.Sprintf("📋 Ваши данные:\n\n"+
		"ФИО: %s\n"+
		"Дата рождения: %s\n"+
		"Телефон: %s\n"+
		"Медкнижка: %s до %s\n\n"+
		"Для обновления — нажмите «%s»",
		rec.FullName,
		domain.FormatDisplayDate(rec.BirthDate),
		rec.Phone,
		statusLabel(rec.MedbookStatus),
		domain.FormatDisplayDate(rec.MedbookExpiry),
		btnUpdateMedbook,
	)
}

func renderSearch(recs []domain.StaffRecord) string {
	if len(recs) == 0 {
		return textNothingFound
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📋 Найдено %d сотрудников:\n\n", len(recs))
	for i, r := range recs {
		fmt.Fprintf(&b, "%d. %s\n   ДР: %s\n   Тел: %s\n   Медкнижка: %s до %s\n\n",
			i+1, r.FullName,
			domain.FormatDisplayDate(r.BirthDate),
			r.Phone,
			statusEmoji(r.MedbookStatus),
			domain.FormatDisplayDate(r.MedbookExpiry),
		)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderStats(st domain.Stats) string {
	return fmt.Sprintf("📊 Статистика:\n\n👥 Активных: %d\n⚠️ Просрочена: %d\n🚫 В ЧС: %d",
		st.TotalActive, st.TotalExpired, st.TotalBlacklisted)
}

func renderBlacklist(entries []domain.BlacklistEntry) string {
	if len(entries) == 0 {
		return textBlacklistEmpty
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🚫 В чёрном списке (%d чел.):\n\n", len(entries))
	for i, e := range entries {
		if i == blacklistPreview {
			break
		}
		phone := "нет телефона"
		if e.Phone != nil && *e.Phone != "" {
			phone = *e.Phone
		}
		fmt.Fprintf(&b, "%d. %s (%s)\n   Причина: %s\n   Добавлен: %s\n\n",
			i+1, e.FullName, phone, e.Reason, domain.FormatDisplayDate(e.BlacklistedAt))
	}
	if len(entries) > blacklistPreview {
		fmt.Fprintf(&b, "... и ещё %d записей", len(entries)-blacklistPreview)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderExport(recs []domain.StaffRecord) string {
	var b strings.Builder
	b.WriteString("ФИО | ДР | Телефон | Статус | Медкнижка до\n")
	for _, r := range recs {
		fmt.Fprintf(&b, "%s | %s | %s | %s | %s\n",
			r.FullName,
			domain.FormatDisplayDate(r.BirthDate),
			r.Phone,
			statusLabel(r.MedbookStatus),
			domain.FormatDisplayDate(r.MedbookExpiry),
		)
	}
	return b.String()
}

func renderBlacklistedWarning(name string, telegramID int64) string {
	return fmt.Sprintf("⚠️ Зарегистрировался сотрудник из чёрного списка: %s (ID: %d)", name, telegramID)
}

// chunkText splits text into pieces of at most limit UTF-16 code units, the
// unit Telegram measures messages in, breaking after a newline where possible.
func chunkText(text string, limit int) []string {
	var chunks []string
	for utf16Len(text) > limit {
		cut := cutIndex(text, limit)
		if nl := strings.LastIndexByte(text[:cut], '\n'); nl > 0 {
			cut = nl + 1
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// utf16Units is the UTF-16 length of r. Invalid runes encode as U+FFFD.
func utf16Units(r rune) int {
	if n := utf16.RuneLen(r); n > 0 {
		return n
	}
	return 1
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16Units(r)
	}
	return n
}

// cutIndex returns the byte index where the longest prefix of s within limit
// UTF-16 units ends. It always advances by at least one rune.
func cutIndex(s string, limit int) int {
	units := 0
	for pos, r := range s {
		units += utf16Units(r)
		if units > limit {
			if pos == 0 {
				_, size := utf8.DecodeRuneInString(s)
				return size
			}
			return pos
		}
	}
	return len(s)
}
