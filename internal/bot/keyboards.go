package bot

import "github.com/staffdesk/medbook/internal/telegram"

// Reply keyboard buttons. The dispatcher matches incoming text against them.
const (
	btnMyData        = "👤 Мои данные"
	btnUpdateMedbook = "🔄 Обновить медкнижку"
	btnHelp          = "ℹ️ Помощь"
	btnAdminPanel    = "👑 Админ-панель"
	btnSearch        = "🔍 Поиск по фамилии"
	btnStats         = "📊 Статистика"
	btnExport        = "📤 Выгрузить всех"
	btnBlacklist     = "🚫 Чёрный список"
	btnBack          = "⬅️ Назад"
	btnConsent       = "Согласен"
	btnCancel        = "Отмена"
)

// Inline callback data.
const (
	cbBlacklistAdd    = "blacklist_add"
	cbBlacklistRemove = "blacklist_remove"
)

func replyKeyboard(rows ...string) *telegram.ReplyKeyboardMarkup {
	kb := &telegram.ReplyKeyboardMarkup{ResizeKeyboard: true}
	for _, text := range rows {
		kb.Keyboard = append(kb.Keyboard, []telegram.KeyboardButton{{Text: text}})
	}
	return kb
}

func mainKeyboard(admin bool) *telegram.ReplyKeyboardMarkup {
	if admin {
		return replyKeyboard(btnAdminPanel, btnMyData, btnUpdateMedbook, btnHelp)
	}
	return replyKeyboard(btnMyData, btnUpdateMedbook, btnHelp)
}

func adminKeyboard() *telegram.ReplyKeyboardMarkup {
	return replyKeyboard(btnSearch, btnStats, btnExport, btnBlacklist, btnBack)
}

func consentKeyboard() *telegram.ReplyKeyboardMarkup {
	kb := replyKeyboard(btnConsent)
	kb.OneTimeKeyboard = true
	return kb
}

func cancelKeyboard() *telegram.ReplyKeyboardMarkup {
	return replyKeyboard(btnCancel)
}

func blacklistActions() *telegram.InlineKeyboardMarkup {
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
		{{Text: "➕ Добавить", CallbackData: cbBlacklistAdd}},
		{{Text: "🗑 Удалить запись", CallbackData: cbBlacklistRemove}},
	}}
}
