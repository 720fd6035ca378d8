package conversation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/staffdesk/medbook/internal/domain"
)

// User-facing texts. The bot speaks Russian.
const (
	textConsent = "👋 Добро пожаловать!\n\n" +
		"Подтвердите согласие на обработку ПДн:\n" +
		"— ФИО\n— Дата рождения\n— Телефон\n— Данные о медкнижке\n\n" +
		"Напишите 'Согласен' для продолжения."
	textConsentRetry  = "Напишите 'Согласен' для продолжения."
	textAskFullName   = "👤 Введите ФИО:"
	textFullNameShort = "ФИО должно содержать минимум 5 символов:"
	textAskBirthDate  = "📅 Дата рождения ДД.ММ.ГГГГ:"
	textBadDate       = "Неверный формат. Укажите ДД.ММ.ГГГГ:"
	textTooYoung      = "Возраст должен быть не менее 16 лет:"
	textAskPhone      = "📱 Телефон +79991234567:"
	textBadPhone      = "Неверный формат. Укажите +79991234567:"
	textAskExpiry     = "⚕️ Дата окончания медкнижки ДД.ММ.ГГГГ:"
	textStaleExpiry   = "Укажите планируемую дату продления:"
	textSaveFailed    = "❌ Ошибка сохранения данных."

	textAskNewExpiry  = "⚕️ Новая дата окончания ДД.ММ.ГГГГ:"
	textNotRegistered = "❌ Вы не зарегистрированы. Нажмите /start"
	textExpiryUpdated = "✅ Срок обновлён до %s"

	textBlacklistAskName   = "Введите ФИО:"
	textBlacklistAskPhone  = "Телефон (или '-'):"
	textBlacklistAskBirth  = "Дата рождения ДД.ММ.ГГГГ (или '-'):"
	textBlacklistAskReason = "Причина добавления в ЧС:"
	textBlacklistEmpty     = "Поле не может быть пустым:"
	textBlacklistAdded     = "✅ %s добавлен в ЧС.\nПричина: %s"
	textBlacklistFailed    = "❌ Ошибка добавления в ЧС"
	textCancelled          = "Действие отменено"

	textAskSurname      = "🔍 Введите фамилию:"
	textAskRemoveName   = "Введите ФИО для удаления из ЧС.\nВ кавычках («Иванов Иван») удаляется только точное совпадение:"
	textRemoved         = "✅ Удалено %d записей"
	textNothingRemoved  = "❌ Записи не найдены"
	textQueryEmpty      = "Введите непустой запрос:"
	textOperationFailed = "❌ Не удалось выполнить операцию."
)

func registrationSummary(d Draft, expiryText string, reminderDays []int) string {
	var b strings.Builder
	b.WriteString("✅ Регистрация завершена!\n\n")
	fmt.Fprintf(&b, "ФИО: %s\n", d.FullName)
	if d.BirthDate != nil {
		fmt.Fprintf(&b, "Дата рождения: %s\n", domain.FormatDisplayDate(*d.BirthDate))
	}
	if d.Phone != nil {
		fmt.Fprintf(&b, "Телефон: %s\n", *d.Phone)
	}
	fmt.Fprintf(&b, "Медкнижка до: %s", expiryText)
	if len(reminderDays) > 0 {
		fmt.Fprintf(&b, "\n\nНапоминания за %s дня до окончания.", joinDays(reminderDays))
	}
	return b.String()
}

// joinDays renders [14 3] as "14 и 3" and [30 14 3] as "30, 14 и 3".
func joinDays(days []int) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(d)
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " и " + parts[len(parts)-1]
}
