package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/staffdesk/medbook/internal/domain"
)

const (
	// unknownToken marks an optional blacklist field as not known.
	unknownToken = "-"
	cancelWord   = "отмена"
)

var consentWords = map[string]bool{
	"согласен": true,
	"согласна": true,
}

func isCancel(text string) bool {
	return strings.EqualFold(text, cancelWord)
}

func (m *Machine) stepRegistration(ctx context.Context, sess *Session, raw string) Outcome {
	text := strings.TrimSpace(raw)
	d := &sess.Draft

	switch sess.Step {
	case StepConsent:
		if !consentWords[strings.ToLower(text)] {
			return reprompt(StepConsent, textConsentRetry)
		}
		return prompt(StepFullName, textAskFullName)

	case StepFullName:
		if err := domain.ValidateFullName(text); err != nil {
			return reprompt(StepFullName, textFullNameShort)
		}
		d.FullName = text
		return prompt(StepBirthDate, textAskBirthDate)

	case StepBirthDate:
		birth, err := domain.ParseDisplayDate(text)
		if err != nil {
			return reprompt(StepBirthDate, textBadDate)
		}
		if err := domain.CheckAge(birth, m.today()); err != nil {
			return reprompt(StepBirthDate, textTooYoung)
		}
		d.BirthDate = &birth
		return prompt(StepPhone, textAskPhone)

	case StepPhone:
		if !domain.IsValidPhone(text) {
			return reprompt(StepPhone, textBadPhone)
		}
		phone := domain.NormalizePhone(text)
		d.Phone = &phone
		return prompt(StepMedbookExpiry, textAskExpiry)

	case StepMedbookExpiry:
		expiry, err := domain.ParseDisplayDate(text)
		if err != nil {
			return reprompt(StepMedbookExpiry, textBadDate)
		}
		if err := domain.CheckExpiry(expiry, m.today()); err != nil {
			return reprompt(StepMedbookExpiry, textStaleExpiry)
		}
		d.MedbookExpiry = &expiry
		return m.commitRegistration(ctx, sess)
	}
	return failed(textOperationFailed)
}

func (m *Machine) commitRegistration(ctx context.Context, sess *Session) Outcome {
	d := sess.Draft
	if d.BirthDate == nil || d.Phone == nil || d.MedbookExpiry == nil {
		m.commitFailed(sess, "upsert_staff", domain.ErrInternal("incomplete registration draft", nil))
		return failed(textSaveFailed)
	}

	input := domain.StaffInput{
		TelegramID:    sess.UserID,
		FullName:      d.FullName,
		BirthDate:     *d.BirthDate,
		Phone:         *d.Phone,
		MedbookExpiry: *d.MedbookExpiry,
	}
	if err := m.store.UpsertStaff(ctx, input); err != nil {
		m.commitFailed(sess, "upsert_staff", err)
		return failed(textSaveFailed)
	}

	out := completed(registrationSummary(d, domain.FormatDisplayDate(input.MedbookExpiry), m.reminderDays))
	out.Registered = &input
	return out
}

func (m *Machine) stepMedbookUpdate(ctx context.Context, sess *Session, raw string) Outcome {
	text := strings.TrimSpace(raw)

	expiry, err := domain.ParseDisplayDate(text)
	if err != nil {
		return reprompt(StepMedbookExpiry, textBadDate)
	}
	if err := domain.CheckExpiry(expiry, m.today()); err != nil {
		return reprompt(StepMedbookExpiry, textStaleExpiry)
	}

	if err := m.store.UpdateMedbookExpiry(ctx, sess.UserID, expiry); err != nil {
		m.commitFailed(sess, "update_medbook_expiry", err)
		if domain.HasCode(err, domain.CodeNotFound) {
			return failed(textNotRegistered)
		}
		return failed(textSaveFailed)
	}
	return completed(fmt.Sprintf(textExpiryUpdated, domain.FormatDisplayDate(expiry)))
}

func (m *Machine) stepBlacklistAdd(ctx context.Context, sess *Session, raw string) Outcome {
	text := strings.TrimSpace(raw)
	if isCancel(text) {
		return cancelled()
	}
	d := &sess.Draft

	switch sess.Step {
	case StepFullName:
		if text == unknownToken {
			return cancelled()
		}
		if text == "" {
			return reprompt(StepFullName, textBlacklistEmpty)
		}
		d.FullName = text
		return prompt(StepPhone, textBlacklistAskPhone)

	case StepPhone:
		if text == unknownToken {
			d.Phone = nil
			return prompt(StepBirthDate, textBlacklistAskBirth)
		}
		if !domain.IsValidPhone(text) {
			return reprompt(StepPhone, textBadPhone)
		}
		phone := domain.NormalizePhone(text)
		d.Phone = &phone
		return prompt(StepBirthDate, textBlacklistAskBirth)

	case StepBirthDate:
		if text == unknownToken {
			d.BirthDate = nil
			return prompt(StepReason, textBlacklistAskReason)
		}
		birth, err := domain.ParseDisplayDate(text)
		if err != nil {
			return reprompt(StepBirthDate, textBadDate)
		}
		d.BirthDate = &birth
		return prompt(StepReason, textBlacklistAskReason)

	case StepReason:
		if text == unknownToken {
			return cancelled()
		}
		if text == "" {
			return reprompt(StepReason, textBlacklistEmpty)
		}
		d.Reason = text
		return m.commitBlacklistAdd(ctx, sess)
	}
	return failed(textOperationFailed)
}

func (m *Machine) commitBlacklistAdd(ctx context.Context, sess *Session) Outcome {
	d := sess.Draft
	entry, err := m.store.AddToBlacklist(ctx, domain.BlacklistInput{
		FullName:  d.FullName,
		Phone:     d.Phone,
		BirthDate: d.BirthDate,
		Reason:    d.Reason,
		AddedBy:   sess.UserID,
	})
	if err != nil {
		m.commitFailed(sess, "add_to_blacklist", err)
		return failed(textBlacklistFailed)
	}

	out := completed(fmt.Sprintf(textBlacklistAdded, d.FullName, d.Reason))
	out.Entry = entry
	return out
}

func (m *Machine) stepSearch(ctx context.Context, sess *Session, raw string) Outcome {
	text := strings.TrimSpace(raw)
	if isCancel(text) {
		return cancelled()
	}
	if text == "" {
		return reprompt(StepQuery, textQueryEmpty)
	}

	found, err := m.store.FindBySurname(ctx, text)
	if err != nil {
		m.commitFailed(sess, "find_by_surname", err)
		return failed(textOperationFailed)
	}
	out := completed("")
	out.Staff = found
	return out
}

func (m *Machine) stepBlacklistRemove(ctx context.Context, sess *Session, raw string) Outcome {
	text := strings.TrimSpace(raw)
	if isCancel(text) || text == unknownToken {
		return cancelled()
	}
	if text == "" {
		return reprompt(StepQuery, textQueryEmpty)
	}

	var (
		n   int64
		err error
		op  = "remove_from_blacklist"
	)
	if name, ok := quotedName(text); ok {
		op = "remove_from_blacklist_exact"
		n, err = m.store.RemoveFromBlacklistExact(ctx, name)
	} else {
		n, err = m.store.RemoveFromBlacklist(ctx, text)
	}
	if err != nil {
		m.commitFailed(sess, op, err)
		return failed(textOperationFailed)
	}
	if n == 0 {
		return completed(textNothingRemoved)
	}
	out := completed(fmt.Sprintf(textRemoved, n))
	out.Removed = n
	return out
}

// quotedName unwraps "name" or «name». A quoted query removes exact matches only.
func quotedName(text string) (string, bool) {
	for _, q := range [][2]string{{`"`, `"`}, {"«", "»"}} {
		if len(text) > len(q[0])+len(q[1]) && strings.HasPrefix(text, q[0]) && strings.HasSuffix(text, q[1]) {
			name := strings.TrimSpace(text[len(q[0]) : len(text)-len(q[1])])
			return name, name != ""
		}
	}
	return "", false
}
