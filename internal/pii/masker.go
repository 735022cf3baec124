// Package pii extracts and masks personally identifiable information
// (full names and phone numbers) from candidate chat messages before they
// are persisted or forwarded to the LLM.
package pii

import (
	"regexp"
	"strings"
)

// RE2 has no Unicode-aware \b: it treats \w as ASCII-only, so Cyrillic
// letters never satisfy a word-boundary transition. The patterns below
// drop \b and rely on the surrounding whitespace/punctuation class instead.
var (
	fioPattern   = regexp.MustCompile(`[А-ЯЁ][а-яё]+(?:-[А-ЯЁ][а-яё]+)?\s+[А-ЯЁ][а-яё]+\s+[А-ЯЁ][а-яё]+|[А-ЯЁ][а-яё]+(?:-[А-ЯЁ][а-яё]+)?\s+[А-ЯЁ][а-яё]+`)
	phonePattern = regexp.MustCompile(`(?:(?:\+7|8)[ \-.(]*)?(\d{3})[ \-.)]*(\d{3})[ \-.]*(\d{2})[ \-.]*(\d{2})`)

	// FIOMaskToken replaces a matched full name.
	FIOMaskToken = "[ФИО ЗАМАСКИРОВАНО]"
	// PhoneMaskToken replaces a matched phone number.
	PhoneMaskToken = "[ТЕЛЕФОН ЗАМАСКИРОВАН]"
)

// Extraction holds PII pulled out of a message, normalized for storage on
// the Candidate record.
type Extraction struct {
	MaskedText string
	FullName   string
	Phone      string
}

// Extract finds the first full name and phone number in text, replaces each
// with its mask token, and returns the normalized values alongside the
// redacted text. Phone digits are normalized to an 11-digit, 7-prefixed form
// matching the original extractor's convention. An empty FullName/Phone
// means nothing was found.
func Extract(text string) Extraction {
	if text == "" {
		return Extraction{}
	}

	masked := text
	var phone string
	if loc := phonePattern.FindStringIndex(masked); loc != nil {
		digits := onlyDigits(masked[loc[0]:loc[1]])
		phone = normalizePhone(digits)
		masked = masked[:loc[0]] + PhoneMaskToken + masked[loc[1]:]
	}

	var name string
	if loc := fioPattern.FindStringIndex(masked); loc != nil {
		name = strings.TrimSpace(masked[loc[0]:loc[1]])
		masked = masked[:loc[0]] + FIOMaskToken + masked[loc[1]:]
	}

	return Extraction{MaskedText: masked, FullName: name, Phone: phone}
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MaskPatronymic masks only the patronymic of a "Surname FirstName
// Patronymic" full name, leaving surname and first name visible, for
// outbound notifications where the recruiter still needs to recognize
// the candidate. Returns "Не указано" for an empty name.
func MaskPatronymic(fullName string) string {
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		return "Не указано"
	}
	parts := strings.Fields(fullName)
	result := []string{parts[0]}
	if len(parts) > 1 {
		result = append(result, parts[1])
	}
	if len(parts) > 2 {
		patronymic := parts[2]
		if len(patronymic) > 1 {
			result = append(result, string([]rune(patronymic)[0])+"***")
		} else {
			result = append(result, strings.Repeat("*", len(patronymic)))
		}
	}
	return strings.Join(result, " ")
}

// normalizePhone converts an 8-prefixed 11-digit number or a bare 10-digit
// number into the 11-digit 7-prefixed form; anything else passes through
// unchanged, matching the original extractor.
func normalizePhone(digits string) string {
	switch {
	case len(digits) == 11 && strings.HasPrefix(digits, "8"):
		return "7" + digits[1:]
	case len(digits) == 10:
		return "7" + digits
	default:
		return digits
	}
}
