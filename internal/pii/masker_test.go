package pii

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractFullNameAndPhone(t *testing.T) {
	text := "Мои данные: Иванов Иван Иванович, мой телефон +7 (999) 123-45-67. Прошу связаться."
	ex := Extract(text)
	assert.Equal(t, "Иванов Иван Иванович", ex.FullName)
	assert.Equal(t, "79991234567", ex.Phone)
	assert.NotContains(t, ex.MaskedText, "Иванов")
	assert.NotContains(t, ex.MaskedText, "999")
}

func TestExtractNormalizesEightPrefixedPhone(t *testing.T) {
	text := "Меня зовут Петров Кузьма. Звоните 89219876543"
	ex := Extract(text)
	assert.Equal(t, "79219876543", ex.Phone)
	assert.Equal(t, "Петров Кузьма", ex.FullName)
}

func TestExtractEmptyTextReturnsZeroValue(t *testing.T) {
	ex := Extract("")
	assert.Equal(t, Extraction{}, ex)
}

func TestExtractNoMatchesLeavesTextUntouched(t *testing.T) {
	text := "привет, расскажите про вакансию"
	ex := Extract(text)
	assert.Equal(t, text, ex.MaskedText)
	assert.Empty(t, ex.FullName)
	assert.Empty(t, ex.Phone)
}
