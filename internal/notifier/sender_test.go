package notifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/domain"
)

func TestEscapeMarkdown(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Повар-пекарь_[срочно]", `Повар-пекарь\_\[срочно]`},
		{"Иван*Петров", `Иван\*Петров`},
		{"`code`", "\\`code\\`"},
		{"обычный текст", "обычный текст"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, escapeMarkdown(tc.in))
	}
}

func TestSenderCaptionEscapesDynamicFields(t *testing.T) {
	s := &Sender{kind: kindQualified}
	age := 30
	candidate := domain.Candidate{
		ExternalResumeID: "r1",
		FullName:         "Иванов Иван Иванович",
		Age:              &age,
		Citizenship:      "РФ_студент",
		PhoneNumber:      "+7*999",
	}
	vacancy := domain.Vacancy{Title: "Повар-пекарь [срочно]", City: "Санкт-Петербург"}

	got := s.caption(candidate, vacancy)
	assert.Contains(t, got, `Повар-пекарь \[срочно]`)
	assert.Contains(t, got, `РФ\_студент`)
	assert.Contains(t, got, `+7\*999`)
	assert.Contains(t, got, "И***")
	assert.NotContains(t, got, "Иванович")
}

func TestSenderCaptionRejectedAndInactive(t *testing.T) {
	candidate := domain.Candidate{ExternalResumeID: "r2", FullName: "Петров Пётр Петрович"}
	vacancy := domain.Vacancy{Title: "Бариста", City: ""}

	rejected := (&Sender{kind: kindRejected}).caption(candidate, vacancy)
	assert.Contains(t, rejected, "Кандидату отказано в квалификации")
	assert.Contains(t, rejected, "Не указан")

	inactive := (&Sender{kind: kindInactive}).caption(candidate, vacancy)
	assert.Contains(t, inactive, "Соискатель не отвечает")
}
