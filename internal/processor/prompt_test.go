package processor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/adapter/kb"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/domain"
)

func testPromptLibrary() kb.Library {
	return kb.Library{
		Blocks: map[string]string{
			blockRoleAndStyle:       "Ты - HR компании.",
			blockQualificationRules: "Правила квалификации.",
			blockFAQ:                "Часто задаваемые вопросы.",
			blockSchedulingAlgo:     "Алгоритм записи.",
			blockPostQualification:  "Пост-квалификационный блок.",
		},
	}
}

func TestAssemblePromptInsertsVacancyContextAfterRoleBlock(t *testing.T) {
	lib := testPromptLibrary()
	loc := time.UTC
	prompt := AssemblePrompt(lib, domain.StateAwaitingAge, "Описание вакансии X.", time.Now(), loc)

	roleIdx := indexOf(prompt, "Ты - HR компании.")
	vacancyIdx := indexOf(prompt, "Описание вакансии X.")
	rulesIdx := indexOf(prompt, "Правила квалификации.")

	assert.True(t, roleIdx < vacancyIdx)
	assert.True(t, vacancyIdx < rulesIdx)
}

func TestAssemblePromptSchedulingStateIncludesCalendar(t *testing.T) {
	lib := testPromptLibrary()
	loc := time.UTC
	prompt := AssemblePrompt(lib, domain.StateSchedulingSPbDay, "desc", time.Now(), loc)

	assert.Contains(t, prompt, "Алгоритм записи.")
	assert.Contains(t, prompt, "CRITICAL CALENDAR CONTEXT")
}

func TestAssemblePromptPostQualificationStateIncludesBlock(t *testing.T) {
	lib := testPromptLibrary()
	loc := time.UTC
	prompt := AssemblePrompt(lib, domain.StatePostQualificationChat, "desc", time.Now(), loc)

	assert.Contains(t, prompt, "Пост-квалификационный блок.")
	assert.Contains(t, prompt, "Часто задаваемые вопросы.")
}

func TestAssemblePromptNonFAQStateOmitsFAQBlock(t *testing.T) {
	lib := testPromptLibrary()
	loc := time.UTC
	prompt := AssemblePrompt(lib, domain.StateAwaitingAge, "desc", time.Now(), loc)

	assert.NotContains(t, prompt, "Часто задаваемые вопросы.")
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
