package processor

import (
	"strings"
	"time"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/adapter/kb"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/domain"
)

const (
	blockRoleAndStyle       = "#ROLE_AND_STYLE#"
	blockQualificationRules = "#QUALIFICATION_RULES#"
	blockClarify            = "#CLARI#"
	blockSchedulingAlgo     = "#SCHEDULING_ALGORITHM#"
	blockFAQ                = "#FAQ#"
	blockPostQualification  = "#POSTCVAL#"
)

var stateSpecificBlocks = map[domain.DialogueState][]string{
	domain.StateInitialProcessing:     {blockQualificationRules},
	domain.StateAwaitingQuestions:     {blockQualificationRules},
	domain.StateAwaitingPhone:         {blockQualificationRules},
	domain.StateAwaitingCity:          {blockQualificationRules},
	domain.StateAwaitingReadiness:     {blockQualificationRules},
	domain.StateAwaitingCitizenship:   {blockQualificationRules},
	domain.StateClarifyingCitizenship: {blockQualificationRules, blockClarify},
	domain.StateAwaitingAge:           {blockQualificationRules},
	domain.StateClarifyingAnything:    {blockQualificationRules},
	domain.StateClarifyingDeclined:    {blockQualificationRules},
	domain.StateQualificationComplete: {blockQualificationRules},
	domain.StateCallLater:             {blockQualificationRules},
	domain.StateInitSchedulingSPb:     {blockSchedulingAlgo},
	domain.StateSchedulingSPbDay:      {blockSchedulingAlgo},
	domain.StateSchedulingSPbTime:     {blockSchedulingAlgo},
	domain.StateInterviewScheduledSPb: {blockSchedulingAlgo},
}

var faqStates = map[domain.DialogueState]bool{
	domain.StateForwardedToResearcher: true,
	domain.StateInterviewScheduledSPb: true,
	domain.StatePostQualificationChat: true,
	domain.StateAwaitingQuestions:     true,
	domain.StateInitialProcessing:     true,
	domain.StateCallLater:             true,
}

var schedulingStates = map[domain.DialogueState]bool{
	domain.StateInitSchedulingSPb:     true,
	domain.StateSchedulingSPbDay:      true,
	domain.StateSchedulingSPbTime:     true,
	domain.StatePostQualificationChat: true,
	domain.StateInterviewScheduledSPb: true,
}

var postQualificationStates = map[domain.DialogueState]bool{
	domain.StateForwardedToResearcher: true,
	domain.StateInterviewScheduledSPb: true,
	domain.StatePostQualificationChat: true,
}

// AssemblePrompt builds the system prompt for one processor turn: always
// the role/style block, then blocks specific to the dialogue's current
// state, then a FAQ block where the candidate may ask questions, a 14-day
// calendar for scheduling states, and a post-qualification block once
// qualified — with the matched vacancy description inserted right after
// the role/style block.
func AssemblePrompt(lib kb.Library, state domain.DialogueState, vacancyDescription string, now time.Time, loc *time.Location) string {
	keys := []string{blockRoleAndStyle}
	keys = append(keys, stateSpecificBlocks[state]...)
	if faqStates[state] {
		keys = append(keys, blockFAQ)
	}
	keys = dedupe(keys)

	pieces := make([]string, 0, len(keys)+3)
	for _, k := range keys {
		pieces = append(pieces, lib.Block(k))
	}

	if schedulingStates[state] {
		pieces = append(pieces, CalendarContext(now, loc))
	}
	if postQualificationStates[state] {
		if b := lib.Block(blockPostQualification); b != "" {
			pieces = append(pieces, b)
		}
	}

	vacancyContext := "[CRITICAL CONTEXT] Ниже представлено описание ТОЛЬКО ТОЙ вакансии, на которую откликнулся кандидат. " +
		"Используй ИСКЛЮЧИТЕЛЬНО эту информацию при ответах на вопросы о вакансии.\n" + vacancyDescription
	if len(pieces) > 0 {
		pieces = append(pieces[:1], append([]string{vacancyContext}, pieces[1:]...)...)
	} else {
		pieces = append(pieces, vacancyContext)
	}

	return strings.Join(pieces, "\n\n")
}

func dedupe(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := keys[:0:0]
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
