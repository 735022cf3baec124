package processor

import (
	"strings"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/domain"
)

const (
	minEligibleAge = 18
	maxEligibleAge = 58
)

// eligibleCitizenshipSubstrings are matched case-insensitively against the
// whole citizenship string, so "гражданин РФ" or "РФ, Москва" pass just as
// a bare "рф" does.
var eligibleCitizenshipSubstrings = []string{
	"рф",
	"еаэс",
	"внж",
	"рвп",
	"вид на жительство",
}

// IsEligible applies the programmatic qualification gate: age within
// [18,58] and a citizenship value of RF, EAEU, or an explicit residency
// permit ("внж"/"рвп"/"вид на жительство"). Run only once
// RequiredFieldsComplete is true.
func IsEligible(c domain.Candidate) bool {
	if c.Age == nil || *c.Age < minEligibleAge || *c.Age > maxEligibleAge {
		return false
	}
	return isEligibleCitizenship(c.Citizenship)
}

func isEligibleCitizenship(citizenship string) bool {
	lowered := strings.ToLower(citizenship)
	for _, sub := range eligibleCitizenshipSubstrings {
		if strings.Contains(lowered, sub) {
			return true
		}
	}
	return false
}
