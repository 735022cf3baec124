package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/domain"
)

func intPtr(v int) *int { return &v }

func TestIsEligibleAgeBoundaries(t *testing.T) {
	cases := []struct {
		name string
		age  *int
		want bool
	}{
		{"nil age", nil, false},
		{"below minimum", intPtr(17), false},
		{"at minimum", intPtr(18), true},
		{"at maximum", intPtr(58), true},
		{"above maximum", intPtr(59), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := domain.Candidate{Age: tc.age, Citizenship: "РФ"}
			assert.Equal(t, tc.want, IsEligible(c))
		})
	}
}

func TestIsEligibleCitizenship(t *testing.T) {
	cases := []struct {
		citizenship string
		want        bool
	}{
		{"РФ", true},
		{"рф", true},
		{"ЕАЭС", true},
		{"еаэс", true},
		{"внж рф", true},
		{"рвп рф", true},
		{"ВНЖ РФ", true},
		{"гражданин РФ", true},
		{"РФ, Москва", true},
		{"вид на жительство", true},
		{"Украина", false},
		{"", false},
	}
	for _, tc := range cases {
		t.Run(tc.citizenship, func(t *testing.T) {
			c := domain.Candidate{Age: intPtr(30), Citizenship: tc.citizenship}
			assert.Equal(t, tc.want, IsEligible(c))
		})
	}
}
