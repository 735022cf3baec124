package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/adapter/kb"
)

func testLibrary() kb.Library {
	return kb.Library{
		Vacancies: []kb.Vacancy{
			{
				Titles:      []string{"курьер", "водитель"},
				Cities:      []string{"Москва", "Санкт-Петербург"},
				Description: "Курьерская вакансия в Москве и СПб.",
			},
			{
				Titles:      []string{"оператор колл-центра"},
				Cities:      []string{"Казань"},
				Description: "Оператор колл-центра в Казани.",
			},
		},
	}
}

func TestFindRelevantVacancyExactMatch(t *testing.T) {
	lib := testLibrary()
	desc := FindRelevantVacancy(lib, "Курьер", "Москва")
	assert.Equal(t, "Курьерская вакансия в Москве и СПб.", desc)
}

func TestFindRelevantVacancySubstringTitle(t *testing.T) {
	lib := testLibrary()
	desc := FindRelevantVacancy(lib, "Водитель-курьер", "Санкт-Петербург")
	assert.Equal(t, "Курьерская вакансия в Москве и СПб.", desc)
}

func TestFindRelevantVacancyCitySynonym(t *testing.T) {
	lib := testLibrary()
	desc := FindRelevantVacancy(lib, "Курьер", "спб")
	assert.Equal(t, "Курьерская вакансия в Москве и СПб.", desc)
}

func TestFindRelevantVacancyNoMatchReturnsFallback(t *testing.T) {
	lib := testLibrary()
	desc := FindRelevantVacancy(lib, "Бухгалтер", "Новосибирск")
	assert.Contains(t, desc, "НЕ НАЙДЕНО")
}

func TestSimilarityContainment(t *testing.T) {
	assert.Equal(t, 1.0, similarity("повар", "повар-пекарь"))
}

func TestSimilarityEmptyStrings(t *testing.T) {
	assert.Equal(t, 0.0, similarity("", "повар"))
	assert.Equal(t, 0.0, similarity("повар", ""))
}
