package kb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExtractsBlocksAndVacancies(t *testing.T) {
	doc := "#ROLE_AND_STYLE#\nТы - Hr компании.\n" +
		"#START_VACANCIES#\n" +
		"— Курьер, Водитель\nГород: Москва, Санкт-Петербург.\nОписание вакансии.\n" +
		"\n&&&\n" +
		"Оператор\nГорода: Казань.\nДругое описание.\n" +
		"#END_VACANCIES#\n"

	lib := parse(doc)
	require.Equal(t, "Ты - Hr компании.", lib.Block("#ROLE_AND_STYLE#"))
	require.Len(t, lib.Vacancies, 2)
	assert.Equal(t, []string{"курьер", "водитель"}, lib.Vacancies[0].Titles)
	assert.Equal(t, []string{"Москва", "Санкт-Петербург"}, lib.Vacancies[0].Cities)
	assert.Equal(t, []string{"Казань"}, lib.Vacancies[1].Cities)
}

func TestParseWithNoVacanciesSection(t *testing.T) {
	lib := parse("#GREETING#\nПривет!\n")
	assert.Equal(t, "Привет!", lib.Block("#GREETING#"))
	assert.Empty(t, lib.Vacancies)
}
