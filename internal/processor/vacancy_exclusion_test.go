package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsExcludedVacancyTitle(t *testing.T) {
	cases := []struct {
		title string
		want  bool
	}{
		{"Повар-пекарь", true},
		{"ПОВАР неполный день", true},
		{"Повар", true},
		{"Бариста-кассир", true},
		{"Уборщица служебных помещений", true},
		{"Помошник повара", true},
		{"Менеджер по продажам", false},
		{"", false},
	}
	for _, tc := range cases {
		t.Run(tc.title, func(t *testing.T) {
			assert.Equal(t, tc.want, isExcludedVacancyTitle(tc.title))
		})
	}
}
