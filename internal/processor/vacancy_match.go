package processor

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/adapter/kb"
)

// citySynonyms normalizes common city aliases before matching, e.g. the
// candidate's vacancy city arriving as a short form or transliteration.
var citySynonyms = map[string]string{
	"спб":     "санкт петербург",
	"питер":   "санкт петербург",
	"спб.":    "санкт петербург",
	"мск":     "москва",
	"москва.": "москва",
}

const vacancyMatchThreshold = 0.65

var punctRe = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)

func normalizeVacancyText(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "ё", "е")
	if syn, ok := citySynonyms[s]; ok {
		s = syn
	}
	s = punctRe.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

// similarity scores two normalized strings from 0.0 to 1.0. A full
// substring containment is treated as a perfect match (handles "повар" vs
// "повар-пекарь"); otherwise falls back to a trigram-overlap ratio, a
// dependency-free analogue of a sequence-similarity ratio.
func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 1.0
	}
	return trigramRatio(a, b)
}

func trigrams(s string) map[string]int {
	runes := []rune(s)
	out := make(map[string]int)
	if len(runes) < 3 {
		out[s]++
		return out
	}
	for i := 0; i+3 <= len(runes); i++ {
		out[string(runes[i:i+3])]++
	}
	return out
}

func trigramRatio(a, b string) float64 {
	ta, tb := trigrams(a), trigrams(b)
	var shared, total int
	for g, na := range ta {
		total += na
		if nb, ok := tb[g]; ok {
			if na < nb {
				shared += na
			} else {
				shared += nb
			}
		}
	}
	for _, nb := range tb {
		total += nb
	}
	if total == 0 {
		return 0
	}
	return 2 * float64(shared) / float64(total)
}

var missingLogged sync.Map

// FindRelevantVacancy picks the best-matching vacancy description from the
// library for the given title/city, scoring each candidate block by the sum
// of its best city-similarity and best title-similarity, requiring both to
// clear vacancyMatchThreshold. Logs (deduplicated per process) and returns a
// fallback string when nothing clears the bar.
func FindRelevantVacancy(lib kb.Library, title, city string) string {
	normTitle := normalizeVacancyText(title)
	normCity := normalizeVacancyText(city)

	var bestDesc string
	var bestScore float64

	for _, v := range lib.Vacancies {
		bestCityScore := 0.0
		for _, c := range v.Cities {
			if s := similarity(normCity, normalizeVacancyText(c)); s > bestCityScore {
				bestCityScore = s
			}
		}
		if bestCityScore < vacancyMatchThreshold {
			continue
		}

		bestTitleScore := 0.0
		for _, t := range v.Titles {
			if s := similarity(normTitle, normalizeVacancyText(t)); s > bestTitleScore {
				bestTitleScore = s
			}
		}
		if bestTitleScore < vacancyMatchThreshold {
			continue
		}

		total := bestCityScore + bestTitleScore
		if total > bestScore {
			bestScore = total
			bestDesc = v.Description
		}
	}

	if bestDesc != "" {
		return bestDesc
	}

	key := title + "|" + city
	if _, already := missingLogged.LoadOrStore(key, struct{}{}); !already {
		slog.Warn("no vacancy description matched", slog.String("title", title), slog.String("city", city))
	}
	return "ОПИСАНИЕ ВАКАНСИИ НЕ НАЙДЕНО. Отвечай на вопросы кандидата на основе общей информации из FAQ."
}
