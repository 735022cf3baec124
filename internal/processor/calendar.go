package processor

import (
	"fmt"
	"strings"
	"time"
)

var weekdaysRu = [...]string{"понедельник", "вторник", "среда", "четверг", "пятница", "суббота", "воскресенье"}

func weekdayRu(t time.Time) string {
	// time.Weekday: Sunday=0 ... Saturday=6; weekdaysRu is Monday-first.
	idx := (int(t.Weekday()) + 6) % 7
	return weekdaysRu[idx]
}

// CalendarContext renders the 14-day Russian-language calendar block the
// prompt assembler embeds for scheduling states, so the LLM never computes
// relative dates itself.
func CalendarContext(now time.Time, loc *time.Location) string {
	local := now.In(loc)

	var lines []string
	for i := 0; i < 14; i++ {
		cursor := local.AddDate(0, 0, i)
		label := ""
		switch i {
		case 0:
			label = " ← ТЫ ЗДЕСЬ (СЕГОДНЯ)"
		case 1:
			label = " ← ЗАВТРА"
		case 2:
			label = " ← ПОСЛЕЗАВТРА"
		}
		lines = append(lines, fmt.Sprintf("%s: %s%s", weekdayRu(cursor), cursor.Format("2006-01-02"), label))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n\n[CRITICAL CALENDAR CONTEXT]\n")
	fmt.Fprintf(&b, "ТЕКУЩАЯ ДАТА И ВРЕМЯ (МСК): %s\n", local.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "СЕГОДНЯ: %s, %s\n\n", weekdayRu(local), local.Format("2006-01-02"))
	fmt.Fprintf(&b, "СЕЙЧАС: %s (МСК)\n", local.Format("15:04"))
	b.WriteString("⚠️ ВАЖНО: Ты ОЧЕНЬ ПЛОХО считаешь даты в уме. НИКОГДА НЕ ВЫЧИСЛЯЙ ДАТЫ САМОСТОЯТЕЛЬНО!\n")
	b.WriteString("Используй ТОЛЬКО эту таблицу (таблица начинается с СЕГОДНЯ и идет на 14 дней вперед):\n\n")
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n\n")
	b.WriteString("ПРАВИЛА РАБОТЫ С ДАТАМИ:\n")
	b.WriteString("1. Если кандидат говорит конкретный день недели без уточнений — бери ПЕРВЫЙ такой день из списка выше\n\n")
	b.WriteString("2. Если кандидат говорит 'следующий [день недели]' — бери ВТОРОЙ такой день из списка выше\n\n")
	b.WriteString("3. Если названный день недели совпадает с сегодняшним — уточни, сегодня или через неделю\n\n")
	b.WriteString("4. Если кандидат говорит 'сегодня'/'завтра'/'послезавтра' — ищи соответствующую пометку\n\n")
	b.WriteString("5. ВСЕГДА копируй дату точно из таблицы в формате YYYY-MM-DD\n")
	b.WriteString("6. Никогда не изобретай даты сам — только из этой таблицы!\n")
	return b.String()
}
