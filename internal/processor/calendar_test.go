package processor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalendarContextMarksTodayTomorrowDayAfter(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, loc)

	ctx := CalendarContext(now, loc)

	assert.Contains(t, ctx, "2026-03-10 ← ТЫ ЗДЕСЬ (СЕГОДНЯ)")
	assert.Contains(t, ctx, "2026-03-11 ← ЗАВТРА")
	assert.Contains(t, ctx, "2026-03-12 ← ПОСЛЕЗАВТРА")
	assert.Contains(t, ctx, "2026-03-23")
	assert.NotContains(t, ctx, "2026-03-24")
}

func TestWeekdayRuMapping(t *testing.T) {
	loc := time.UTC
	monday := time.Date(2026, 3, 9, 0, 0, 0, 0, loc)
	sunday := time.Date(2026, 3, 15, 0, 0, 0, 0, loc)
	assert.Equal(t, "понедельник", weekdayRu(monday))
	assert.Equal(t, "воскресенье", weekdayRu(sunday))
}
