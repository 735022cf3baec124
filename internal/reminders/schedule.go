// Package reminders implements the two reminder ladders: the short-ladder
// dojim nudge for silent candidates and the interview-reminder
// scheduler/sender for scheduled Saint-Petersburg interviews.
package reminders

import (
	"fmt"
	"time"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/domain"
)

// ScheduleInterviewReminders computes and persists the interview reminder
// rows for one scheduled interview: it cancels any prior pending rows for
// the dialogue, then inserts up to three conditional rows (t-2h, day-before
// at 20:00 local, day-of at 09:00 local), each only if its trigger still
// lies in the future relative to now.
func ScheduleInterviewReminders(ctx domain.Context, repo domain.InterviewReminderRepository, dialogueID, recruiterID string, interviewAtUTC, now time.Time, loc *time.Location) error {
	if err := repo.CancelPendingForDialogue(ctx, dialogueID); err != nil {
		return fmt.Errorf("op=reminders.schedule_interview: cancel pending: %w", err)
	}

	local := interviewAtUTC.In(loc)
	dayOfLocal := time.Date(local.Year(), local.Month(), local.Day(), 9, 0, 0, 0, loc)
	dayBeforeLocal := time.Date(local.Year(), local.Month(), local.Day()-1, 20, 0, 0, 0, loc)

	var batch []domain.InterviewReminder

	tMinus2h := interviewAtUTC.Add(-2 * time.Hour)
	if tMinus2h.After(now) {
		batch = append(batch, domain.InterviewReminder{
			DialogueID:           dialogueID,
			RecruiterID:          recruiterID,
			InterviewDatetimeUTC: interviewAtUTC,
			ScheduledSendTimeUTC: tMinus2h,
			NotificationType:     domain.ReminderTMinus2h,
			Status:               domain.QueuePending,
		})
	}

	// day_before_20_local fires only when the interview is exactly one
	// calendar day out and its local time is before 20:00 — otherwise the
	// t-2h reminder alone already covers same-day or later-evening slots.
	nowLocal := now.In(loc)
	isNextDay := local.Year() == nowLocal.AddDate(0, 0, 1).Year() &&
		local.YearDay() == nowLocal.AddDate(0, 0, 1).YearDay()
	if isNextDay && local.Hour() < 20 {
		dayBeforeUTC := dayBeforeLocal.UTC()
		if dayBeforeUTC.After(now) {
			batch = append(batch, domain.InterviewReminder{
				DialogueID:           dialogueID,
				RecruiterID:          recruiterID,
				InterviewDatetimeUTC: interviewAtUTC,
				ScheduledSendTimeUTC: dayBeforeUTC,
				NotificationType:     domain.ReminderDayBefore20Local,
				Status:               domain.QueuePending,
			})
		}
	}

	if local.Hour() >= 12 {
		dayOfUTC := dayOfLocal.UTC()
		if dayOfUTC.After(now) {
			batch = append(batch, domain.InterviewReminder{
				DialogueID:           dialogueID,
				RecruiterID:          recruiterID,
				InterviewDatetimeUTC: interviewAtUTC,
				ScheduledSendTimeUTC: dayOfUTC,
				NotificationType:     domain.ReminderDayOf9Local,
				Status:               domain.QueuePending,
			})
		}
	}

	if len(batch) == 0 {
		return nil
	}
	if err := repo.InsertBatch(ctx, batch...); err != nil {
		return fmt.Errorf("op=reminders.schedule_interview: insert batch: %w", err)
	}
	return nil
}

// ParseLocalDateTime parses date "YYYY-MM-DD" and time "HH:MM" strings as
// wall-clock local time in loc, returning the equivalent UTC instant. This
// is how the processor converts the LLM's extracted interview_date/
// interview_time fields into InterviewDatetimeUTC.
func ParseLocalDateTime(date, clock string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("op=reminders.parse_local_datetime: %w", err)
	}
	return t.UTC(), nil
}
