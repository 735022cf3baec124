package postgres_test

import (
	"context"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/domain"
)

func TestInterviewReminderRepo_CancelPendingForDialogue(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewInterviewReminderRepo(m)
	ctx := context.Background()

	m.ExpectExec(`UPDATE interview_reminders SET status='cancelled'`).
		WithArgs("d1").WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	require.NoError(t, repo.CancelPendingForDialogue(ctx, "d1"))
	require.NoError(t, m.ExpectationsWereMet())
}

func TestInterviewReminderRepo_InsertBatch(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewInterviewReminderRepo(m)
	ctx := context.Background()
	interview := time.Now().UTC().Add(48 * time.Hour)
	sendAt := interview.Add(-2 * time.Hour)

	m.ExpectBegin()
	m.ExpectExec(`INSERT INTO interview_reminders`).
		WithArgs(pgxmock.AnyArg(), "d1", "r1", interview, sendAt, domain.ReminderTMinus2h).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	m.ExpectCommit()

	err = repo.InsertBatch(ctx, domain.InterviewReminder{
		DialogueID: "d1", RecruiterID: "r1", InterviewDatetimeUTC: interview,
		ScheduledSendTimeUTC: sendAt, NotificationType: domain.ReminderTMinus2h,
	})
	require.NoError(t, err)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestInterviewReminderRepo_ClaimDue(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewInterviewReminderRepo(m)
	ctx := context.Background()
	now := time.Now().UTC()

	rows := pgxmock.NewRows([]string{"id", "dialogue_id", "recruiter_id", "interview_datetime_utc", "scheduled_send_time_utc", "notification_type", "status", "processed_at"}).
		AddRow("rem1", "d1", "r1", now, now, domain.ReminderTMinus2h, domain.QueuePending, (*time.Time)(nil))
	m.ExpectQuery(`(?s)SELECT .* FROM interview_reminders`).WithArgs(5).WillReturnRows(rows)

	out, err := repo.ClaimDue(ctx, 5)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "rem1", out[0].ID)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestInterviewReminderRepo_MarkProcessed(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewInterviewReminderRepo(m)
	ctx := context.Background()

	m.ExpectExec(`UPDATE interview_reminders SET status=\$2`).
		WithArgs("rem1", domain.QueueSent).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.MarkProcessed(ctx, "rem1", domain.QueueSent))
	require.NoError(t, m.ExpectationsWereMet())
}
