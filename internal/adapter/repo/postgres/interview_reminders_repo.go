package postgres

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/domain"
)

// InterviewReminderRepo manages scheduled interview reminders.
type InterviewReminderRepo struct{ Pool PgxPool }

// NewInterviewReminderRepo constructs an InterviewReminderRepo with the given pool.
func NewInterviewReminderRepo(p PgxPool) *InterviewReminderRepo { return &InterviewReminderRepo{Pool: p} }

// CancelPendingForDialogue cancels every still-pending reminder for
// dialogueID, used when the candidate reschedules or declines the
// interview.
func (r *InterviewReminderRepo) CancelPendingForDialogue(ctx domain.Context, dialogueID string) error {
	ctx, span := startSpan(ctx, "interview_reminders", "interview_reminders.CancelPendingForDialogue", "UPDATE", "interview_reminders")
	defer span.End()
	q := `UPDATE interview_reminders SET status='cancelled', processed_at=now() WHERE dialogue_id=$1 AND status='pending'`
	_, err := r.Pool.Exec(ctx, q, dialogueID)
	if err != nil {
		return fmt.Errorf("op=interview_reminder.cancel_pending_for_dialogue: %w", err)
	}
	return nil
}

// InsertBatch inserts the given reminder rows (up to three per newly
// scheduled interview) within a single transaction.
func (r *InterviewReminderRepo) InsertBatch(ctx domain.Context, reminders ...domain.InterviewReminder) error {
	if len(reminders) == 0 {
		return nil
	}
	ctx, span := startSpan(ctx, "interview_reminders", "interview_reminders.InsertBatch", "INSERT", "interview_reminders")
	defer span.End()

	tx, err := r.Pool.BeginTx(ctx, txOptsReadCommitted())
	if err != nil {
		return fmt.Errorf("op=interview_reminder.insert_batch.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	q := `INSERT INTO interview_reminders (id, dialogue_id, recruiter_id, interview_datetime_utc, scheduled_send_time_utc, notification_type, status)
		VALUES ($1,$2,$3,$4,$5,$6,'pending')`
	for _, rem := range reminders {
		id := rem.ID
		if id == "" {
			id = uuid.New().String()
		}
		if _, err := tx.Exec(ctx, q, id, rem.DialogueID, rem.RecruiterID, rem.InterviewDatetimeUTC, rem.ScheduledSendTimeUTC, rem.NotificationType); err != nil {
			return fmt.Errorf("op=interview_reminder.insert_batch: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=interview_reminder.insert_batch.commit: %w", err)
	}
	committed = true
	return nil
}

// ClaimDue locks up to limit pending reminders whose scheduled_send_time_utc
// has passed, using SELECT...FOR UPDATE SKIP LOCKED.
func (r *InterviewReminderRepo) ClaimDue(ctx domain.Context, limit int) ([]domain.InterviewReminder, error) {
	ctx, span := startSpan(ctx, "interview_reminders", "interview_reminders.ClaimDue", "SELECT", "interview_reminders")
	defer span.End()
	q := `SELECT id, dialogue_id, recruiter_id, interview_datetime_utc, scheduled_send_time_utc, notification_type, status, processed_at
		FROM interview_reminders
		WHERE status='pending' AND scheduled_send_time_utc <= now()
		ORDER BY scheduled_send_time_utc ASC LIMIT $1
		FOR UPDATE SKIP LOCKED`
	rows, err := r.Pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("op=interview_reminder.claim_due: %w", err)
	}
	defer rows.Close()

	var out []domain.InterviewReminder
	for rows.Next() {
		var rem domain.InterviewReminder
		if err := rows.Scan(&rem.ID, &rem.DialogueID, &rem.RecruiterID, &rem.InterviewDatetimeUTC, &rem.ScheduledSendTimeUTC, &rem.NotificationType, &rem.Status, &rem.ProcessedAt); err != nil {
			return nil, fmt.Errorf("op=interview_reminder.claim_due_scan: %w", err)
		}
		out = append(out, rem)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=interview_reminder.claim_due_rows: %w", err)
	}
	return out, nil
}

// MarkProcessed stamps the terminal status and processed_at timestamp.
func (r *InterviewReminderRepo) MarkProcessed(ctx domain.Context, id string, status domain.QueueStatus) error {
	ctx, span := startSpan(ctx, "interview_reminders", "interview_reminders.MarkProcessed", "UPDATE", "interview_reminders")
	defer span.End()
	_, err := r.Pool.Exec(ctx, `UPDATE interview_reminders SET status=$2, processed_at=now() WHERE id=$1`, id, status)
	if err != nil {
		return fmt.Errorf("op=interview_reminder.mark_processed: %w", err)
	}
	return nil
}
