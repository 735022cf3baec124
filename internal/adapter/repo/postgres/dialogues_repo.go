package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/domain"
)

// DialogueRepo persists and loads Dialogue rows, including the SKIP LOCKED
// claim queries that back the processor's and reminders' work distribution.
type DialogueRepo struct{ Pool PgxPool }

// NewDialogueRepo constructs a DialogueRepo with the given pool.
func NewDialogueRepo(p PgxPool) *DialogueRepo { return &DialogueRepo{Pool: p} }

const dialogueColumns = `id, external_response_id, candidate_id, vacancy_id, recruiter_id, status, dialogue_state,
	reminder_level, history, pending_messages, last_updated, created_at, response_created_at,
	interview_datetime_utc, total_prompt_tokens, total_completion_tokens, total_cached_tokens, total_cost`

func scanDialogue(row pgx.Row) (domain.Dialogue, error) {
	var d domain.Dialogue
	var history, pending []byte
	if err := row.Scan(
		&d.ID, &d.ExternalResponseID, &d.CandidateID, &d.VacancyID, &d.RecruiterID, &d.Status, &d.DialogueState,
		&d.ReminderLevel, &history, &pending, &d.LastUpdated, &d.CreatedAt, &d.ResponseCreatedAt,
		&d.InterviewDatetimeUTC, &d.TotalPromptTokens, &d.TotalCompletionTokens, &d.TotalCachedTokens, &d.TotalCost,
	); err != nil {
		return domain.Dialogue{}, err
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &d.History); err != nil {
			return domain.Dialogue{}, fmt.Errorf("unmarshal history: %w", err)
		}
	}
	if len(pending) > 0 {
		if err := json.Unmarshal(pending, &d.PendingMessages); err != nil {
			return domain.Dialogue{}, fmt.Errorf("unmarshal pending_messages: %w", err)
		}
	}
	return d, nil
}

func scanDialogues(rows pgx.Rows) ([]domain.Dialogue, error) {
	var out []domain.Dialogue
	for rows.Next() {
		d, err := scanDialogue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetByExternalResponseID loads a dialogue by its job-board negotiation id.
func (r *DialogueRepo) GetByExternalResponseID(ctx domain.Context, externalResponseID string) (domain.Dialogue, error) {
	ctx, span := startSpan(ctx, "dialogues", "dialogues.GetByExternalResponseID", "SELECT", "dialogues")
	defer span.End()
	q := `SELECT ` + dialogueColumns + ` FROM dialogues WHERE external_response_id=$1`
	d, err := scanDialogue(r.Pool.QueryRow(ctx, q, externalResponseID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Dialogue{}, fmt.Errorf("op=dialogue.get_by_external_response_id: %w", domain.ErrNotFound)
		}
		return domain.Dialogue{}, fmt.Errorf("op=dialogue.get_by_external_response_id: %w", err)
	}
	return d, nil
}

// Get loads a dialogue by internal id.
func (r *DialogueRepo) Get(ctx domain.Context, id string) (domain.Dialogue, error) {
	ctx, span := startSpan(ctx, "dialogues", "dialogues.Get", "SELECT", "dialogues")
	defer span.End()
	q := `SELECT ` + dialogueColumns + ` FROM dialogues WHERE id=$1`
	d, err := scanDialogue(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Dialogue{}, fmt.Errorf("op=dialogue.get: %w", domain.ErrNotFound)
		}
		return domain.Dialogue{}, fmt.Errorf("op=dialogue.get: %w", err)
	}
	return d, nil
}

// Create inserts a new dialogue, generating an id if d.ID is empty.
func (r *DialogueRepo) Create(ctx domain.Context, d domain.Dialogue) (string, error) {
	ctx, span := startSpan(ctx, "dialogues", "dialogues.Create", "INSERT", "dialogues")
	defer span.End()

	id, err := insertDialogue(ctx, r.Pool, d)
	if err != nil {
		return "", fmt.Errorf("op=dialogue.create: %w", err)
	}
	return id, nil
}

// CreateWithDebit locks the ledger row, and if balance covers
// cost_per_dialogue, calls moveResponse before writing anything. The
// dialogue row and the debit are then applied and committed together: a
// moveResponse failure rolls back the transaction, leaving neither a debit
// nor a dialogue behind, and nothing is committed unless the move already
// succeeded. ok=false (no error) means the balance did not cover
// cost_per_dialogue; moveResponse is never called and nothing was written.
func (r *DialogueRepo) CreateWithDebit(ctx domain.Context, d domain.Dialogue, moveResponse func() error) (dialogueID string, ok, crossedLowThreshold, recoveredAboveThreshold bool, err error) {
	ctx, span := startSpan(ctx, "dialogues", "dialogues.CreateWithDebit", "INSERT", "dialogues")
	defer span.End()

	tx, err := r.Pool.BeginTx(ctx, txOptsReadCommitted())
	if err != nil {
		return "", false, false, false, fmt.Errorf("op=dialogue.create_with_debit.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	affordable, newBalance, cost, notify, crossed, recovered, err := debitCheck(ctx, tx, "cost_per_dialogue")
	if err != nil {
		return "", false, false, false, fmt.Errorf("op=dialogue.create_with_debit: %w", err)
	}
	if !affordable {
		if err := tx.Commit(ctx); err != nil {
			return "", false, false, false, fmt.Errorf("op=dialogue.create_with_debit.commit: %w", err)
		}
		committed = true
		return "", false, false, false, nil
	}

	if moveResponse != nil {
		if err := moveResponse(); err != nil {
			return "", false, false, false, fmt.Errorf("op=dialogue.create_with_debit: move response: %w", err)
		}
	}

	if err := debitApply(ctx, tx, "total_spent_on_dialogues", newBalance, cost, notify); err != nil {
		return "", false, false, false, fmt.Errorf("op=dialogue.create_with_debit: %w", err)
	}
	id, err := insertDialogue(ctx, tx, d)
	if err != nil {
		return "", false, false, false, fmt.Errorf("op=dialogue.create_with_debit: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", false, false, false, fmt.Errorf("op=dialogue.create_with_debit.commit: %w", err)
	}
	committed = true
	return id, true, crossed, recovered, nil
}

// execer is the subset of PgxPool/pgx.Tx that insertDialogue needs, letting
// it run either as a standalone statement or inside a shared transaction.
type execer interface {
	Exec(ctx domain.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertDialogue(ctx domain.Context, e execer, d domain.Dialogue) (string, error) {
	id := d.ID
	if id == "" {
		id = uuid.New().String()
	}
	if d.History == nil {
		d.History = []domain.HistoryEntry{}
	}
	if d.PendingMessages == nil {
		d.PendingMessages = []domain.PendingMessage{}
	}
	history, err := json.Marshal(d.History)
	if err != nil {
		return "", fmt.Errorf("marshal history: %w", err)
	}
	pending, err := json.Marshal(d.PendingMessages)
	if err != nil {
		return "", fmt.Errorf("marshal pending_messages: %w", err)
	}
	now := time.Now().UTC()

	q := `INSERT INTO dialogues (id, external_response_id, candidate_id, vacancy_id, recruiter_id, status, dialogue_state,
		reminder_level, history, pending_messages, last_updated, created_at, response_created_at,
		interview_datetime_utc, total_prompt_tokens, total_completion_tokens, total_cached_tokens, total_cost)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9::jsonb,$10::jsonb,$11,$12,$13,$14,$15,$16,$17,$18)`
	_, err = e.Exec(ctx, q,
		id, d.ExternalResponseID, d.CandidateID, d.VacancyID, d.RecruiterID, d.Status, d.DialogueState,
		d.ReminderLevel, history, pending, now, now, d.ResponseCreatedAt,
		d.InterviewDatetimeUTC, d.TotalPromptTokens, d.TotalCompletionTokens, d.TotalCachedTokens, d.TotalCost,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// Update persists the full dialogue row, including history/pending_messages
// and accumulated token/cost counters. Called once per processor turn after
// the LLM response has been applied.
func (r *DialogueRepo) Update(ctx domain.Context, d domain.Dialogue) error {
	ctx, span := startSpan(ctx, "dialogues", "dialogues.Update", "UPDATE", "dialogues")
	defer span.End()

	if d.History == nil {
		d.History = []domain.HistoryEntry{}
	}
	if d.PendingMessages == nil {
		d.PendingMessages = []domain.PendingMessage{}
	}
	history, err := json.Marshal(d.History)
	if err != nil {
		return fmt.Errorf("op=dialogue.update: marshal history: %w", err)
	}
	pending, err := json.Marshal(d.PendingMessages)
	if err != nil {
		return fmt.Errorf("op=dialogue.update: marshal pending_messages: %w", err)
	}

	q := `UPDATE dialogues SET status=$2, dialogue_state=$3, reminder_level=$4, history=$5::jsonb, pending_messages=$6::jsonb,
		last_updated=$7, interview_datetime_utc=$8, total_prompt_tokens=$9, total_completion_tokens=$10,
		total_cached_tokens=$11, total_cost=$12 WHERE id=$1`
	_, err = r.Pool.Exec(ctx, q,
		d.ID, d.Status, d.DialogueState, d.ReminderLevel, history, pending,
		time.Now().UTC(), d.InterviewDatetimeUTC, d.TotalPromptTokens, d.TotalCompletionTokens,
		d.TotalCachedTokens, d.TotalCost,
	)
	if err != nil {
		return fmt.Errorf("op=dialogue.update: %w", err)
	}
	return nil
}

// ListByCandidate returns every dialogue for candidateID, most recently
// updated first.
func (r *DialogueRepo) ListByCandidate(ctx domain.Context, candidateID string) ([]domain.Dialogue, error) {
	ctx, span := startSpan(ctx, "dialogues", "dialogues.ListByCandidate", "SELECT", "dialogues")
	defer span.End()
	q := `SELECT ` + dialogueColumns + ` FROM dialogues WHERE candidate_id=$1 ORDER BY last_updated DESC`
	rows, err := r.Pool.Query(ctx, q, candidateID)
	if err != nil {
		return nil, fmt.Errorf("op=dialogue.list_by_candidate: %w", err)
	}
	defer rows.Close()
	out, err := scanDialogues(rows)
	if err != nil {
		return nil, fmt.Errorf("op=dialogue.list_by_candidate_scan: %w", err)
	}
	return out, nil
}

// ClaimPending locks up to limit dialogues across recruiterIDs (all
// recruiters when empty) with non-empty pending_messages and last_updated
// older than debounce, using SELECT...FOR UPDATE SKIP LOCKED so concurrent
// processor instances never double-claim a row.
func (r *DialogueRepo) ClaimPending(ctx domain.Context, recruiterIDs []string, debounce time.Duration, limit int) ([]domain.Dialogue, error) {
	ctx, span := startSpan(ctx, "dialogues", "dialogues.ClaimPending", "SELECT", "dialogues")
	defer span.End()

	cutoff := time.Now().UTC().Add(-debounce)
	var q string
	var args []any
	if len(recruiterIDs) == 0 {
		q = `SELECT ` + dialogueColumns + ` FROM dialogues
			WHERE jsonb_array_length(pending_messages) > 0 AND last_updated <= $1
			ORDER BY last_updated ASC LIMIT $2
			FOR UPDATE SKIP LOCKED`
		args = []any{cutoff, limit}
	} else {
		q = `SELECT ` + dialogueColumns + ` FROM dialogues
			WHERE recruiter_id = ANY($1) AND jsonb_array_length(pending_messages) > 0 AND last_updated <= $2
			ORDER BY last_updated ASC LIMIT $3
			FOR UPDATE SKIP LOCKED`
		args = []any{recruiterIDs, cutoff, limit}
	}

	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=dialogue.claim_pending: %w", err)
	}
	defer rows.Close()
	out, err := scanDialogues(rows)
	if err != nil {
		return nil, fmt.Errorf("op=dialogue.claim_pending_scan: %w", err)
	}
	return out, nil
}

// ClaimForDojim locks dialogues the reminder ladder may act on, all with no
// pending messages: in_progress dialogues below level 3 (short ladder) and
// timed_out dialogues at levels 3-5 (long ladder). Whether the next level
// is due is decided by the caller from last_updated.
func (r *DialogueRepo) ClaimForDojim(ctx domain.Context, recruiterIDs []string, limit int) ([]domain.Dialogue, error) {
	ctx, span := startSpan(ctx, "dialogues", "dialogues.ClaimForDojim", "SELECT", "dialogues")
	defer span.End()

	var q string
	var args []any
	if len(recruiterIDs) == 0 {
		q = `SELECT ` + dialogueColumns + ` FROM dialogues
			WHERE status='in_progress' AND jsonb_array_length(pending_messages) = 0 AND reminder_level < 3
			   OR status='timed_out' AND jsonb_array_length(pending_messages) = 0 AND reminder_level BETWEEN 3 AND 5
			ORDER BY last_updated ASC LIMIT $1
			FOR UPDATE SKIP LOCKED`
		args = []any{limit}
	} else {
		q = `SELECT ` + dialogueColumns + ` FROM dialogues
			WHERE recruiter_id = ANY($1) AND status='in_progress' AND jsonb_array_length(pending_messages) = 0 AND reminder_level < 3
			   OR recruiter_id = ANY($1) AND status='timed_out' AND jsonb_array_length(pending_messages) = 0 AND reminder_level BETWEEN 3 AND 5
			ORDER BY last_updated ASC LIMIT $2
			FOR UPDATE SKIP LOCKED`
		args = []any{recruiterIDs, limit}
	}

	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=dialogue.claim_for_dojim: %w", err)
	}
	defer rows.Close()
	out, err := scanDialogues(rows)
	if err != nil {
		return nil, fmt.Errorf("op=dialogue.claim_for_dojim_scan: %w", err)
	}
	return out, nil
}

// CleanupHistoryOlderThan trims history entries with timestamp_local before
// cutoff from every dialogue, returning the number of rows touched. Used by
// the notifier's periodic history-cleanup cron.
func (r *DialogueRepo) CleanupHistoryOlderThan(ctx domain.Context, cutoff time.Time) (int64, error) {
	ctx, span := startSpan(ctx, "dialogues", "dialogues.CleanupHistoryOlderThan", "UPDATE", "dialogues")
	defer span.End()

	q := `UPDATE dialogues SET history = (
		SELECT COALESCE(jsonb_agg(entry), '[]'::jsonb)
		FROM jsonb_array_elements(history) entry
		WHERE (entry->>'timestamp_local')::timestamptz >= $1
	)
	WHERE EXISTS (
		SELECT 1 FROM jsonb_array_elements(history) entry
		WHERE (entry->>'timestamp_local')::timestamptz < $1
	)`
	tag, err := r.Pool.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("op=dialogue.cleanup_history_older_than: %w", err)
	}
	return tag.RowsAffected(), nil
}
