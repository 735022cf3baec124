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

var dialogueCols = []string{
	"id", "external_response_id", "candidate_id", "vacancy_id", "recruiter_id", "status", "dialogue_state",
	"reminder_level", "history", "pending_messages", "last_updated", "created_at", "response_created_at",
	"interview_datetime_utc", "total_prompt_tokens", "total_completion_tokens", "total_cached_tokens", "total_cost",
}

func dialogueRow(id string) []any {
	now := time.Now().UTC()
	return []any{
		id, "ext-resp-1", "c1", "v1", "r1", domain.StatusInProgress, domain.DialogueState(""),
		0, []byte(`[]`), []byte(`[]`), now, now, now,
		nil, int64(0), int64(0), int64(0), 0.0,
	}
}

func TestDialogueRepo_Create(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewDialogueRepo(m)
	ctx := context.Background()

	m.ExpectExec(`INSERT INTO dialogues`).
		WithArgs(pgxmock.AnyArg(), "ext-resp-1", "c1", "v1", "r1", domain.StatusInProgress, domain.DialogueState(""),
			0, []byte(`[]`), []byte(`[]`), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			(*time.Time)(nil), int64(0), int64(0), int64(0), 0.0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := repo.Create(ctx, domain.Dialogue{ExternalResponseID: "ext-resp-1", CandidateID: "c1", VacancyID: "v1", RecruiterID: "r1", Status: domain.StatusInProgress})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestDialogueRepo_Update(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewDialogueRepo(m)
	ctx := context.Background()

	m.ExpectExec(`UPDATE dialogues SET status`).
		WithArgs("d1", domain.StatusInProgress, domain.DialogueState(""), 1, []byte(`[]`), []byte(`[]`),
			pgxmock.AnyArg(), (*time.Time)(nil), int64(10), int64(5), int64(0), 0.02).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = repo.Update(ctx, domain.Dialogue{ID: "d1", Status: domain.StatusInProgress, ReminderLevel: 1,
		TotalPromptTokens: 10, TotalCompletionTokens: 5, TotalCost: 0.02})
	require.NoError(t, err)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestDialogueRepo_ClaimPending(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewDialogueRepo(m)
	ctx := context.Background()

	rows := pgxmock.NewRows(dialogueCols).AddRow(dialogueRow("d1")...)
	m.ExpectQuery(`(?s)FROM dialogues\s+WHERE jsonb_array_length\(pending_messages\) > 0 AND last_updated <= \$1`).
		WithArgs(pgxmock.AnyArg(), 10).WillReturnRows(rows)

	out, err := repo.ClaimPending(ctx, nil, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "d1", out[0].ID)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestDialogueRepo_ClaimForDojim(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewDialogueRepo(m)
	ctx := context.Background()

	rows := pgxmock.NewRows(dialogueCols).AddRow(dialogueRow("d2")...)
	m.ExpectQuery(`(?s)FROM dialogues\s+WHERE recruiter_id = ANY\(\$1\) AND status='in_progress'`).
		WithArgs([]string{"r1"}, 5).WillReturnRows(rows)

	out, err := repo.ClaimForDojim(ctx, []string{"r1"}, 5)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestDialogueRepo_CreateWithDebit_InsufficientBalance(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewDialogueRepo(m)
	ctx := context.Background()

	m.ExpectBegin()
	rows := pgxmock.NewRows([]string{"balance", "cost_per_dialogue", "low_balance_threshold", "low_limit_notified"}).
		AddRow(1.0, 1.5, 10.0, false)
	m.ExpectQuery(`SELECT balance, cost_per_dialogue, low_balance_threshold, low_limit_notified FROM app_settings WHERE id=1 FOR UPDATE`).
		WillReturnRows(rows)
	m.ExpectCommit()

	moveCalled := false
	id, ok, crossed, recovered, err := repo.CreateWithDebit(ctx, domain.Dialogue{ExternalResponseID: "ext-resp-1"}, func() error {
		moveCalled = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, crossed)
	assert.False(t, recovered)
	assert.Empty(t, id)
	assert.False(t, moveCalled, "moveResponse must not run when the balance cannot cover the cost")
	require.NoError(t, m.ExpectationsWereMet())
}

func TestDialogueRepo_CreateWithDebit_MovesBeforeCommitting(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewDialogueRepo(m)
	ctx := context.Background()

	m.ExpectBegin()
	rows := pgxmock.NewRows([]string{"balance", "cost_per_dialogue", "low_balance_threshold", "low_limit_notified"}).
		AddRow(11.0, 1.5, 10.0, false)
	m.ExpectQuery(`SELECT balance, cost_per_dialogue, low_balance_threshold, low_limit_notified FROM app_settings WHERE id=1 FOR UPDATE`).
		WillReturnRows(rows)
	m.ExpectExec(`UPDATE app_settings SET balance=\$1`).
		WithArgs(9.5, 1.5, true).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	m.ExpectExec(`INSERT INTO dialogues`).
		WithArgs(pgxmock.AnyArg(), "ext-resp-1", "c1", "v1", "r1", domain.StatusNew, domain.StateInitialProcessing,
			0, []byte(`[]`), []byte(`[]`), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			(*time.Time)(nil), int64(0), int64(0), int64(0), 0.0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	m.ExpectCommit()

	var moveOrder []string
	moveResponse := func() error {
		moveOrder = append(moveOrder, "move")
		return nil
	}
	id, ok, crossed, recovered, err := repo.CreateWithDebit(ctx, domain.Dialogue{
		ExternalResponseID: "ext-resp-1", CandidateID: "c1", VacancyID: "v1", RecruiterID: "r1",
		Status: domain.StatusNew, DialogueState: domain.StateInitialProcessing,
	}, moveResponse)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, crossed)
	assert.False(t, recovered)
	assert.NotEmpty(t, id)
	assert.Equal(t, []string{"move"}, moveOrder)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestDialogueRepo_CreateWithDebit_MoveFailureRollsBackDebitAndInsert(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewDialogueRepo(m)
	ctx := context.Background()

	m.ExpectBegin()
	rows := pgxmock.NewRows([]string{"balance", "cost_per_dialogue", "low_balance_threshold", "low_limit_notified"}).
		AddRow(100.0, 1.5, 10.0, false)
	m.ExpectQuery(`SELECT balance, cost_per_dialogue, low_balance_threshold, low_limit_notified FROM app_settings WHERE id=1 FOR UPDATE`).
		WillReturnRows(rows)
	m.ExpectRollback()

	id, ok, _, _, err := repo.CreateWithDebit(ctx, domain.Dialogue{ExternalResponseID: "ext-resp-1"}, func() error {
		return assert.AnError
	})
	require.Error(t, err)
	assert.False(t, ok)
	assert.Empty(t, id)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestDialogueRepo_CleanupHistoryOlderThan(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewDialogueRepo(m)
	ctx := context.Background()
	cutoff := time.Now().UTC().Add(-30 * 24 * time.Hour)

	m.ExpectExec(`UPDATE dialogues SET history`).
		WithArgs(cutoff).WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := repo.CleanupHistoryOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, m.ExpectationsWereMet())
}
