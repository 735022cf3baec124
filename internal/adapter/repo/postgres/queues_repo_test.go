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

func TestQualifiedQueueRepo(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewQualifiedQueueRepo(m)
	ctx := context.Background()
	now := time.Now().UTC()

	m.ExpectExec(`INSERT INTO qualified_notifications`).
		WithArgs(pgxmock.AnyArg(), "c1").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, repo.EnsurePending(ctx, "c1"))

	rows := pgxmock.NewRows([]string{"id", "candidate_id", "status", "created_at", "processed_at"}).
		AddRow("n1", "c1", domain.QueuePending, now, (*time.Time)(nil))
	m.ExpectQuery(`SELECT id, candidate_id, status, created_at, processed_at FROM qualified_notifications`).
		WithArgs(10).WillReturnRows(rows)
	out, err := repo.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "c1", out[0].CandidateID)

	m.ExpectExec(`UPDATE qualified_notifications SET status`).
		WithArgs("n1", domain.QueueSent).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.MarkProcessed(ctx, "n1", domain.QueueSent))
	require.NoError(t, m.ExpectationsWereMet())
}

func TestRejectedQueueRepo(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewRejectedQueueRepo(m)
	ctx := context.Background()
	now := time.Now().UTC()

	m.ExpectExec(`INSERT INTO rejected_notifications`).
		WithArgs(pgxmock.AnyArg(), "d1").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, repo.EnsurePending(ctx, "d1"))

	rows := pgxmock.NewRows([]string{"id", "dialogue_id", "status", "created_at", "processed_at"}).
		AddRow("n1", "d1", domain.QueuePending, now, (*time.Time)(nil))
	m.ExpectQuery(`SELECT id, dialogue_id, status, created_at, processed_at FROM rejected_notifications WHERE dialogue_id=\$1`).
		WithArgs("d1").WillReturnRows(rows)
	n, found, err := repo.Get(ctx, "d1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "n1", n.ID)

	m.ExpectQuery(`SELECT id, dialogue_id, status, created_at, processed_at FROM rejected_notifications WHERE dialogue_id=\$1`).
		WithArgs("missing").WillReturnError(assert.AnError)
	_, found2, err := repo.Get(ctx, "missing")
	require.Error(t, err)
	assert.False(t, found2)
}

func TestInactiveQueueRepo(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewInactiveQueueRepo(m)
	ctx := context.Background()

	m.ExpectExec(`INSERT INTO inactive_notifications`).
		WithArgs(pgxmock.AnyArg(), "d1").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, repo.EnsurePending(ctx, "d1"))

	m.ExpectExec(`UPDATE inactive_notifications SET status='cancelled'`).
		WithArgs("d1").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.Cancel(ctx, "d1"))
	require.NoError(t, m.ExpectationsWereMet())
}
