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

var recruiterCols = []string{
	"id", "external_id", "name", "refresh_token", "access_token", "token_expires_at",
	"vacancies_last_synced_at", "chat_id", "topic_qualified", "topic_rejected", "topic_timeout", "created_at",
}

func TestRecruiterRepo_Get(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewRecruiterRepo(m)
	ctx := context.Background()
	now := time.Now().UTC()

	rows := pgxmock.NewRows(recruiterCols).
		AddRow("r1", "ext-1", "Jane", "refresh", "access", now, now, int64(100), 1, 2, 3, now)
	m.ExpectQuery(`(?s)SELECT .* FROM recruiters WHERE id=\$1`).WithArgs("r1").WillReturnRows(rows)

	rec, err := repo.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "ext-1", rec.ExternalID)
	assert.Equal(t, int64(100), rec.ChatID)

	m.ExpectQuery(`(?s)SELECT .* FROM recruiters WHERE id=\$1`).WithArgs("missing").WillReturnError(assert.AnError)
	_, err = repo.Get(ctx, "missing")
	require.Error(t, err)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestRecruiterRepo_ListTracked(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewRecruiterRepo(m)
	ctx := context.Background()
	now := time.Now().UTC()

	rows := pgxmock.NewRows(recruiterCols).
		AddRow("r1", "ext-1", "Jane", "refresh", "access", now, now, int64(100), 1, 2, 3, now)
	m.ExpectQuery(`(?s)SELECT .* FROM recruiters ORDER BY id`).WillReturnRows(rows)
	list, err := repo.ListTracked(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	rows2 := pgxmock.NewRows(recruiterCols).
		AddRow("r2", "ext-2", "Joe", "refresh", "access", now, now, int64(200), 4, 5, 6, now)
	m.ExpectQuery(`(?s)SELECT .* FROM recruiters WHERE id = ANY\(\$1\) ORDER BY id`).WithArgs([]string{"r2"}).WillReturnRows(rows2)
	list2, err := repo.ListTracked(ctx, []string{"r2"})
	require.NoError(t, err)
	require.Len(t, list2, 1)
	assert.Equal(t, "r2", list2[0].ID)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestRecruiterRepo_UpdateVacanciesSyncedAt(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewRecruiterRepo(m)
	ctx := context.Background()
	now := time.Now().UTC()

	m.ExpectExec(`UPDATE recruiters SET vacancies_last_synced_at`).
		WithArgs("r1", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.UpdateVacanciesSyncedAt(ctx, "r1", now))
	require.NoError(t, m.ExpectationsWereMet())
}

func TestRecruiterRepo_UpdateTokens(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewRecruiterRepo(m)
	ctx := context.Background()
	expires := time.Now().UTC().Add(time.Hour)

	m.ExpectExec(`UPDATE recruiters SET access_token`).
		WithArgs("r1", "new-access", "new-refresh", expires).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.UpdateTokens(ctx, "r1", "new-access", "new-refresh", expires))
	require.NoError(t, m.ExpectationsWereMet())
}

func TestRecruiterRepo_LockForTokenRefresh(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewRecruiterRepo(m)
	ctx := context.Background()
	now := time.Now().UTC()

	rows := pgxmock.NewRows(recruiterCols).
		AddRow("r1", "ext-1", "Jane", "refresh", "access", now, now, int64(100), 1, 2, 3, now)
	m.ExpectBegin()
	m.ExpectQuery(`(?s)SELECT .* FROM recruiters WHERE id=\$1 FOR UPDATE`).WithArgs("r1").WillReturnRows(rows)
	m.ExpectCommit()

	rec, err := repo.LockForTokenRefresh(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", rec.ID)
	require.NoError(t, m.ExpectationsWereMet())
}
