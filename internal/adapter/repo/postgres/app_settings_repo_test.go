package postgres_test

import (
	"context"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/adapter/repo/postgres"
)

func TestAppSettingsRepo_Get(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewAppSettingsRepo(m)
	ctx := context.Background()

	rows := pgxmock.NewRows([]string{
		"balance", "cost_per_dialogue", "cost_per_long_reminder", "low_balance_threshold",
		"low_limit_notified", "total_spent_on_dialogues", "total_spent_on_reminders",
	}).AddRow(100.0, 1.5, 0.5, 10.0, false, 50.0, 5.0)
	m.ExpectQuery(`(?s)SELECT .* FROM app_settings WHERE id=1`).WillReturnRows(rows)

	s, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100.0, s.Balance)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestAppSettingsRepo_DebitForDialogue_InsufficientBalance(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewAppSettingsRepo(m)
	ctx := context.Background()

	m.ExpectBegin()
	rows := pgxmock.NewRows([]string{"balance", "cost_per_dialogue", "low_balance_threshold", "low_limit_notified"}).
		AddRow(1.0, 1.5, 10.0, false)
	m.ExpectQuery(`SELECT balance, cost_per_dialogue, low_balance_threshold, low_limit_notified FROM app_settings WHERE id=1 FOR UPDATE`).
		WillReturnRows(rows)
	m.ExpectCommit()

	ok, crossed, recovered, err := repo.DebitForDialogue(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, crossed)
	assert.False(t, recovered)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestAppSettingsRepo_DebitForDialogue_CrossesLowThreshold(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewAppSettingsRepo(m)
	ctx := context.Background()

	m.ExpectBegin()
	rows := pgxmock.NewRows([]string{"balance", "cost_per_dialogue", "low_balance_threshold", "low_limit_notified"}).
		AddRow(11.0, 1.5, 10.0, false)
	m.ExpectQuery(`SELECT balance, cost_per_dialogue, low_balance_threshold, low_limit_notified FROM app_settings WHERE id=1 FOR UPDATE`).
		WillReturnRows(rows)
	m.ExpectExec(`UPDATE app_settings SET balance=\$1`).
		WithArgs(9.5, 1.5, true).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	m.ExpectCommit()

	ok, crossed, recovered, err := repo.DebitForDialogue(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, crossed)
	assert.False(t, recovered)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestAppSettingsRepo_DebitForDialogue_RecoversAboveThreshold(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewAppSettingsRepo(m)
	ctx := context.Background()

	m.ExpectBegin()
	rows := pgxmock.NewRows([]string{"balance", "cost_per_dialogue", "low_balance_threshold", "low_limit_notified"}).
		AddRow(200.0, 1.5, 10.0, true)
	m.ExpectQuery(`SELECT balance, cost_per_dialogue, low_balance_threshold, low_limit_notified FROM app_settings WHERE id=1 FOR UPDATE`).
		WillReturnRows(rows)
	m.ExpectExec(`UPDATE app_settings SET balance=\$1`).
		WithArgs(198.5, 1.5, false).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	m.ExpectCommit()

	ok, crossed, recovered, err := repo.DebitForDialogue(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, crossed)
	assert.True(t, recovered)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestAppSettingsRepo_DebitForLongReminder(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewAppSettingsRepo(m)
	ctx := context.Background()

	m.ExpectBegin()
	rows := pgxmock.NewRows([]string{"balance", "cost_per_long_reminder", "low_balance_threshold", "low_limit_notified"}).
		AddRow(200.0, 0.5, 10.0, false)
	m.ExpectQuery(`SELECT balance, cost_per_long_reminder, low_balance_threshold, low_limit_notified FROM app_settings WHERE id=1 FOR UPDATE`).
		WillReturnRows(rows)
	m.ExpectExec(`UPDATE app_settings SET balance=\$1`).
		WithArgs(199.5, 0.5, false).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	m.ExpectCommit()

	ok, err := repo.DebitForLongReminder(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, m.ExpectationsWereMet())
}
