package postgres_test

import (
	"context"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/domain"
)

var vacancyCols = []string{"id", "external_id", "title", "city", "recruiter_id"}

func TestVacancyRepo_GetByExternalID(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewVacancyRepo(m)
	ctx := context.Background()
	recID := "r1"

	rows := pgxmock.NewRows(vacancyCols).AddRow("v1", "ext-1", "Courier", "Moscow", &recID)
	m.ExpectQuery(`SELECT id, external_id, title, city, recruiter_id FROM vacancies WHERE external_id=\$1`).
		WithArgs("ext-1").WillReturnRows(rows)

	v, err := repo.GetByExternalID(ctx, "ext-1")
	require.NoError(t, err)
	assert.Equal(t, "Courier", v.Title)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestVacancyRepo_Upsert(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewVacancyRepo(m)
	ctx := context.Background()
	recID := "r1"

	rows := pgxmock.NewRows([]string{"id"}).AddRow("v1")
	m.ExpectQuery(`INSERT INTO vacancies .* ON CONFLICT \(external_id\) DO UPDATE`).
		WithArgs(pgxmock.AnyArg(), "ext-1", "Courier", "Moscow", &recID).
		WillReturnRows(rows)

	id, err := repo.Upsert(ctx, domain.Vacancy{ExternalID: "ext-1", Title: "Courier", City: "Moscow", RecruiterID: &recID})
	require.NoError(t, err)
	assert.Equal(t, "v1", id)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestVacancyRepo_ListActiveForRecruiter(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewVacancyRepo(m)
	ctx := context.Background()
	recID := "r1"

	rows := pgxmock.NewRows(vacancyCols).AddRow("v1", "ext-1", "Courier", "Moscow", &recID)
	m.ExpectQuery(`SELECT id, external_id, title, city, recruiter_id FROM vacancies WHERE recruiter_id=\$1`).
		WithArgs("r1").WillReturnRows(rows)

	list, err := repo.ListActiveForRecruiter(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestVacancyRepo_Detach(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewVacancyRepo(m)
	ctx := context.Background()

	m.ExpectExec(`UPDATE vacancies SET recruiter_id=NULL WHERE id=\$1`).
		WithArgs("v1").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.Detach(ctx, "v1"))
	require.NoError(t, m.ExpectationsWereMet())
}
