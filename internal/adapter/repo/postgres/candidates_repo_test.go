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

var candidateCols = []string{"id", "external_resume_id", "full_name", "age", "citizenship", "city", "phone_number", "readiness_to_start", "created_at"}

func TestCandidateRepo_GetByExternalResumeID(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewCandidateRepo(m)
	ctx := context.Background()
	now := time.Now().UTC()
	age := 27

	rows := pgxmock.NewRows(candidateCols).AddRow("c1", "resume-1", "Ivan Ivanov", &age, "RU", "Moscow", "+7900", "immediately", now)
	m.ExpectQuery(`SELECT .* FROM candidates WHERE external_resume_id=\$1`).WithArgs("resume-1").WillReturnRows(rows)

	c, err := repo.GetByExternalResumeID(ctx, "resume-1")
	require.NoError(t, err)
	assert.Equal(t, "Ivan Ivanov", c.FullName)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestCandidateRepo_Create(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewCandidateRepo(m)
	ctx := context.Background()

	m.ExpectExec(`INSERT INTO candidates`).
		WithArgs(pgxmock.AnyArg(), "resume-1", "", (*int)(nil), "", "", "", "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := repo.Create(ctx, domain.Candidate{ExternalResumeID: "resume-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestCandidateRepo_Update(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewCandidateRepo(m)
	ctx := context.Background()
	age := 30

	m.ExpectExec(`UPDATE candidates SET full_name`).
		WithArgs("c1", "Ivan Ivanov", &age, "RU", "Moscow", "+7900", "immediately").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = repo.Update(ctx, domain.Candidate{ID: "c1", FullName: "Ivan Ivanov", Age: &age, Citizenship: "RU", City: "Moscow", PhoneNumber: "+7900", ReadinessToStart: "immediately"})
	require.NoError(t, err)
	require.NoError(t, m.ExpectationsWereMet())
}
