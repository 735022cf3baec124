package postgres

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/domain"
)

// VacancyRepo persists and loads Vacancy rows.
type VacancyRepo struct{ Pool PgxPool }

// NewVacancyRepo constructs a VacancyRepo with the given pool.
func NewVacancyRepo(p PgxPool) *VacancyRepo { return &VacancyRepo{Pool: p} }

func scanVacancy(row pgx.Row) (domain.Vacancy, error) {
	var v domain.Vacancy
	if err := row.Scan(&v.ID, &v.ExternalID, &v.Title, &v.City, &v.RecruiterID); err != nil {
		return domain.Vacancy{}, err
	}
	return v, nil
}

// Get loads a vacancy by internal id.
func (r *VacancyRepo) Get(ctx domain.Context, id string) (domain.Vacancy, error) {
	ctx, span := startSpan(ctx, "vacancies", "vacancies.Get", "SELECT", "vacancies")
	defer span.End()
	q := `SELECT id, external_id, title, city, recruiter_id FROM vacancies WHERE id=$1`
	v, err := scanVacancy(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Vacancy{}, fmt.Errorf("op=vacancy.get: %w", domain.ErrNotFound)
		}
		return domain.Vacancy{}, fmt.Errorf("op=vacancy.get: %w", err)
	}
	return v, nil
}

// GetByExternalID loads a vacancy by its job-board id.
func (r *VacancyRepo) GetByExternalID(ctx domain.Context, externalID string) (domain.Vacancy, error) {
	ctx, span := startSpan(ctx, "vacancies", "vacancies.GetByExternalID", "SELECT", "vacancies")
	defer span.End()
	q := `SELECT id, external_id, title, city, recruiter_id FROM vacancies WHERE external_id=$1`
	v, err := scanVacancy(r.Pool.QueryRow(ctx, q, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Vacancy{}, fmt.Errorf("op=vacancy.get_by_external_id: %w", domain.ErrNotFound)
		}
		return domain.Vacancy{}, fmt.Errorf("op=vacancy.get_by_external_id: %w", err)
	}
	return v, nil
}

// Upsert inserts or updates a vacancy keyed by external_id, returning its
// internal id. Used by the poller to sync the job board's active-vacancy
// list into the vacancies table.
func (r *VacancyRepo) Upsert(ctx domain.Context, v domain.Vacancy) (string, error) {
	ctx, span := startSpan(ctx, "vacancies", "vacancies.Upsert", "INSERT", "vacancies")
	defer span.End()

	id := v.ID
	if id == "" {
		id = uuid.New().String()
	}
	q := `INSERT INTO vacancies (id, external_id, title, city, recruiter_id)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (external_id) DO UPDATE
		SET title=$3, city=$4, recruiter_id=$5
		RETURNING id`
	var returnedID string
	if err := r.Pool.QueryRow(ctx, q, id, v.ExternalID, v.Title, v.City, v.RecruiterID).Scan(&returnedID); err != nil {
		return "", fmt.Errorf("op=vacancy.upsert: %w", err)
	}
	return returnedID, nil
}

// ListActiveForRecruiter lists vacancies currently attached to recruiterID
// (recruiter_id is non-null).
func (r *VacancyRepo) ListActiveForRecruiter(ctx domain.Context, recruiterID string) ([]domain.Vacancy, error) {
	ctx, span := startSpan(ctx, "vacancies", "vacancies.ListActiveForRecruiter", "SELECT", "vacancies")
	defer span.End()

	rows, err := r.Pool.Query(ctx, `SELECT id, external_id, title, city, recruiter_id FROM vacancies WHERE recruiter_id=$1`, recruiterID)
	if err != nil {
		return nil, fmt.Errorf("op=vacancy.list_active_for_recruiter: %w", err)
	}
	defer rows.Close()

	var out []domain.Vacancy
	for rows.Next() {
		v, err := scanVacancy(rows)
		if err != nil {
			return nil, fmt.Errorf("op=vacancy.list_active_for_recruiter_scan: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=vacancy.list_active_for_recruiter_rows: %w", err)
	}
	return out, nil
}

// Detach nulls out a vacancy's recruiter_id, marking it observed-inactive
// without deleting history tied to it.
func (r *VacancyRepo) Detach(ctx domain.Context, id string) error {
	ctx, span := startSpan(ctx, "vacancies", "vacancies.Detach", "UPDATE", "vacancies")
	defer span.End()
	_, err := r.Pool.Exec(ctx, `UPDATE vacancies SET recruiter_id=NULL WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("op=vacancy.detach: %w", err)
	}
	return nil
}
