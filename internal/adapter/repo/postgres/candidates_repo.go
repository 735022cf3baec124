package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/domain"
)

// CandidateRepo persists and loads Candidate rows.
type CandidateRepo struct{ Pool PgxPool }

// NewCandidateRepo constructs a CandidateRepo with the given pool.
func NewCandidateRepo(p PgxPool) *CandidateRepo { return &CandidateRepo{Pool: p} }

const candidateColumns = `id, external_resume_id, full_name, age, citizenship, city, phone_number, readiness_to_start, created_at`

func scanCandidate(row pgx.Row) (domain.Candidate, error) {
	var c domain.Candidate
	if err := row.Scan(&c.ID, &c.ExternalResumeID, &c.FullName, &c.Age, &c.Citizenship, &c.City, &c.PhoneNumber, &c.ReadinessToStart, &c.CreatedAt); err != nil {
		return domain.Candidate{}, err
	}
	return c, nil
}

// Get loads a candidate by internal id.
func (r *CandidateRepo) Get(ctx domain.Context, id string) (domain.Candidate, error) {
	ctx, span := startSpan(ctx, "candidates", "candidates.Get", "SELECT", "candidates")
	defer span.End()
	q := `SELECT ` + candidateColumns + ` FROM candidates WHERE id=$1`
	c, err := scanCandidate(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Candidate{}, fmt.Errorf("op=candidate.get: %w", domain.ErrNotFound)
		}
		return domain.Candidate{}, fmt.Errorf("op=candidate.get: %w", err)
	}
	return c, nil
}

// GetByExternalResumeID loads a candidate by the job-board resume id.
func (r *CandidateRepo) GetByExternalResumeID(ctx domain.Context, externalResumeID string) (domain.Candidate, error) {
	ctx, span := startSpan(ctx, "candidates", "candidates.GetByExternalResumeID", "SELECT", "candidates")
	defer span.End()
	q := `SELECT ` + candidateColumns + ` FROM candidates WHERE external_resume_id=$1`
	c, err := scanCandidate(r.Pool.QueryRow(ctx, q, externalResumeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Candidate{}, fmt.Errorf("op=candidate.get_by_external_resume_id: %w", domain.ErrNotFound)
		}
		return domain.Candidate{}, fmt.Errorf("op=candidate.get_by_external_resume_id: %w", err)
	}
	return c, nil
}

// Create inserts a new candidate, generating an id if c.ID is empty.
func (r *CandidateRepo) Create(ctx domain.Context, c domain.Candidate) (string, error) {
	ctx, span := startSpan(ctx, "candidates", "candidates.Create", "INSERT", "candidates")
	defer span.End()

	id := c.ID
	if id == "" {
		id = uuid.New().String()
	}
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	q := `INSERT INTO candidates (id, external_resume_id, full_name, age, citizenship, city, phone_number, readiness_to_start, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err := r.Pool.Exec(ctx, q, id, c.ExternalResumeID, c.FullName, c.Age, c.Citizenship, c.City, c.PhoneNumber, c.ReadinessToStart, createdAt)
	if err != nil {
		return "", fmt.Errorf("op=candidate.create: %w", err)
	}
	return id, nil
}

// Update persists the candidate's current qualification fields, applied
// incrementally as the processor extracts each field from the dialogue.
func (r *CandidateRepo) Update(ctx domain.Context, c domain.Candidate) error {
	ctx, span := startSpan(ctx, "candidates", "candidates.Update", "UPDATE", "candidates")
	defer span.End()
	q := `UPDATE candidates SET full_name=$2, age=$3, citizenship=$4, city=$5, phone_number=$6, readiness_to_start=$7 WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, c.ID, c.FullName, c.Age, c.Citizenship, c.City, c.PhoneNumber, c.ReadinessToStart)
	if err != nil {
		return fmt.Errorf("op=candidate.update: %w", err)
	}
	return nil
}
