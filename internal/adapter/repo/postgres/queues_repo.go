package postgres

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/domain"
)

// QualifiedQueueRepo manages the qualified outbound notification queue,
// keyed by candidate_id to avoid duplicate dossiers.
type QualifiedQueueRepo struct{ Pool PgxPool }

// NewQualifiedQueueRepo constructs a QualifiedQueueRepo with the given pool.
func NewQualifiedQueueRepo(p PgxPool) *QualifiedQueueRepo { return &QualifiedQueueRepo{Pool: p} }

// EnsurePending inserts a pending row for candidateID, no-op if one already
// exists.
func (r *QualifiedQueueRepo) EnsurePending(ctx domain.Context, candidateID string) error {
	ctx, span := startSpan(ctx, "qualified_queue", "qualified_queue.EnsurePending", "INSERT", "qualified_notifications")
	defer span.End()
	q := `INSERT INTO qualified_notifications (id, candidate_id, status, created_at)
		VALUES ($1,$2,'pending', now())
		ON CONFLICT (candidate_id) DO NOTHING`
	_, err := r.Pool.Exec(ctx, q, uuid.New().String(), candidateID)
	if err != nil {
		return fmt.Errorf("op=qualified_queue.ensure_pending: %w", err)
	}
	return nil
}

// ClaimPending locks up to limit pending rows with SKIP LOCKED, letting
// multiple notifier instances drain the queue concurrently without
// double-sending.
func (r *QualifiedQueueRepo) ClaimPending(ctx domain.Context, limit int) ([]domain.QualifiedNotification, error) {
	ctx, span := startSpan(ctx, "qualified_queue", "qualified_queue.ClaimPending", "SELECT", "qualified_notifications")
	defer span.End()
	q := `SELECT id, candidate_id, status, created_at, processed_at FROM qualified_notifications
		WHERE status='pending' ORDER BY created_at ASC LIMIT $1 FOR UPDATE SKIP LOCKED`
	rows, err := r.Pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("op=qualified_queue.claim_pending: %w", err)
	}
	defer rows.Close()

	var out []domain.QualifiedNotification
	for rows.Next() {
		var n domain.QualifiedNotification
		if err := rows.Scan(&n.ID, &n.CandidateID, &n.Status, &n.CreatedAt, &n.ProcessedAt); err != nil {
			return nil, fmt.Errorf("op=qualified_queue.claim_pending_scan: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=qualified_queue.claim_pending_rows: %w", err)
	}
	return out, nil
}

// MarkProcessed stamps the terminal status and processed_at timestamp.
func (r *QualifiedQueueRepo) MarkProcessed(ctx domain.Context, id string, status domain.QueueStatus) error {
	ctx, span := startSpan(ctx, "qualified_queue", "qualified_queue.MarkProcessed", "UPDATE", "qualified_notifications")
	defer span.End()
	_, err := r.Pool.Exec(ctx, `UPDATE qualified_notifications SET status=$2, processed_at=now() WHERE id=$1`, id, status)
	if err != nil {
		return fmt.Errorf("op=qualified_queue.mark_processed: %w", err)
	}
	return nil
}

// RejectedQueueRepo manages the rejected outbound notification queue,
// unique per dialogue.
type RejectedQueueRepo struct{ Pool PgxPool }

// NewRejectedQueueRepo constructs a RejectedQueueRepo with the given pool.
func NewRejectedQueueRepo(p PgxPool) *RejectedQueueRepo { return &RejectedQueueRepo{Pool: p} }

// EnsurePending inserts a pending row for dialogueID, no-op if one exists.
func (r *RejectedQueueRepo) EnsurePending(ctx domain.Context, dialogueID string) error {
	ctx, span := startSpan(ctx, "rejected_queue", "rejected_queue.EnsurePending", "INSERT", "rejected_notifications")
	defer span.End()
	q := `INSERT INTO rejected_notifications (id, dialogue_id, status, created_at)
		VALUES ($1,$2,'pending', now())
		ON CONFLICT (dialogue_id) DO NOTHING`
	_, err := r.Pool.Exec(ctx, q, uuid.New().String(), dialogueID)
	if err != nil {
		return fmt.Errorf("op=rejected_queue.ensure_pending: %w", err)
	}
	return nil
}

// Get loads the notification row for dialogueID, if any.
func (r *RejectedQueueRepo) Get(ctx domain.Context, dialogueID string) (domain.RejectedNotification, bool, error) {
	ctx, span := startSpan(ctx, "rejected_queue", "rejected_queue.Get", "SELECT", "rejected_notifications")
	defer span.End()
	q := `SELECT id, dialogue_id, status, created_at, processed_at FROM rejected_notifications WHERE dialogue_id=$1`
	var n domain.RejectedNotification
	err := r.Pool.QueryRow(ctx, q, dialogueID).Scan(&n.ID, &n.DialogueID, &n.Status, &n.CreatedAt, &n.ProcessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RejectedNotification{}, false, nil
		}
		return domain.RejectedNotification{}, false, fmt.Errorf("op=rejected_queue.get: %w", err)
	}
	return n, true, nil
}

// ClaimPending locks up to limit pending rows with SKIP LOCKED.
func (r *RejectedQueueRepo) ClaimPending(ctx domain.Context, limit int) ([]domain.RejectedNotification, error) {
	ctx, span := startSpan(ctx, "rejected_queue", "rejected_queue.ClaimPending", "SELECT", "rejected_notifications")
	defer span.End()
	q := `SELECT id, dialogue_id, status, created_at, processed_at FROM rejected_notifications
		WHERE status='pending' ORDER BY created_at ASC LIMIT $1 FOR UPDATE SKIP LOCKED`
	rows, err := r.Pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("op=rejected_queue.claim_pending: %w", err)
	}
	defer rows.Close()

	var out []domain.RejectedNotification
	for rows.Next() {
		var n domain.RejectedNotification
		if err := rows.Scan(&n.ID, &n.DialogueID, &n.Status, &n.CreatedAt, &n.ProcessedAt); err != nil {
			return nil, fmt.Errorf("op=rejected_queue.claim_pending_scan: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=rejected_queue.claim_pending_rows: %w", err)
	}
	return out, nil
}

// MarkProcessed stamps the terminal status and processed_at timestamp.
func (r *RejectedQueueRepo) MarkProcessed(ctx domain.Context, id string, status domain.QueueStatus) error {
	ctx, span := startSpan(ctx, "rejected_queue", "rejected_queue.MarkProcessed", "UPDATE", "rejected_notifications")
	defer span.End()
	_, err := r.Pool.Exec(ctx, `UPDATE rejected_notifications SET status=$2, processed_at=now() WHERE id=$1`, id, status)
	if err != nil {
		return fmt.Errorf("op=rejected_queue.mark_processed: %w", err)
	}
	return nil
}

// InactiveQueueRepo manages the inactive (silent-candidate) outbound
// notification queue, unique per dialogue.
type InactiveQueueRepo struct{ Pool PgxPool }

// NewInactiveQueueRepo constructs an InactiveQueueRepo with the given pool.
func NewInactiveQueueRepo(p PgxPool) *InactiveQueueRepo { return &InactiveQueueRepo{Pool: p} }

// EnsurePending inserts a pending row for dialogueID, no-op if one exists.
func (r *InactiveQueueRepo) EnsurePending(ctx domain.Context, dialogueID string) error {
	ctx, span := startSpan(ctx, "inactive_queue", "inactive_queue.EnsurePending", "INSERT", "inactive_notifications")
	defer span.End()
	q := `INSERT INTO inactive_notifications (id, dialogue_id, status, created_at)
		VALUES ($1,$2,'pending', now())
		ON CONFLICT (dialogue_id) DO NOTHING`
	_, err := r.Pool.Exec(ctx, q, uuid.New().String(), dialogueID)
	if err != nil {
		return fmt.Errorf("op=inactive_queue.ensure_pending: %w", err)
	}
	return nil
}

// Get loads the notification row for dialogueID, if any.
func (r *InactiveQueueRepo) Get(ctx domain.Context, dialogueID string) (domain.InactiveNotification, bool, error) {
	ctx, span := startSpan(ctx, "inactive_queue", "inactive_queue.Get", "SELECT", "inactive_notifications")
	defer span.End()
	q := `SELECT id, dialogue_id, status, created_at, processed_at FROM inactive_notifications WHERE dialogue_id=$1`
	var n domain.InactiveNotification
	err := r.Pool.QueryRow(ctx, q, dialogueID).Scan(&n.ID, &n.DialogueID, &n.Status, &n.CreatedAt, &n.ProcessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.InactiveNotification{}, false, nil
		}
		return domain.InactiveNotification{}, false, fmt.Errorf("op=inactive_queue.get: %w", err)
	}
	return n, true, nil
}

// Cancel marks a pending inactive-candidate notification cancelled, used
// when the candidate replies after the queue entry was created but before
// the notifier drained it.
func (r *InactiveQueueRepo) Cancel(ctx domain.Context, dialogueID string) error {
	ctx, span := startSpan(ctx, "inactive_queue", "inactive_queue.Cancel", "UPDATE", "inactive_notifications")
	defer span.End()
	q := `UPDATE inactive_notifications SET status='cancelled', processed_at=now() WHERE dialogue_id=$1 AND status='pending'`
	_, err := r.Pool.Exec(ctx, q, dialogueID)
	if err != nil {
		return fmt.Errorf("op=inactive_queue.cancel: %w", err)
	}
	return nil
}

// ClaimPending locks up to limit pending rows with SKIP LOCKED.
func (r *InactiveQueueRepo) ClaimPending(ctx domain.Context, limit int) ([]domain.InactiveNotification, error) {
	ctx, span := startSpan(ctx, "inactive_queue", "inactive_queue.ClaimPending", "SELECT", "inactive_notifications")
	defer span.End()
	q := `SELECT id, dialogue_id, status, created_at, processed_at FROM inactive_notifications
		WHERE status='pending' ORDER BY created_at ASC LIMIT $1 FOR UPDATE SKIP LOCKED`
	rows, err := r.Pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("op=inactive_queue.claim_pending: %w", err)
	}
	defer rows.Close()

	var out []domain.InactiveNotification
	for rows.Next() {
		var n domain.InactiveNotification
		if err := rows.Scan(&n.ID, &n.DialogueID, &n.Status, &n.CreatedAt, &n.ProcessedAt); err != nil {
			return nil, fmt.Errorf("op=inactive_queue.claim_pending_scan: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=inactive_queue.claim_pending_rows: %w", err)
	}
	return out, nil
}

// MarkProcessed stamps the terminal status and processed_at timestamp.
func (r *InactiveQueueRepo) MarkProcessed(ctx domain.Context, id string, status domain.QueueStatus) error {
	ctx, span := startSpan(ctx, "inactive_queue", "inactive_queue.MarkProcessed", "UPDATE", "inactive_notifications")
	defer span.End()
	_, err := r.Pool.Exec(ctx, `UPDATE inactive_notifications SET status=$2, processed_at=now() WHERE id=$1`, id, status)
	if err != nil {
		return fmt.Errorf("op=inactive_queue.mark_processed: %w", err)
	}
	return nil
}
