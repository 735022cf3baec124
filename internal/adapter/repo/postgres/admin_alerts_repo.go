package postgres

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/domain"
)

// AdminAlertRepo persists operational alerts as kind/message rows; the
// poller is its only writer and records low-balance alerts.
type AdminAlertRepo struct{ Pool PgxPool }

// NewAdminAlertRepo constructs an AdminAlertRepo with the given pool.
func NewAdminAlertRepo(p PgxPool) *AdminAlertRepo { return &AdminAlertRepo{Pool: p} }

// Append inserts a new alert row.
func (r *AdminAlertRepo) Append(ctx domain.Context, kind, message string) error {
	ctx, span := startSpan(ctx, "admin_alerts", "admin_alerts.Append", "INSERT", "admin_alerts")
	defer span.End()
	q := `INSERT INTO admin_alerts (id, kind, message, created_at) VALUES ($1,$2,$3, now())`
	_, err := r.Pool.Exec(ctx, q, uuid.New().String(), kind, message)
	if err != nil {
		return fmt.Errorf("op=admin_alert.append: %w", err)
	}
	return nil
}
