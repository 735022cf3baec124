package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/domain"
)

// AppSettingsRepo manages the single-row ledger (id=1) tracking remaining
// balance and cumulative spend.
type AppSettingsRepo struct{ Pool PgxPool }

// NewAppSettingsRepo constructs an AppSettingsRepo with the given pool.
func NewAppSettingsRepo(p PgxPool) *AppSettingsRepo { return &AppSettingsRepo{Pool: p} }

const appSettingsColumns = `balance, cost_per_dialogue, cost_per_long_reminder, low_balance_threshold,
	low_limit_notified, total_spent_on_dialogues, total_spent_on_reminders`

// Get loads the ledger row.
func (r *AppSettingsRepo) Get(ctx domain.Context) (domain.AppSettings, error) {
	ctx, span := startSpan(ctx, "app_settings", "app_settings.Get", "SELECT", "app_settings")
	defer span.End()
	q := `SELECT ` + appSettingsColumns + ` FROM app_settings WHERE id=1`
	var s domain.AppSettings
	err := r.Pool.QueryRow(ctx, q).Scan(
		&s.Balance, &s.CostPerDialogue, &s.CostPerLongReminder, &s.LowBalanceThreshold,
		&s.LowLimitNotified, &s.TotalSpentOnDialogues, &s.TotalSpentOnReminders,
	)
	if err != nil {
		return domain.AppSettings{}, fmt.Errorf("op=app_settings.get: %w", err)
	}
	return s, nil
}

// DebitForDialogue locks the ledger row and, if balance covers
// cost_per_dialogue, decrements balance and bumps
// total_spent_on_dialogues. crossedLowThreshold is true the moment the
// post-debit balance first drops below low_balance_threshold;
// recoveredAboveThreshold is true the moment it climbs back above after a
// prior low-balance notification.
func (r *AppSettingsRepo) DebitForDialogue(ctx domain.Context) (bool, bool, bool, error) {
	ctx, span := startSpan(ctx, "app_settings", "app_settings.DebitForDialogue", "UPDATE", "app_settings")
	defer span.End()
	return r.debit(ctx, "cost_per_dialogue", "total_spent_on_dialogues")
}

// DebitForLongReminder locks the ledger row and, if balance covers
// cost_per_long_reminder, decrements balance and bumps
// total_spent_on_reminders.
func (r *AppSettingsRepo) DebitForLongReminder(ctx domain.Context) (bool, error) {
	ctx, span := startSpan(ctx, "app_settings", "app_settings.DebitForLongReminder", "UPDATE", "app_settings")
	defer span.End()
	ok, _, _, err := r.debit(ctx, "cost_per_long_reminder", "total_spent_on_reminders")
	return ok, err
}

func (r *AppSettingsRepo) debit(ctx domain.Context, costColumn, spentColumn string) (ok, crossed, recovered bool, err error) {
	tx, err := r.Pool.BeginTx(ctx, txOptsReadCommitted())
	if err != nil {
		return false, false, false, fmt.Errorf("op=app_settings.debit.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	ok, newBalance, cost, notify, crossed, recovered, err := debitCheck(ctx, tx, costColumn)
	if err != nil {
		return false, false, false, err
	}
	if ok {
		if err := debitApply(ctx, tx, spentColumn, newBalance, cost, notify); err != nil {
			return false, false, false, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, false, false, fmt.Errorf("op=app_settings.debit.commit: %w", err)
	}
	committed = true
	return ok, crossed, recovered, nil
}

// debitCheck locks the ledger row and reports whether balance covers cost,
// without writing anything yet. Splitting the lock/check from the write lets
// a caller hold the row lock across an external call (see
// DialogueRepo.CreateWithDebit, which must move a response before it commits
// the matching debit) and only then apply the precomputed update.
func debitCheck(ctx domain.Context, tx pgx.Tx, costColumn string) (ok bool, newBalance, cost float64, notify, crossed, recovered bool, err error) {
	var balance, threshold float64
	var wasNotified bool
	q := fmt.Sprintf(`SELECT balance, %s, low_balance_threshold, low_limit_notified FROM app_settings WHERE id=1 FOR UPDATE`, costColumn)
	if err := tx.QueryRow(ctx, q).Scan(&balance, &cost, &threshold, &wasNotified); err != nil {
		return false, 0, 0, false, false, false, fmt.Errorf("op=app_settings.debit_check: %w", err)
	}

	if balance < cost {
		return false, 0, cost, wasNotified, false, false, nil
	}

	newBalance = balance - cost
	notify = wasNotified
	if !wasNotified && newBalance < threshold {
		crossed = true
		notify = true
	} else if wasNotified && newBalance >= threshold {
		recovered = true
		notify = false
	}
	return true, newBalance, cost, notify, crossed, recovered, nil
}

// debitApply writes the balance/spend update computed by a prior debitCheck
// on the same transaction. The row remains locked between the two calls.
func debitApply(ctx domain.Context, tx pgx.Tx, spentColumn string, newBalance, cost float64, notify bool) error {
	update := fmt.Sprintf(`UPDATE app_settings SET balance=$1, %s = %s + $2, low_limit_notified=$3 WHERE id=1`, spentColumn, spentColumn)
	if _, err := tx.Exec(ctx, update, newBalance, cost, notify); err != nil {
		return fmt.Errorf("op=app_settings.debit_apply: %w", err)
	}
	return nil
}
