package postgres

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/domain"
)

// LlmUsageLogRepo persists per-call LLM token usage and cost rows.
type LlmUsageLogRepo struct{ Pool PgxPool }

// NewLlmUsageLogRepo constructs an LlmUsageLogRepo with the given pool.
func NewLlmUsageLogRepo(p PgxPool) *LlmUsageLogRepo { return &LlmUsageLogRepo{Pool: p} }

// Append batch-inserts logs within a single transaction, matching the
// processor's per-turn usage recording.
func (r *LlmUsageLogRepo) Append(ctx domain.Context, logs ...domain.LlmUsageLog) error {
	if len(logs) == 0 {
		return nil
	}
	ctx, span := startSpan(ctx, "llm_usage_logs", "llm_usage_logs.Append", "INSERT", "llm_usage_logs")
	defer span.End()

	tx, err := r.Pool.BeginTx(ctx, txOptsReadCommitted())
	if err != nil {
		return fmt.Errorf("op=llm_usage_log.append.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	q := `INSERT INTO llm_usage_logs (id, dialogue_id, state_at_call, prompt_tokens, completion_tokens, cached_tokens, total_tokens, cost, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8, now())`
	for _, l := range logs {
		id := l.ID
		if id == "" {
			id = uuid.New().String()
		}
		if _, err := tx.Exec(ctx, q, id, l.DialogueID, l.StateAtCall, l.PromptTokens, l.CompletionTokens, l.CachedTokens, l.TotalTokens, l.Cost); err != nil {
			return fmt.Errorf("op=llm_usage_log.append: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=llm_usage_log.append.commit: %w", err)
	}
	committed = true
	return nil
}
