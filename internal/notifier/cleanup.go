package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/domain"
)

// HistoryCleaner trims dialogue history older than the retention window
// once a day at a fixed UTC hour.
type HistoryCleaner struct {
	dialogues      domain.DialogueRepository
	retentionDays  int
	runAtHourUTC   int
	cron           *cron.Cron
	beat           func()
}

// NewHistoryCleaner builds a HistoryCleaner; call Start to schedule it.
func NewHistoryCleaner(dialogues domain.DialogueRepository, retentionDays, runAtHourUTC int, beat func()) *HistoryCleaner {
	return &HistoryCleaner{
		dialogues:     dialogues,
		retentionDays: retentionDays,
		runAtHourUTC:  runAtHourUTC,
		cron:          cron.New(cron.WithLocation(time.UTC)),
		beat:          beat,
	}
}

// Start schedules the daily cleanup and returns once registered; the cron
// runner itself runs in its own goroutine until Stop is called.
func (h *HistoryCleaner) Start() error {
	spec := fmt.Sprintf("0 %d * * *", h.runAtHourUTC)
	_, err := h.cron.AddFunc(spec, h.runOnce)
	if err != nil {
		return fmt.Errorf("op=notifier.history_cleaner.start: %w", err)
	}
	h.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for an in-flight run to finish.
func (h *HistoryCleaner) Stop() {
	ctx := h.cron.Stop()
	<-ctx.Done()
}

func (h *HistoryCleaner) runOnce() {
	if h.beat != nil {
		h.beat()
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -h.retentionDays)
	n, err := h.dialogues.CleanupHistoryOlderThan(context.Background(), cutoff)
	if err != nil {
		slog.Error("history cleanup failed", slog.Any("error", err))
		return
	}
	slog.Info("history cleanup complete", slog.Int64("rows_touched", n))
}
