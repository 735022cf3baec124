package reminders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/domain"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/observability"
)

const (
	dojimReminderLevel0First  = "Напишу вам ещё раз, вдруг моё прошлое сообщение затерялось где-то между делами:-)."
	dojimReminderLevel0Second = "Вакансия интересна или что-то смутило? Если что-то смущает, попробую разъяснить спорные моменты и подобрать для вас варианты."
	dojimReminderLevel1       = "Пишу вам ещё раз, вдруг не увидели предыдущее сообщение. Если вам сейчас неудобно или вы думаете — напишите, пожалуйста, чтобы я понимала, как лучше вам помочь."
	dojimReminderLevel4       = "Добрый день. Если вы еще находитесь в поиске работы, то будем рады пригласить вас пройти собеседование. Готовы продолжить диалог?"
	dojimReminderLevel5       = "Добрый день. Вы трудоустроились? Если еще рассматриваете варианты, будем рады предложить вам пройти собеседование, а также ответить на все вопросы, которые у вас есть."
	dojimReminderLevel6       = "Еще раз добрый день. Как ваши дела? Хотели бы сообщить вам, что вакансия вновь актуальна, и если вы в поиске или задумываетесь о смене работы, мы с удовольствием пригласили бы вас на собеседование."

	dojimResumePlanCommand = domain.SystemCommandPrefix + " если кандидат ответит после этого сообщения, то ты должен продолжить диалог по плану разговора, опираясь на текущее состояние (state), и не забывай перед переходом к анкете спросить про вопросы и ответить на них!"

	folderConsider = "consider"
)

// DojimRunner drives the short reminder ladder for silent candidates:
// levels 0-2 nudge within the inbox folder, levels 3-6 are the optional
// long ladder gated on AppSettings balance.
type DojimRunner struct {
	poll          time.Duration
	concurrency   int
	recruiterIDs  []string
	loc           *time.Location
	startHourLocal int
	endHourLocal  int

	dialogues     domain.DialogueRepository
	recruiters    domain.RecruiterRepository
	inactiveQueue domain.InactiveQueueRepository
	appSettings   domain.AppSettingsRepository
	hh            domain.HHClient
}

// NewDojimRunner builds a DojimRunner operating within the
// [09:00,20:00) local window.
func NewDojimRunner(
	poll time.Duration,
	concurrency int,
	recruiterIDs []string,
	loc *time.Location,
	dialogues domain.DialogueRepository,
	recruiters domain.RecruiterRepository,
	inactiveQueue domain.InactiveQueueRepository,
	appSettings domain.AppSettingsRepository,
	hh domain.HHClient,
) *DojimRunner {
	return &DojimRunner{
		poll:          poll,
		concurrency:   concurrency,
		recruiterIDs:  recruiterIDs,
		loc:            loc,
		startHourLocal: 9,
		endHourLocal:   20,
		dialogues:     dialogues,
		recruiters:    recruiters,
		inactiveQueue: inactiveQueue,
		appSettings:   appSettings,
		hh:            hh,
	}
}

// Run claims and processes eligible dialogues on r.poll until ctx is done.
func (r *DojimRunner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("dojim runner stopping")
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *DojimRunner) tick(ctx context.Context) {
	nowLocal := time.Now().In(r.loc)
	if nowLocal.Hour() < r.startHourLocal || nowLocal.Hour() >= r.endHourLocal {
		return
	}

	tracer := otel.Tracer("reminders")
	ctx, span := tracer.Start(ctx, "DojimRunner.tick")
	defer span.End()

	claimed, err := r.dialogues.ClaimForDojim(ctx, r.recruiterIDs, r.concurrency*2)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to claim dialogues for dojim", slog.Any("error", err))
		return
	}
	if len(claimed) == 0 {
		return
	}

	sem := semaphore.NewWeighted(int64(r.concurrency))
	var wg sync.WaitGroup
	for _, d := range claimed {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(d domain.Dialogue) {
			defer wg.Done()
			defer sem.Release(1)
			r.processOne(ctx, d)
		}(d)
	}
	wg.Wait()
}

func (r *DojimRunner) processOne(ctx domain.Context, d domain.Dialogue) {
	tracer := otel.Tracer("reminders")
	ctx, span := tracer.Start(ctx, "DojimRunner.processOne")
	span.SetAttributes(attribute.String("dialogue.id", d.ID))
	defer span.End()

	recruiter, err := r.recruiters.Get(ctx, d.RecruiterID)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to load recruiter for dojim", slog.String("dialogue_id", d.ID), slog.Any("error", err))
		return
	}

	resp, err := r.hh.GetResponse(ctx, recruiter, d.ExternalResponseID)
	if err != nil {
		if errors.Is(err, domain.ErrResourceGone) {
			d.Status = domain.StatusTimedOut
			d.ReminderLevel = 6
			if uerr := r.dialogues.Update(ctx, d); uerr != nil {
				slog.Error("failed to mark dojim dialogue timed out", slog.String("dialogue_id", d.ID), slog.Any("error", uerr))
			}
			return
		}
		span.RecordError(err)
		slog.Error("failed to check response folder for dojim", slog.String("dialogue_id", d.ID), slog.Any("error", err))
		return
	}

	if resp.CurrentFolder != "" && resp.CurrentFolder != folderConsider {
		d.Status = domain.StatusRecruiterHandled
		d.ReminderLevel = 3
		if err := r.inactiveQueue.Cancel(ctx, d.ID); err != nil {
			slog.Error("failed to cancel inactive queue row on recruiter takeover", slog.String("dialogue_id", d.ID), slog.Any("error", err))
		}
		if err := r.dialogues.Update(ctx, d); err != nil {
			slog.Error("failed to mark dialogue recruiter_handled", slog.String("dialogue_id", d.ID), slog.Any("error", err))
		}
		return
	}

	now := time.Now().UTC()
	elapsed := now.Sub(d.LastUpdated)

	switch d.ReminderLevel {
	case 0:
		if elapsed > 30*time.Minute {
			r.send(ctx, &d, recruiter, []string{dojimReminderLevel0First, dojimReminderLevel0Second}, 1, false)
		}
	case 1:
		if elapsed > 60*time.Minute {
			r.send(ctx, &d, recruiter, []string{dojimReminderLevel1}, 2, false)
		}
	case 2:
		if elapsed > 30*time.Minute {
			d.Status = domain.StatusTimedOut
			d.ReminderLevel = 3
			d.LastUpdated = now
			if err := r.inactiveQueue.EnsurePending(ctx, d.ID); err != nil {
				slog.Error("failed to enqueue inactive notification", slog.String("dialogue_id", d.ID), slog.Any("error", err))
			}
			if err := r.dialogues.Update(ctx, d); err != nil {
				slog.Error("failed to update dialogue at dojim level 2", slog.String("dialogue_id", d.ID), slog.Any("error", err))
			}
		}
	case 3:
		if elapsed > 7*24*time.Hour {
			r.sendLongReminder(ctx, &d, recruiter, dojimReminderLevel4, 4, true)
		}
	case 4:
		if elapsed > 21*24*time.Hour {
			r.sendLongReminder(ctx, &d, recruiter, dojimReminderLevel5, 5, false)
		}
	case 5:
		if elapsed > 51*24*time.Hour {
			r.sendLongReminder(ctx, &d, recruiter, dojimReminderLevel6, 6, false)
		}
	}
}

// send issues one or more short-ladder messages and, on full success,
// advances reminder_level and last_updated; a terminal 403 instead marks
// the dialogue vacancy_closed at level 6.
func (r *DojimRunner) send(ctx domain.Context, d *domain.Dialogue, recruiter domain.Recruiter, messages []string, nextLevel int, isLong bool) {
	now := time.Now()
	var entries []domain.HistoryEntry
	for _, msg := range messages {
		if err := r.hh.SendMessage(ctx, recruiter, d.ExternalResponseID, msg); err != nil {
			if errors.Is(err, domain.ErrResourceGone) {
				d.Status = domain.StatusVacancyClosed
				d.ReminderLevel = 6
				if uerr := r.dialogues.Update(ctx, *d); uerr != nil {
					slog.Error("failed to mark dialogue vacancy_closed", slog.String("dialogue_id", d.ID), slog.Any("error", uerr))
				}
				return
			}
			slog.Error("failed to send dojim reminder", slog.String("dialogue_id", d.ID), slog.Any("error", err))
			return
		}
		observability.ReminderSentTotal.WithLabelValues("dojim").Inc()
		entries = append(entries, domain.HistoryEntry{
			MessageID:      fmt.Sprintf("dojim_%d", time.Now().UnixNano()),
			Role:           domain.RoleAssistant,
			Content:        msg,
			TimestampLocal: now.In(r.loc),
		})
	}
	if isLong {
		entries = append(entries, domain.HistoryEntry{
			MessageID:      fmt.Sprintf("dojim_sys_%d", time.Now().UnixNano()),
			Role:           domain.RoleUser,
			Content:        dojimResumePlanCommand,
			TimestampLocal: now.In(r.loc),
		})
	}
	d.AppendHistory(entries...)
	d.ReminderLevel = nextLevel
	d.LastUpdated = now.UTC()
	if err := r.dialogues.Update(ctx, *d); err != nil {
		slog.Error("failed to advance dojim reminder level", slog.String("dialogue_id", d.ID), slog.Any("error", err))
	}
}

// sendLongReminder debits cost_per_long_reminder only for the 3->4
// transition (the first long reminder); skips silently on insufficient
// balance, matching the original's charge-once-then-free-ride ladder.
func (r *DojimRunner) sendLongReminder(ctx domain.Context, d *domain.Dialogue, recruiter domain.Recruiter, message string, nextLevel int, shouldCharge bool) {
	if shouldCharge {
		ok, err := r.appSettings.DebitForLongReminder(ctx)
		if err != nil {
			slog.Error("failed to debit for long reminder", slog.String("dialogue_id", d.ID), slog.Any("error", err))
			return
		}
		if !ok {
			slog.Warn("balance insufficient, skipping first long reminder", slog.String("dialogue_id", d.ID))
			return
		}
	}
	r.send(ctx, d, recruiter, []string{message}, nextLevel, true)
}
