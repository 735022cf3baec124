package reminders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/domain"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/observability"
)

var interviewTemplates = map[domain.InterviewReminderType]string{
	domain.ReminderTMinus2h: "Здравствуйте! Напоминаю, что у вас запланировано собеседование по вакансии " +
		"'%s' сегодня в %s по московскому времени. Пожалуйста, будьте готовы.",
	domain.ReminderDayBefore20Local: "Добрый вечер! Напоминаю, что завтра, %s в %s " +
		"по московскому времени, у вас назначено собеседование по вакансии '%s'. Если у вас есть вопросы, напишите нам.",
	domain.ReminderDayOf9Local: "Доброе утро! Сегодня, %s в %s " +
		"по московскому времени, состоится ваше собеседование по вакансии '%s'. Будем ждать вас!",
}

// InterviewSender claims due InterviewReminder rows and sends the
// corresponding templated message to each candidate.
type InterviewSender struct {
	poll      time.Duration
	batchSize int
	loc       *time.Location

	reminders  domain.InterviewReminderRepository
	dialogues  domain.DialogueRepository
	vacancies  domain.VacancyRepository
	recruiters domain.RecruiterRepository
	hh         domain.HHClient
}

// NewInterviewSender builds an InterviewSender.
func NewInterviewSender(
	poll time.Duration,
	batchSize int,
	loc *time.Location,
	reminders domain.InterviewReminderRepository,
	dialogues domain.DialogueRepository,
	vacancies domain.VacancyRepository,
	recruiters domain.RecruiterRepository,
	hh domain.HHClient,
) *InterviewSender {
	return &InterviewSender{
		poll:       poll,
		batchSize:  batchSize,
		loc:        loc,
		reminders:  reminders,
		dialogues:  dialogues,
		vacancies:  vacancies,
		recruiters: recruiters,
		hh:         hh,
	}
}

// Run claims and sends due interview reminders on s.poll until ctx is done.
func (s *InterviewSender) Run(ctx context.Context) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("interview reminder sender stopping")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *InterviewSender) tick(ctx context.Context) {
	tracer := otel.Tracer("reminders")
	ctx, span := tracer.Start(ctx, "InterviewSender.tick")
	defer span.End()

	due, err := s.reminders.ClaimDue(ctx, s.batchSize)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to claim due interview reminders", slog.Any("error", err))
		return
	}

	for _, rem := range due {
		s.processOne(ctx, rem)
	}
}

func (s *InterviewSender) processOne(ctx domain.Context, rem domain.InterviewReminder) {
	tracer := otel.Tracer("reminders")
	ctx, span := tracer.Start(ctx, "InterviewSender.processOne")
	span.SetAttributes(attribute.String("reminder.id", rem.ID))
	defer span.End()

	d, err := s.dialogues.Get(ctx, rem.DialogueID)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to load dialogue for interview reminder", slog.String("reminder_id", rem.ID), slog.Any("error", err))
		s.markError(ctx, rem.ID)
		return
	}
	vacancy, err := s.vacancies.Get(ctx, d.VacancyID)
	if err != nil {
		slog.Error("failed to load vacancy for interview reminder", slog.String("reminder_id", rem.ID), slog.Any("error", err))
		s.markError(ctx, rem.ID)
		return
	}
	recruiter, err := s.recruiters.Get(ctx, rem.RecruiterID)
	if err != nil {
		slog.Error("failed to load recruiter for interview reminder", slog.String("reminder_id", rem.ID), slog.Any("error", err))
		s.markError(ctx, rem.ID)
		return
	}

	template, ok := interviewTemplates[rem.NotificationType]
	if !ok {
		slog.Error("no message template for reminder type", slog.String("reminder_id", rem.ID), slog.String("type", string(rem.NotificationType)))
		s.markError(ctx, rem.ID)
		return
	}

	local := rem.InterviewDatetimeUTC.In(s.loc)
	dateStr := local.Format("02.01.2006")
	timeStr := local.Format("15:04")

	var messageText string
	if rem.NotificationType == domain.ReminderTMinus2h {
		messageText = fmt.Sprintf(template, vacancy.Title, timeStr)
	} else {
		messageText = fmt.Sprintf(template, dateStr, timeStr, vacancy.Title)
	}

	err = s.hh.SendMessage(ctx, recruiter, d.ExternalResponseID, messageText)
	switch {
	case err == nil:
		s.markStatus(ctx, rem.ID, domain.QueueSent)
		observability.ReminderSentTotal.WithLabelValues("interview").Inc()
	case errors.Is(err, domain.ErrResourceGone):
		s.markStatus(ctx, rem.ID, domain.QueueCancelled)
	default:
		slog.Error("failed to send interview reminder", slog.String("reminder_id", rem.ID), slog.Any("error", err))
		s.markStatus(ctx, rem.ID, domain.QueueError)
	}
}

func (s *InterviewSender) markError(ctx domain.Context, id string) {
	s.markStatus(ctx, id, domain.QueueError)
}

func (s *InterviewSender) markStatus(ctx domain.Context, id string, status domain.QueueStatus) {
	if err := s.reminders.MarkProcessed(ctx, id, status); err != nil {
		slog.Error("failed to mark interview reminder processed", slog.String("reminder_id", id), slog.Any("error", err))
	}
}
