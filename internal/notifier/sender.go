// Package notifier drains the three outbound notification queues into the
// recruiter's Telegram forum topics, runs a liveness watchdog over its own
// consumer goroutines, and periodically trims old dialogue history.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/domain"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/observability"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/pii"
)

// moscow is the timezone the original transcript headers render response
// times in, regardless of the recruiter's own locale.
var moscow = mustLoadLocation("Europe/Moscow")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("MSK", 3*60*60)
	}
	return loc
}

// kind names one of the three outbound queues, used for labeling metrics
// and the watchdog's heartbeat map.
type kind string

const (
	kindQualified kind = "qualified"
	kindRejected  kind = "rejected"
	kindInactive  kind = "inactive"
)

// dispatchResult carries the assembled message for one claimed
// notification row, independent of which queue it came from.
type dispatchResult struct {
	chatID     int64
	threadID   int
	caption    string
	transcript []byte
	filename   string
}

// Sender drains one outbound notification queue on a fixed poll interval,
// rendering the candidate's latest dialogue transcript into the matching
// recruiter forum topic.
type Sender struct {
	kind      kind
	poll      time.Duration
	batchSize int

	dialogues  domain.DialogueRepository
	candidates domain.CandidateRepository
	vacancies  domain.VacancyRepository
	recruiters domain.RecruiterRepository
	messenger  domain.Messenger

	claim  func(ctx domain.Context, limit int) ([]queuedRow, error)
	mark   func(ctx domain.Context, id string, status domain.QueueStatus) error
	beat   func()
}

// queuedRow normalizes the three queue row types into the fields Sender
// needs, so one dispatch loop serves all three.
type queuedRow struct {
	id          string
	candidateID string
	dialogueID  string
}

// NewQualifiedSender drains the qualified-candidate queue, keyed by
// candidate id, into the recruiter's "qualified" topic.
func NewQualifiedSender(
	poll time.Duration, batchSize int,
	queue domain.QualifiedQueueRepository,
	dialogues domain.DialogueRepository,
	candidates domain.CandidateRepository,
	vacancies domain.VacancyRepository,
	recruiters domain.RecruiterRepository,
	messenger domain.Messenger,
	beat func(),
) *Sender {
	return &Sender{
		kind: kindQualified, poll: poll, batchSize: batchSize,
		dialogues: dialogues, candidates: candidates, vacancies: vacancies, recruiters: recruiters, messenger: messenger,
		claim: func(ctx domain.Context, limit int) ([]queuedRow, error) {
			rows, err := queue.ClaimPending(ctx, limit)
			if err != nil {
				return nil, err
			}
			out := make([]queuedRow, len(rows))
			for i, r := range rows {
				out[i] = queuedRow{id: r.ID, candidateID: r.CandidateID}
			}
			return out, nil
		},
		mark: queue.MarkProcessed,
		beat: beat,
	}
}

// NewRejectedSender drains the rejected queue, keyed by dialogue id, into
// the recruiter's "rejected" topic.
func NewRejectedSender(
	poll time.Duration, batchSize int,
	queue domain.RejectedQueueRepository,
	dialogues domain.DialogueRepository,
	candidates domain.CandidateRepository,
	vacancies domain.VacancyRepository,
	recruiters domain.RecruiterRepository,
	messenger domain.Messenger,
	beat func(),
) *Sender {
	return &Sender{
		kind: kindRejected, poll: poll, batchSize: batchSize,
		dialogues: dialogues, candidates: candidates, vacancies: vacancies, recruiters: recruiters, messenger: messenger,
		claim: func(ctx domain.Context, limit int) ([]queuedRow, error) {
			rows, err := queue.ClaimPending(ctx, limit)
			if err != nil {
				return nil, err
			}
			out := make([]queuedRow, len(rows))
			for i, r := range rows {
				out[i] = queuedRow{id: r.ID, dialogueID: r.DialogueID}
			}
			return out, nil
		},
		mark: queue.MarkProcessed,
		beat: beat,
	}
}

// NewInactiveSender drains the silent-candidate queue, keyed by dialogue
// id, into the recruiter's "timeout" topic.
func NewInactiveSender(
	poll time.Duration, batchSize int,
	queue domain.InactiveQueueRepository,
	dialogues domain.DialogueRepository,
	candidates domain.CandidateRepository,
	vacancies domain.VacancyRepository,
	recruiters domain.RecruiterRepository,
	messenger domain.Messenger,
	beat func(),
) *Sender {
	return &Sender{
		kind: kindInactive, poll: poll, batchSize: batchSize,
		dialogues: dialogues, candidates: candidates, vacancies: vacancies, recruiters: recruiters, messenger: messenger,
		claim: func(ctx domain.Context, limit int) ([]queuedRow, error) {
			rows, err := queue.ClaimPending(ctx, limit)
			if err != nil {
				return nil, err
			}
			out := make([]queuedRow, len(rows))
			for i, r := range rows {
				out[i] = queuedRow{id: r.ID, dialogueID: r.DialogueID}
			}
			return out, nil
		},
		mark: queue.MarkProcessed,
		beat: beat,
	}
}

// Run drains the queue every s.poll until ctx is done, sending a heartbeat
// on every iteration so the watchdog never sees this consumer as stuck
// merely because the queue was empty.
func (s *Sender) Run(ctx context.Context) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("notifier sender stopping", slog.String("kind", string(s.kind)))
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sender) tick(ctx context.Context) {
	if s.beat != nil {
		s.beat()
	}

	tracer := otel.Tracer("notifier")
	ctx, span := tracer.Start(ctx, "Sender.tick")
	span.SetAttributes(attribute.String("queue.kind", string(s.kind)))
	defer span.End()

	rows, err := s.claim(ctx, s.batchSize)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to claim notification queue rows", slog.String("kind", string(s.kind)), slog.Any("error", err))
		return
	}

	for _, row := range rows {
		s.processOne(ctx, row)
	}
}

func (s *Sender) processOne(ctx domain.Context, row queuedRow) {
	tracer := otel.Tracer("notifier")
	ctx, span := tracer.Start(ctx, "Sender.processOne")
	span.SetAttributes(attribute.String("queue.kind", string(s.kind)), attribute.String("queue.row_id", row.id))
	defer span.End()

	result, status := s.build(ctx, row)
	if status != "" {
		s.finish(ctx, row.id, status)
		return
	}

	var sendErr error
	if result.transcript != nil {
		sendErr = s.messenger.SendDocument(ctx, result.chatID, result.threadID, result.filename, result.transcript, result.caption)
	} else {
		sendErr = s.messenger.SendMessage(ctx, result.chatID, result.threadID, result.caption)
	}
	if sendErr != nil {
		span.RecordError(sendErr)
		slog.Error("failed to send notification", slog.String("kind", string(s.kind)), slog.String("row_id", row.id), slog.Any("error", sendErr))
		observability.NotificationsDeliveredTotal.WithLabelValues(string(s.kind), "error").Inc()
		s.finish(ctx, row.id, domain.QueueError)
		return
	}
	observability.NotificationsDeliveredTotal.WithLabelValues(string(s.kind), "sent").Inc()
	s.finish(ctx, row.id, domain.QueueSent)
}

func (s *Sender) finish(ctx domain.Context, id string, status domain.QueueStatus) {
	if err := s.mark(ctx, id, status); err != nil {
		slog.Error("failed to mark notification processed", slog.String("kind", string(s.kind)), slog.String("row_id", id), slog.Any("error", err))
	}
}

// build resolves a queued row into its dialogue/candidate/vacancy/recruiter
// and renders the outbound message. A non-empty status means the row
// could not be resolved and should be marked with that status instead of
// being sent.
func (s *Sender) build(ctx domain.Context, row queuedRow) (dispatchResult, domain.QueueStatus) {
	var d domain.Dialogue
	if row.dialogueID != "" {
		loaded, err := s.dialogues.Get(ctx, row.dialogueID)
		if err != nil {
			slog.Error("failed to load dialogue for notification", slog.String("dialogue_id", row.dialogueID), slog.Any("error", err))
			return dispatchResult{}, domain.QueueError
		}
		d = loaded
	} else {
		dialogues, err := s.dialogues.ListByCandidate(ctx, row.candidateID)
		if err != nil || len(dialogues) == 0 {
			slog.Error("failed to load dialogues for qualified candidate", slog.String("candidate_id", row.candidateID), slog.Any("error", err))
			return dispatchResult{}, domain.QueueError
		}
		d = dialogues[0]
	}

	candidate, err := s.candidates.Get(ctx, d.CandidateID)
	if err != nil {
		slog.Error("failed to load candidate for notification", slog.String("dialogue_id", d.ID), slog.Any("error", err))
		return dispatchResult{}, domain.QueueError
	}
	vacancy, err := s.vacancies.Get(ctx, d.VacancyID)
	if err != nil {
		slog.Error("failed to load vacancy for notification", slog.String("dialogue_id", d.ID), slog.Any("error", err))
		return dispatchResult{}, domain.QueueError
	}
	recruiter, err := s.recruiters.Get(ctx, d.RecruiterID)
	if err != nil {
		slog.Error("failed to load recruiter for notification", slog.String("dialogue_id", d.ID), slog.Any("error", err))
		return dispatchResult{}, domain.QueueError
	}

	threadID := s.topicFor(recruiter)
	if recruiter.ChatID == 0 || threadID == 0 {
		return dispatchResult{}, domain.QueueSkippedNoChat
	}

	caption := s.caption(candidate, vacancy)
	var transcript []byte
	var filename string
	if len(d.History) > 0 {
		transcript = []byte(renderTranscript(d, candidate, vacancy))
		filename = fmt.Sprintf("%s_%s.txt", s.kind, d.ExternalResponseID)
	}

	return dispatchResult{
		chatID:     recruiter.ChatID,
		threadID:   threadID,
		caption:    caption,
		transcript: transcript,
		filename:   filename,
	}, ""
}

func (s *Sender) topicFor(recruiter domain.Recruiter) int {
	switch s.kind {
	case kindQualified:
		return recruiter.TopicQualified
	case kindRejected:
		return recruiter.TopicRejected
	case kindInactive:
		return recruiter.TopicTimeout
	default:
		return 0
	}
}

// markdownSpecialChars are the legacy Telegram Markdown characters that
// need escaping in dynamic text; resumeLink is never escaped since it's a
// URL, not caption body text.
var markdownSpecialChars = regexp.MustCompile("([_*`\\[])")

func escapeMarkdown(text string) string {
	return markdownSpecialChars.ReplaceAllString(text, `\$1`)
}

func (s *Sender) caption(candidate domain.Candidate, vacancy domain.Vacancy) string {
	resumeLink := fmt.Sprintf("https://hh.ru/resume/%s", candidate.ExternalResumeID)
	name := escapeMarkdown(pii.MaskPatronymic(candidate.FullName))
	city := vacancy.City
	if city == "" {
		city = "Не указан"
	}
	city = escapeMarkdown(city)
	title := escapeMarkdown(vacancy.Title)

	switch s.kind {
	case kindQualified:
		age := "Не указан"
		if candidate.Age != nil {
			age = fmt.Sprintf("%d", *candidate.Age)
		}
		citizenship := candidate.Citizenship
		if citizenship == "" {
			citizenship = "Не указано"
		}
		citizenship = escapeMarkdown(citizenship)
		phone := candidate.PhoneNumber
		if phone == "" {
			phone = "—"
		}
		phone = escapeMarkdown(phone)
		return fmt.Sprintf(
			"Новый кандидат по вакансии: %s\nГород вакансии: %s\n\nФИО: %s\nРезюме кандидата: %s\n\nВозраст: %s\nГражданство: %s\nНомер телефона: %s\n\nСтатус: Прошёл квалификацию",
			title, city, name, resumeLink, age, citizenship, phone,
		)
	case kindInactive:
		return fmt.Sprintf(
			"Соискатель не отвечает\n\nВакансия: %s\nГород: %s\nИмя: %s\nСсылка на резюме: %s",
			title, city, name, resumeLink,
		)
	case kindRejected:
		return fmt.Sprintf(
			"Кандидату отказано в квалификации\n\nВакансия: %s\nГород: %s\nИмя: %s\nСсылка на резюме: %s",
			title, city, name, resumeLink,
		)
	default:
		return ""
	}
}

func renderTranscript(d domain.Dialogue, candidate domain.Candidate, vacancy domain.Vacancy) string {
	var b strings.Builder
	b.WriteString("=== ИСТОРИЯ ДИАЛОГА ===\n")
	fmt.Fprintf(&b, "ID отклика: %s\n", d.ExternalResponseID)
	if !d.ResponseCreatedAt.IsZero() {
		fmt.Fprintf(&b, "Время отклика (МСК): %s\n", d.ResponseCreatedAt.In(moscow).Format("02.01.2006 в 15:04:05"))
	}
	fmt.Fprintf(&b, "Кандидат: %s\n", pii.MaskPatronymic(candidate.FullName))
	fmt.Fprintf(&b, "Вакансия: %s, %s\n", vacancy.Title, vacancy.City)
	b.WriteString(strings.Repeat("-", 50) + "\n")

	for _, entry := range d.History {
		if entry.Content == "" || strings.HasPrefix(entry.Content, domain.SystemCommandPrefix) {
			continue
		}
		b.WriteString("\n")
		prefix := fmt.Sprintf("[%s]", entry.TimestampLocal.Format("02.01.2006 15:04"))
		switch entry.Role {
		case domain.RoleUser:
			fmt.Fprintf(&b, "%s Кандидат: %s\n", prefix, entry.Content)
		case domain.RoleAssistant:
			fmt.Fprintf(&b, "%s Бот: %s\n", prefix, entry.Content)
		}
	}
	return b.String()
}
