// Package processor runs the per-dialogue qualification state machine: it
// claims dialogues with pending candidate messages, assembles a prompt from
// the knowledge base, calls the LLM, applies the programmatic eligibility
// gate, and drives dialogues to their qualified/rejected/scheduling outcomes.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/adapter/kb"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/config"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/domain"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/observability"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/pii"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/reminders"
	"github.com/fairyhunter13/hh-recruiter-bot/pkg/textx"
)

// Processor wires the repository ports and external clients needed to
// advance one batch of claimed dialogues per tick.
type Processor struct {
	cfg          config.Config
	recruiterIDs []string
	loc          *time.Location

	dialogues      domain.DialogueRepository
	candidates     domain.CandidateRepository
	vacancies      domain.VacancyRepository
	recruiters     domain.RecruiterRepository
	usageLogs      domain.LlmUsageLogRepository
	qualifiedQueue domain.QualifiedQueueRepository
	rejectedQueue  domain.RejectedQueueRepository
	inactiveQueue  domain.InactiveQueueRepository
	reminderRepo   domain.InterviewReminderRepository

	hh  domain.HHClient
	llm domain.LLMClient
	kb  *kb.Client
}

// New builds a Processor. recruiterIDs scopes which recruiters' dialogues
// this instance claims work for.
func New(
	cfg config.Config,
	recruiterIDs []string,
	dialogues domain.DialogueRepository,
	candidates domain.CandidateRepository,
	vacancies domain.VacancyRepository,
	recruiters domain.RecruiterRepository,
	usageLogs domain.LlmUsageLogRepository,
	qualifiedQueue domain.QualifiedQueueRepository,
	rejectedQueue domain.RejectedQueueRepository,
	inactiveQueue domain.InactiveQueueRepository,
	reminderRepo domain.InterviewReminderRepository,
	hh domain.HHClient,
	llm domain.LLMClient,
	kbClient *kb.Client,
) *Processor {
	return &Processor{
		cfg:            cfg,
		recruiterIDs:   recruiterIDs,
		loc:            cfg.Location(),
		dialogues:      dialogues,
		candidates:     candidates,
		vacancies:      vacancies,
		recruiters:     recruiters,
		usageLogs:      usageLogs,
		qualifiedQueue: qualifiedQueue,
		rejectedQueue:  rejectedQueue,
		inactiveQueue:  inactiveQueue,
		reminderRepo:   reminderRepo,
		hh:             hh,
		llm:            llm,
		kb:             kbClient,
	}
}

// Run claims and processes dialogues on cfg.ProcessorPoll until ctx is done.
func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ProcessorPoll)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("processor stopping")
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Processor) tick(ctx context.Context) {
	tracer := otel.Tracer("processor")
	ctx, span := tracer.Start(ctx, "Processor.tick")
	defer span.End()

	claimed, err := p.dialogues.ClaimPending(ctx, p.recruiterIDs, p.cfg.ProcessorDebounce, p.cfg.ProcessorBatchSize)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to claim pending dialogues", slog.Any("error", err))
		return
	}
	observability.DialoguesClaimed.Observe(float64(len(claimed)))

	for _, d := range claimed {
		p.processWithMetrics(ctx, d)
	}
}

func (p *Processor) processWithMetrics(ctx context.Context, d domain.Dialogue) {
	tracer := otel.Tracer("processor")
	ctx, span := tracer.Start(ctx, "Processor.processOne")
	span.SetAttributes(attribute.String("dialogue.id", d.ID))
	defer span.End()

	start := time.Now()
	outcome := "success"
	if err := p.processOne(ctx, d); err != nil {
		outcome = "error"
		span.RecordError(err)
		slog.Error("failed to process dialogue", slog.String("dialogue_id", d.ID), slog.Any("error", err))
	}
	observability.DialogueTurnDuration.Observe(time.Since(start).Seconds())
	observability.DialogueTurnsTotal.WithLabelValues(outcome).Inc()
}

// processOne runs one full turn for dialogue d: the citizenship side-call
// when applicable, PII masking, prompt assembly, the main LLM call, the
// programmatic eligibility/routing decision, and the reply send.
func (p *Processor) processOne(ctx domain.Context, d domain.Dialogue) error {
	if len(d.PendingMessages) == 0 {
		return nil
	}

	candidate, err := p.candidates.Get(ctx, d.CandidateID)
	if err != nil {
		return fmt.Errorf("op=processor.process_one: load candidate: %w", err)
	}
	vacancy, err := p.vacancies.Get(ctx, d.VacancyID)
	if err != nil {
		return fmt.Errorf("op=processor.process_one: load vacancy: %w", err)
	}
	recruiter, err := p.recruiters.Get(ctx, d.RecruiterID)
	if err != nil {
		return fmt.Errorf("op=processor.process_one: load recruiter: %w", err)
	}

	pending := append([]domain.PendingMessage(nil), d.PendingMessages...)

	if d.DialogueState == domain.StateAwaitingCitizenship {
		if cmd, newState := p.classifyCitizenship(ctx, d.ID, pending); cmd != "" {
			pending = append(pending, domain.PendingMessage{
				MessageID:      fmt.Sprintf("sys_cmd_citizenship_%d", time.Now().UnixNano()),
				Role:           domain.RoleUser,
				Content:        cmd,
				TimestampLocal: time.Now().In(p.loc),
			})
			if newState != "" {
				d.DialogueState = newState
			}
		}
	}

	var userEntries []domain.HistoryEntry
	var maskedParts []string
	for _, pm := range pending {
		content := pm.Content
		if !pm.IsSystemCommand() {
			extraction := pii.Extract(textx.SanitizeText(pm.Content))
			content = extraction.MaskedText
			if extraction.Phone != "" {
				candidate.PhoneNumber = extraction.Phone
			}
		}
		userEntries = append(userEntries, domain.HistoryEntry{
			MessageID:      pm.MessageID,
			Role:           domain.RoleUser,
			Content:        content,
			TimestampLocal: pm.TimestampLocal,
		})
		maskedParts = append(maskedParts, content)
	}
	combinedMasked := strings.Join(maskedParts, "\n")

	lib, err := p.kb.Get(ctx)
	if err != nil {
		return fmt.Errorf("op=processor.process_one: load knowledge base: %w", err)
	}

	vacancyCity := vacancy.City
	if vacancyCity == "" {
		vacancyCity = "город не указан"
	}
	relevantDesc := FindRelevantVacancy(lib, vacancy.Title, vacancyCity)

	now := time.Now()
	systemPrompt := AssemblePrompt(lib, d.DialogueState, relevantDesc, now, p.loc)
	systemPrompt += fmt.Sprintf("\n\n[CURRENT TASK] Ты общаешься с кандидатом по вакансии '%s' в городе '%s'. Текущее состояние: '%s'.",
		vacancy.Title, vacancyCity, d.DialogueState)

	stateAtCall := d.DialogueState
	var attempts []time.Time
	result, err := p.llm.ChatJSON(ctx, systemPrompt, combinedMasked, 0, &attempts)
	p.recordUsage(ctx, d.ID, string(stateAtCall), attempts, result, err)
	if err != nil {
		return fmt.Errorf("op=processor.process_one: llm call: %w", err)
	}

	var turn turnResponse
	if err := json.Unmarshal([]byte(result.Raw), &turn); err != nil {
		return fmt.Errorf("op=processor.process_one: decode llm response: %w", err)
	}
	newState := turn.NewState
	if newState == "" {
		newState = domain.DialogueState("error_state")
	}
	botResponseText := turn.ResponseText
	extracted := turn.ExtractedData

	if d.Status == domain.StatusNew {
		d.Status = domain.StatusInProgress
	}

	d.TotalPromptTokens += int64(result.PromptTokens)
	d.TotalCompletionTokens += int64(result.CompletionTokens)
	d.TotalCachedTokens += int64(result.CachedTokens)
	d.TotalCost += result.Cost

	if extracted != nil && d.Status != domain.StatusQualified {
		applyExtractedData(&candidate, *extracted)
	}
	if err := p.candidates.Update(ctx, candidate); err != nil {
		return fmt.Errorf("op=processor.process_one: update candidate: %w", err)
	}

	profileComplete := candidate.RequiredFieldsComplete()
	if d.Status != domain.StatusQualified && d.Status != domain.StatusRejected && newState == domain.StateQualificationComplete {
		if !profileComplete {
			updatedPending := append([]domain.PendingMessage(nil), d.PendingMessages...)
			updatedPending = append(updatedPending, domain.PendingMessage{
				MessageID:      fmt.Sprintf("sys_cmd_%d", time.Now().UnixNano()),
				Role:           domain.RoleUser,
				Content:        incompleteFieldsCommand,
				TimestampLocal: time.Now().In(p.loc),
			})
			d.PendingMessages = updatedPending
			d.DialogueState = domain.StateClarifyingAnything
			d.LastUpdated = time.Now().UTC()
			return p.dialogues.Update(ctx, d)
		}

		if !IsEligible(candidate) {
			newState = domain.StateQualificationFailed
			botResponseText = standardRejectionReply
		} else if !strings.Contains(strings.ToLower(vacancyCity), "санкт-петербург") {
			newState = domain.StateForwardedToResearcher
			botResponseText = standardHandoffReply
		} else if isExcludedVacancyTitle(vacancy.Title) {
			newState = domain.StateForwardedToResearcher
			botResponseText = standardHandoffReply
		} else {
			d.AppendHistory(userEntries...)
			d.PendingMessages = []domain.PendingMessage{{
				MessageID:      fmt.Sprintf("sys_cmd_%d", time.Now().UnixNano()),
				Role:           domain.RoleUser,
				Content:        schedulingCommand,
				TimestampLocal: time.Now().In(p.loc),
			}}
			d.DialogueState = domain.StateInitSchedulingSPb
			d.LastUpdated = time.Now().UTC()
			return p.dialogues.Update(ctx, d)
		}
	}

	if newState == domain.StateCallLater {
		if _, found, err := p.inactiveQueue.Get(ctx, d.ID); err == nil && !found {
			if err := p.inactiveQueue.EnsurePending(ctx, d.ID); err != nil {
				slog.Error("failed to enqueue inactive notification", slog.String("dialogue_id", d.ID), slog.Any("error", err))
			}
		}
	}

	switch {
	case (newState == domain.StateForwardedToResearcher || newState == domain.StateInterviewScheduledSPb) && d.Status != domain.StatusQualified:
		d.Status = domain.StatusQualified
		if err := p.qualifiedQueue.EnsurePending(ctx, candidate.ID); err != nil {
			slog.Error("failed to enqueue qualified notification", slog.String("dialogue_id", d.ID), slog.Any("error", err))
		}
		if err := p.hh.MoveResponse(ctx, recruiter, d.ExternalResponseID, "interview"); err != nil {
			slog.Error("failed to move response to interview folder", slog.String("dialogue_id", d.ID), slog.Any("error", err))
		}
		if newState == domain.StateInterviewScheduledSPb {
			p.scheduleInterview(ctx, &d, extracted)
		}

	case newState == domain.StateQualificationFailed || newState == domain.StateDeclinedVacancy || newState == domain.StateDeclinedInterview:
		if newState == domain.StateDeclinedVacancy {
			if !p.confirmDecline(ctx, d) {
				updatedPending := append([]domain.PendingMessage(nil), d.PendingMessages...)
				updatedPending = append(updatedPending, domain.PendingMessage{
					MessageID:      fmt.Sprintf("sys_cmd_recheck_decline_%d", time.Now().UnixNano()),
					Role:           domain.RoleUser,
					Content:        notDeclinedCommand,
					TimestampLocal: time.Now().In(p.loc),
				})
				d.PendingMessages = updatedPending
				d.LastUpdated = time.Now().UTC()
				return p.dialogues.Update(ctx, d)
			}
		}

		d.Status = domain.StatusRejected
		if newState == domain.StateDeclinedInterview {
			if err := p.reminderRepo.CancelPendingForDialogue(ctx, d.ID); err != nil {
				slog.Error("failed to cancel interview reminders", slog.String("dialogue_id", d.ID), slog.Any("error", err))
			}
		}

		if _, inInactive, _ := p.inactiveQueue.Get(ctx, d.ID); !inInactive {
			if err := p.rejectedQueue.EnsurePending(ctx, d.ID); err != nil {
				slog.Error("failed to enqueue rejected notification", slog.String("dialogue_id", d.ID), slog.Any("error", err))
			}
		}
		if err := p.hh.MoveResponse(ctx, recruiter, d.ExternalResponseID, "assessment"); err != nil {
			slog.Error("failed to move response to assessment folder", slog.String("dialogue_id", d.ID), slog.Any("error", err))
		}
	}

	if botResponseText == "" {
		d.AppendHistory(userEntries...)
		d.DialogueState = newState
		d.PendingMessages = nil
		d.LastUpdated = time.Now().UTC()
		return p.dialogues.Update(ctx, d)
	}

	if err := p.hh.SendMessage(ctx, recruiter, d.ExternalResponseID, botResponseText); err != nil {
		if errors.Is(err, domain.ErrResourceGone) {
			d.PendingMessages = nil
			d.LastUpdated = time.Now().UTC()
			return p.dialogues.Update(ctx, d)
		}
		return fmt.Errorf("op=processor.process_one: send message: %w", err)
	}

	botEntry := domain.HistoryEntry{
		MessageID:      fmt.Sprintf("bot_%d", time.Now().UnixNano()),
		Role:           domain.RoleAssistant,
		Content:        botResponseText,
		TimestampLocal: time.Now().In(p.loc),
		ExtractedData:  extracted,
		State:          newState,
	}
	d.AppendHistory(append(userEntries, botEntry)...)
	d.DialogueState = newState
	d.PendingMessages = nil
	d.LastUpdated = time.Now().UTC()
	return p.dialogues.Update(ctx, d)
}

// excludedVacancyTitlePhrases are substrings that force an otherwise SPb-
// eligible candidate to the researcher instead of into interview
// scheduling, e.g. kitchen/cleaning roles the recruiter bot never books
// directly.
var excludedVacancyTitlePhrases = []string{
	"повар-пекарь",
	"повар неполный день",
	"повар",
	"бариста",
	"уборщик",
	"уборщица",
	"помошник повара",
}

func isExcludedVacancyTitle(title string) bool {
	lowered := strings.ToLower(title)
	for _, phrase := range excludedVacancyTitlePhrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}

func applyExtractedData(c *domain.Candidate, e domain.ExtractedData) {
	if e.Age != nil {
		c.Age = e.Age
	}
	if e.Citizenship != "" {
		c.Citizenship = e.Citizenship
	}
	if e.City != "" {
		c.City = e.City
	}
	if e.ReadinessToStart != "" {
		c.ReadinessToStart = e.ReadinessToStart
	}
}

// scheduleInterview converts the LLM-extracted local date/time into a UTC
// instant and hands it to the reminder scheduler; logs rather than fails
// the turn if the fields are missing or malformed, matching the original's
// fire-and-log treatment of an incomplete scheduling extraction.
func (p *Processor) scheduleInterview(ctx domain.Context, d *domain.Dialogue, extracted *domain.ExtractedData) {
	if extracted == nil || extracted.InterviewDate == "" || extracted.InterviewTime == "" {
		slog.Error("interview_scheduled_spb set without interview_date/interview_time", slog.String("dialogue_id", d.ID))
		return
	}
	interviewAtUTC, err := reminders.ParseLocalDateTime(extracted.InterviewDate, extracted.InterviewTime, p.loc)
	if err != nil {
		slog.Error("failed to parse extracted interview datetime", slog.String("dialogue_id", d.ID), slog.Any("error", err))
		return
	}
	d.InterviewDatetimeUTC = &interviewAtUTC
	if err := reminders.ScheduleInterviewReminders(ctx, p.reminderRepo, d.ID, d.RecruiterID, interviewAtUTC, time.Now(), p.loc); err != nil {
		slog.Error("failed to schedule interview reminders", slog.String("dialogue_id", d.ID), slog.Any("error", err))
	}
}

// classifyCitizenship runs the dedicated side-call that decides whether the
// candidate's just-submitted messages contain a recognizable citizenship,
// returning the system-command text to feed back into the same turn (empty
// if nothing was recognized) and, for an unrecognized country, the state to
// force (clarifying_citizenship) so the next turn asks about residency permits.
func (p *Processor) classifyCitizenship(ctx domain.Context, dialogueID string, pending []domain.PendingMessage) (command string, newState domain.DialogueState) {
	var b strings.Builder
	for _, pm := range pending {
		b.WriteString(pm.Content)
		b.WriteString("\n")
	}

	var attempts []time.Time
	result, err := p.llm.ChatJSON(ctx, citizenshipClassifyPrompt, b.String(), 0, &attempts)
	p.recordUsage(ctx, dialogueID, "Citizenship_Analysis", attempts, result, err)
	if err != nil {
		slog.Error("citizenship classification call failed", slog.String("dialogue_id", dialogueID), slog.Any("error", err))
		return "", ""
	}

	var resp citizenshipResponse
	if err := json.Unmarshal([]byte(result.Raw), &resp); err != nil {
		slog.Error("citizenship classification decode failed", slog.String("dialogue_id", dialogueID), slog.Any("error", err))
		return "", ""
	}
	if resp.Is != "yes" {
		return "", ""
	}

	switch resp.Citizenship {
	case "ЕАЭС":
		return domain.SystemCommandPrefix + " Кандидат сообщил что у него гражданство одной из стран ЕАЭС, поставь в поле citizenship строго значение 'ЕАЭС' и переходи к следующему этапу анкеты (возрасту).", ""
	case "внж рф", "рвп рф":
		return domain.SystemCommandPrefix + " Кандидат сообщил что у него РВП РФ или ВНЖ РФ, поставь в поле citizenship строго значение 'внж рф' или 'рвп рф' соответственно и переходи к следующему этапу анкеты (возрасту).", ""
	default:
		return fmt.Sprintf("%s Кандидат сообщил что у него гражданство %s, уточни есть ли у него РВП или ВНЖ в России.", domain.SystemCommandPrefix, resp.Citizenship), domain.StateClarifyingCitizenship
	}
}

// confirmDecline runs the double-check side-call before committing a
// declined_vacancy transition, defaulting to "not declined" on any failure
// so a flaky classification call never silently rejects a candidate.
func (p *Processor) confirmDecline(ctx domain.Context, d domain.Dialogue) bool {
	var b strings.Builder
	for _, h := range d.History {
		b.WriteString(h.Content)
		b.WriteString("\n")
	}
	for _, pm := range d.PendingMessages {
		b.WriteString(pm.Content)
		b.WriteString("\n")
	}

	var attempts []time.Time
	result, err := p.llm.ChatJSON(ctx, declineConfirmPrompt, strings.TrimSpace(b.String()), 0, &attempts)
	p.recordUsage(ctx, d.ID, "DeclineClarification", attempts, result, err)
	if err != nil {
		slog.Warn("decline confirmation failed, defaulting to not-declined", slog.String("dialogue_id", d.ID), slog.Any("error", err))
		return false
	}

	var resp declineConfirmationResponse
	if err := json.Unmarshal([]byte(result.Raw), &resp); err != nil {
		slog.Warn("decline confirmation decode failed, defaulting to not-declined", slog.String("dialogue_id", d.ID), slog.Any("error", err))
		return false
	}
	return resp.Answer == "yes"
}

// recordUsage persists one usage row per failed attempt (zero-cost, tagged
// FAILED) on total failure, or one zero-cost RETRY row per hidden retry plus
// a final real-cost row on eventual success — mirroring the original's
// distinction between retried and clean LLM calls in the cost ledger.
func (p *Processor) recordUsage(ctx domain.Context, dialogueID, label string, attempts []time.Time, result domain.LLMResult, callErr error) {
	var logs []domain.LlmUsageLog
	if callErr != nil {
		for i := range attempts {
			logs = append(logs, domain.LlmUsageLog{
				DialogueID:  dialogueID,
				StateAtCall: domain.DialogueState(fmt.Sprintf("%s (FAILED #%d)", label, i+1)),
			})
		}
	} else {
		for i := 0; i < len(attempts)-1; i++ {
			logs = append(logs, domain.LlmUsageLog{
				DialogueID:  dialogueID,
				StateAtCall: domain.DialogueState(fmt.Sprintf("%s (RETRY #%d)", label, i+1)),
			})
		}
		logs = append(logs, domain.LlmUsageLog{
			DialogueID:       dialogueID,
			StateAtCall:      domain.DialogueState(label),
			PromptTokens:     result.PromptTokens,
			CompletionTokens: result.CompletionTokens,
			CachedTokens:     result.CachedTokens,
			TotalTokens:      result.TotalTokens,
			Cost:             result.Cost,
		})
	}
	if len(logs) == 0 {
		return
	}
	if err := p.usageLogs.Append(ctx, logs...); err != nil {
		slog.Error("failed to append llm usage logs", slog.String("dialogue_id", dialogueID), slog.Any("error", err))
	}
}
