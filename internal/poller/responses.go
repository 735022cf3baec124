package poller

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/domain"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/observability"
)

// newResponseLookback bounds how far back ListNewResponses looks on each
// cycle; wider than the poll interval so a slow cycle or a brief outage
// doesn't drop a response between polls.
const newResponseLookback = 3

// ongoingFolders are the folders a response can sit in once a dialogue
// exists for it; interview is watched separately so its updates force
// the post-qualification chat state regardless of the candidate's
// current dialogue_state.
var ongoingFolders = []string{folderConsider, "interview"}

func (p *Poller) processNewResponses(ctx domain.Context, recruiter domain.Recruiter, vacancies []domain.Vacancy) error {
	since := time.Now().Add(-p.poll * newResponseLookback)

	for _, vacancy := range vacancies {
		fresh, err := p.hh.ListNewResponses(ctx, recruiter, vacancy.ExternalID, since)
		if err != nil {
			return fmt.Errorf("op=poller.new_responses list recruiter=%s vacancy=%s: %w", recruiter.ID, vacancy.ExternalID, err)
		}

		for _, resp := range fresh {
			if err := p.ingestNewResponse(ctx, recruiter, vacancy, resp); err != nil {
				slog.Error("failed to ingest new response",
					slog.String("recruiter_id", recruiter.ID),
					slog.String("external_response_id", resp.ExternalResponseID),
					slog.Any("error", err))
			}
			observability.NewResponsesFetched.WithLabelValues(recruiter.ID).Inc()
		}
	}
	return nil
}

func (p *Poller) ingestNewResponse(ctx domain.Context, recruiter domain.Recruiter, vacancy domain.Vacancy, resp domain.JobBoardResponse) error {
	if _, err := p.dialogues.GetByExternalResponseID(ctx, resp.ExternalResponseID); err == nil {
		return nil
	}

	// Cheap pre-check so an unaffordable response is skipped before any
	// candidate row or job-board call is made; it is retried on a later
	// poll once the balance recovers. CreateWithDebit re-checks under a
	// row lock right before it moves the response, so this is an
	// optimization, not the authoritative check.
	settings, err := p.appSettings.Get(ctx)
	if err != nil {
		return fmt.Errorf("app_settings_get: %w", err)
	}
	if settings.Balance < settings.CostPerDialogue {
		return nil
	}

	candidate, err := p.candidates.GetByExternalResumeID(ctx, resp.ExternalResumeID)
	if err != nil {
		candidate = domain.Candidate{
			ExternalResumeID: resp.ExternalResumeID,
			FullName:         fmt.Sprintf("%s %s", resp.ApplicantFirstName, resp.ApplicantLastName),
			CreatedAt:        time.Now().UTC(),
		}
		candidateID, cerr := p.candidates.Create(ctx, candidate)
		if cerr != nil {
			return fmt.Errorf("create_candidate: %w", cerr)
		}
		candidate.ID = candidateID
	}

	messages, err := p.hh.ListMessages(ctx, recruiter, resp.MessagesURL)
	if err != nil {
		return fmt.Errorf("list_messages: %w", err)
	}

	dialogue := domain.Dialogue{
		ExternalResponseID: resp.ExternalResponseID,
		CandidateID:        candidate.ID,
		VacancyID:          vacancy.ID,
		RecruiterID:        recruiter.ID,
		Status:              domain.StatusNew,
		DialogueState:       domain.StateInitialProcessing,
		LastUpdated:         time.Now().UTC(),
		CreatedAt:           time.Now().UTC(),
		ResponseCreatedAt:   resp.CreatedAt,
	}

	hasCoverLetter := false
	for _, m := range messages {
		if m.FromApplicant && m.Text != "" {
			hasCoverLetter = true
			dialogue.PendingMessages = append(dialogue.PendingMessages, domain.PendingMessage{
				MessageID:      m.MessageID,
				Role:           domain.RoleUser,
				Content:        m.Text,
				TimestampLocal: m.TimestampLocal,
			})
		}
	}
	if !hasCoverLetter {
		dialogue.PendingMessages = append(dialogue.PendingMessages, domain.PendingMessage{
			MessageID: fmt.Sprintf("sys_no_cover_%s", resp.ExternalResponseID),
			Role:      domain.RoleUser,
			Content:   domain.SystemCommandPrefix + " кандидат откликнулся без сопроводительного письма, начни диалог первым приветственным сообщением по плану.",
			TimestampLocal: time.Now(),
		})
	}

	moveResponse := func() error {
		return p.hh.MoveResponse(ctx, recruiter, resp.ExternalResponseID, folderConsider)
	}
	_, ok, crossedLow, recoveredAbove, err := p.dialogues.CreateWithDebit(ctx, dialogue, moveResponse)
	if err != nil {
		return fmt.Errorf("create_dialogue: %w", err)
	}
	if !ok {
		// Balance ran out between the pre-check and the locked debit; the
		// response is left untouched in the inbox folder for a later poll.
		return nil
	}

	if crossedLow {
		if aerr := p.alerts.Append(ctx, "balance", "Баланс опустился ниже порогового значения, диалоги могут быть приостановлены."); aerr != nil {
			slog.Error("failed to append low-balance alert", slog.Any("error", aerr))
		}
	}
	if recoveredAbove {
		if aerr := p.alerts.Append(ctx, "balance", "Баланс восстановлен выше порогового значения."); aerr != nil {
			slog.Error("failed to append balance-recovered alert", slog.Any("error", aerr))
		}
	}

	return nil
}

func (p *Poller) processOngoingResponses(ctx domain.Context, recruiter domain.Recruiter, vacancies []domain.Vacancy) error {
	for _, vacancy := range vacancies {
		for _, folder := range ongoingFolders {
			updated, err := p.hh.ListUpdatedResponses(ctx, recruiter, vacancy.ExternalID, folder)
			if err != nil {
				return fmt.Errorf("op=poller.ongoing_responses list recruiter=%s vacancy=%s folder=%s: %w", recruiter.ID, vacancy.ExternalID, folder, err)
			}
			for _, resp := range updated {
				if err := p.ingestOngoingResponse(ctx, recruiter, resp, folder); err != nil {
					slog.Error("failed to ingest ongoing response",
						slog.String("recruiter_id", recruiter.ID),
						slog.String("external_response_id", resp.ExternalResponseID),
						slog.Any("error", err))
				}
			}
		}
	}
	return nil
}

func (p *Poller) ingestOngoingResponse(ctx domain.Context, recruiter domain.Recruiter, resp domain.JobBoardResponse, folder string) error {
	d, err := p.dialogues.GetByExternalResponseID(ctx, resp.ExternalResponseID)
	if err != nil {
		return nil
	}

	messages, err := p.hh.ListMessages(ctx, recruiter, resp.MessagesURL)
	if err != nil {
		return fmt.Errorf("list_messages: %w", err)
	}

	seen := d.SeenMessageIDs()
	var unseen []domain.PendingMessage
	for _, m := range messages {
		if !m.FromApplicant || m.Text == "" {
			continue
		}
		if _, ok := seen[m.MessageID]; ok {
			continue
		}
		unseen = append(unseen, domain.PendingMessage{
			MessageID:      m.MessageID,
			Role:           domain.RoleUser,
			Content:        m.Text,
			TimestampLocal: m.TimestampLocal,
		})
	}

	if folder == "interview" && d.DialogueState != domain.StatePostQualificationChat {
		d.DialogueState = domain.StatePostQualificationChat
	}

	if len(unseen) == 0 {
		if folder != "interview" {
			return nil
		}
		return p.dialogues.Update(ctx, d)
	}

	d.PendingMessages = append(d.PendingMessages, unseen...)
	d.ReminderLevel = 0
	d.LastUpdated = time.Now().UTC()
	return p.dialogues.Update(ctx, d)
}
