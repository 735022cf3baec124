// Package poller syncs each tracked recruiter's active vacancies and
// ingests new or updated job-board responses into dialogues, without
// ever touching the LLM — that is the processor's job.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/domain"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/observability"
)

// Poller fans out one poll cycle across all tracked recruiters, each
// cycle syncing active vacancies then ingesting new/updated responses.
type Poller struct {
	poll           time.Duration
	concurrency    int
	vacancyCacheTTL time.Duration
	recruiterIDs   []string
	loc            *time.Location

	recruiters  domain.RecruiterRepository
	vacancies   domain.VacancyRepository
	dialogues   domain.DialogueRepository
	candidates  domain.CandidateRepository
	appSettings domain.AppSettingsRepository
	alerts      domain.AdminAlertRepository
	hh          domain.HHClient
}

// New builds a Poller.
func New(
	poll time.Duration,
	concurrency int,
	vacancyCacheTTL time.Duration,
	recruiterIDs []string,
	loc *time.Location,
	recruiters domain.RecruiterRepository,
	vacancies domain.VacancyRepository,
	dialogues domain.DialogueRepository,
	candidates domain.CandidateRepository,
	appSettings domain.AppSettingsRepository,
	alerts domain.AdminAlertRepository,
	hh domain.HHClient,
) *Poller {
	return &Poller{
		poll:            poll,
		concurrency:     concurrency,
		vacancyCacheTTL: vacancyCacheTTL,
		recruiterIDs:    recruiterIDs,
		loc:             loc,
		recruiters:      recruiters,
		vacancies:       vacancies,
		dialogues:       dialogues,
		candidates:      candidates,
		appSettings:     appSettings,
		alerts:          alerts,
		hh:              hh,
	}
}

// Run polls every p.poll until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("poller stopping")
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	tracer := otel.Tracer("poller")
	ctx, span := tracer.Start(ctx, "Poller.tick")
	defer span.End()

	recruiters, err := p.recruiters.ListTracked(ctx, p.recruiterIDs)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to list tracked recruiters", slog.Any("error", err))
		return
	}

	sem := semaphore.NewWeighted(int64(p.concurrency))
	var wg sync.WaitGroup
	for _, rec := range recruiters {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(rec domain.Recruiter) {
			defer wg.Done()
			defer sem.Release(1)
			p.handleRecruiter(ctx, rec)
		}(rec)
	}
	wg.Wait()
}

func (p *Poller) handleRecruiter(ctx domain.Context, recruiter domain.Recruiter) {
	tracer := otel.Tracer("poller")
	ctx, span := tracer.Start(ctx, "Poller.handleRecruiter")
	span.SetAttributes(attribute.String("recruiter.id", recruiter.ID))
	defer span.End()

	if recruiter.AccessToken == "" && recruiter.RefreshToken == "" {
		slog.Warn("poll skipped: recruiter has no token", slog.String("recruiter_id", recruiter.ID))
		return
	}

	outcome := "success"
	defer func() {
		observability.PollerCyclesTotal.WithLabelValues(recruiter.ID, outcome).Inc()
	}()

	vacancies, err := p.syncVacancies(ctx, recruiter)
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		slog.Error("failed to sync vacancies", slog.String("recruiter_id", recruiter.ID), slog.Any("error", err))
		return
	}
	if len(vacancies) == 0 {
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := p.processNewResponses(ctx, recruiter, vacancies); err != nil {
			outcome = "error"
			slog.Error("failed to process new responses", slog.String("recruiter_id", recruiter.ID), slog.Any("error", err))
		}
	}()
	go func() {
		defer wg.Done()
		if err := p.processOngoingResponses(ctx, recruiter, vacancies); err != nil {
			outcome = "error"
			slog.Error("failed to process ongoing responses", slog.String("recruiter_id", recruiter.ID), slog.Any("error", err))
		}
	}()
	wg.Wait()
}
