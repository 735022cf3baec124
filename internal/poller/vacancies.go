package poller

import (
	"fmt"
	"time"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/domain"
)

// syncVacancies refreshes the recruiter's active vacancy set when the
// cache window has elapsed, then returns the current active set
// regardless of whether a refresh happened this tick.
func (p *Poller) syncVacancies(ctx domain.Context, recruiter domain.Recruiter) ([]domain.Vacancy, error) {
	if time.Since(recruiter.VacanciesLastSyncedAt) < p.vacancyCacheTTL {
		return p.vacancies.ListActiveForRecruiter(ctx, recruiter.ID)
	}

	employerID, err := p.hh.GetEmployerID(ctx, recruiter)
	if err != nil {
		return nil, fmt.Errorf("op=poller.sync_vacancies get_employer_id: %w", err)
	}

	fresh, err := p.hh.ListActiveVacancies(ctx, recruiter, employerID)
	if err != nil {
		return nil, fmt.Errorf("op=poller.sync_vacancies list_active: %w", err)
	}

	freshByExternalID := make(map[string]struct{}, len(fresh))
	for i := range fresh {
		fresh[i].RecruiterID = &recruiter.ID
		freshByExternalID[fresh[i].ExternalID] = struct{}{}
		if _, err := p.vacancies.Upsert(ctx, fresh[i]); err != nil {
			return nil, fmt.Errorf("op=poller.sync_vacancies upsert: %w", err)
		}
	}

	stale, err := p.vacancies.ListActiveForRecruiter(ctx, recruiter.ID)
	if err != nil {
		return nil, fmt.Errorf("op=poller.sync_vacancies list_stale: %w", err)
	}
	for _, v := range stale {
		if _, ok := freshByExternalID[v.ExternalID]; !ok {
			if err := p.vacancies.Detach(ctx, v.ID); err != nil {
				return nil, fmt.Errorf("op=poller.sync_vacancies detach: %w", err)
			}
		}
	}

	if err := p.recruiters.UpdateVacanciesSyncedAt(ctx, recruiter.ID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("op=poller.sync_vacancies touch_synced_at: %w", err)
	}

	return p.vacancies.ListActiveForRecruiter(ctx, recruiter.ID)
}
