// Package hhclient implements the job-board HTTP client: OAuth2 token
// refresh, paginated response listing, message history, and outbound
// message/move operations. It satisfies domain.HHClient.
package hhclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/adapter/ratelimit"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/config"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/domain"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/observability"
)

const perPage = 20

// Client is the job-board HTTP API client. One Client instance is shared by
// every recruiter's poller/processor/reminder goroutines in a binary: the
// per-recruiter refresh mutex and the shared rate limiter/semaphore make
// that safe.
type Client struct {
	cfg        config.Config
	hc         *http.Client
	limiter    *rate.Limiter
	crossLimit *ratelimit.Limiter
	sem        *semaphore.Weighted
	breaker    *observability.CircuitBreaker
	retry      domain.RetryConfig
	recruits   domain.RecruiterRepository

	refreshMu sync.Map // recruiter id -> *sync.Mutex
}

var _ domain.HHClient = (*Client)(nil)

// New builds a Client bound to cfg's HH_* settings, using recruits for the
// double-locked (in-process mutex + DB row lock) token refresh. crossLimit
// is the redis-backed limiter shared across the poller/processor/reminders
// binaries so they collectively respect one recruiter's rate cap instead of
// each process enforcing HH_RATE_PER_SEC independently; pass nil to rely on
// the in-process limiter alone.
func New(cfg config.Config, recruits domain.RecruiterRepository, crossLimit *ratelimit.Limiter) *Client {
	return &Client{
		cfg:        cfg,
		hc:         &http.Client{Timeout: cfg.HHHTTPTimeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.HHRatePerSec), int(cfg.HHRatePerSec)),
		crossLimit: crossLimit,
		sem:        semaphore.NewWeighted(int64(cfg.HHConcurrency)),
		breaker:    observability.NewCircuitBreaker("jobboard", 5, 30*time.Second, 0.5),
		retry:      cfg.GetRetryConfig(),
		recruits:   recruits,
	}
}

// waitCrossProcess blocks until recruiter's shared bucket admits one call,
// registering its bucket config from cfg.HHRatePerSec on first use.
func (c *Client) waitCrossProcess(ctx context.Context, recruiter domain.Recruiter) error {
	if c.crossLimit == nil {
		return nil
	}
	key := "jobboard:" + recruiter.ID
	c.crossLimit.SetBucketConfig(key, ratelimit.FromPerSecond(c.cfg.HHRatePerSec))
	return c.crossLimit.Wait(ctx, key, 1)
}

// mutexFor returns the per-recruiter in-process lock guarding token
// refresh, collapsing concurrent refreshes within this process before the
// DB row lock even needs to be taken.
func (c *Client) mutexFor(recruiterID string) *sync.Mutex {
	v, _ := c.refreshMu.LoadOrStore(recruiterID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// accessToken returns a valid token for recruiter, refreshing it if expired.
// The refresh double-locks: first the in-process mutex (cheap, collapses
// concurrent goroutines in this binary), then the DB row
// (SELECT...FOR UPDATE) so other processes serialize too.
func (c *Client) accessToken(ctx context.Context, recruiter domain.Recruiter) (string, error) {
	now := time.Now().UTC()
	if recruiter.AccessToken != "" && recruiter.TokenExpiresAt.After(now) {
		return recruiter.AccessToken, nil
	}

	mu := c.mutexFor(recruiter.ID)
	mu.Lock()
	defer mu.Unlock()

	locked, err := c.recruits.LockForTokenRefresh(ctx, recruiter.ID)
	if err != nil {
		return "", fmt.Errorf("op=hhclient.accessToken: lock recruiter: %w", err)
	}
	if locked.AccessToken != "" && locked.TokenExpiresAt.After(time.Now().UTC()) {
		return locked.AccessToken, nil
	}
	if locked.RefreshToken == "" {
		return "", fmt.Errorf("op=hhclient.accessToken: %w: no refresh token for recruiter %s", domain.ErrAuthRevoked, recruiter.ID)
	}

	observability.TokenRefreshTotal.WithLabelValues(recruiter.ID, "attempt").Inc()
	tokens, err := c.exchangeRefreshToken(ctx, locked.RefreshToken)
	if err != nil {
		observability.TokenRefreshTotal.WithLabelValues(recruiter.ID, "error").Inc()
		return "", fmt.Errorf("op=hhclient.accessToken: refresh: %w", err)
	}

	expiresAt := time.Now().UTC().Add(time.Duration(tokens.ExpiresIn-300) * time.Second)
	if err := c.recruits.UpdateTokens(ctx, recruiter.ID, tokens.AccessToken, tokens.RefreshToken, expiresAt); err != nil {
		return "", fmt.Errorf("op=hhclient.accessToken: persist tokens: %w", err)
	}
	observability.TokenRefreshTotal.WithLabelValues(recruiter.ID, "success").Inc()
	return tokens.AccessToken, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

func (c *Client) exchangeRefreshToken(ctx context.Context, refreshToken string) (tokenResponse, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {c.cfg.HHClientID},
		"client_secret": {c.cfg.HHClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.HHBaseURL+"/token", bytes.NewBufferString(form.Encode()))
	if err != nil {
		return tokenResponse{}, fmt.Errorf("op=hhclient.exchangeRefreshToken: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if err := c.limiter.Wait(ctx); err != nil {
		return tokenResponse{}, fmt.Errorf("op=hhclient.exchangeRefreshToken: rate limiter: %w", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return tokenResponse{}, fmt.Errorf("op=hhclient.exchangeRefreshToken: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return tokenResponse{}, fmt.Errorf("op=hhclient.exchangeRefreshToken: status %d: %s", resp.StatusCode, string(body))
	}
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return tokenResponse{}, fmt.Errorf("op=hhclient.exchangeRefreshToken: decode: %w", err)
	}
	return tr, nil
}

// apiError carries the job-board's structured error body, used to classify
// 403 responses into terminal vs. refresh-and-retry.
type apiError struct {
	StatusCode int
	OAuthError string
	Values     []string
	Body       string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("job board status %d: %s", e.StatusCode, e.Body)
}

// fatalNegotiationErrors mark a response/vacancy as gone: the dialogue
// should be closed rather than retried.
var fatalNegotiationErrors = map[string]bool{
	"invalid_vacancy":  true,
	"resume_not_found": true,
}

// request performs a single authenticated call, refreshing the token and
// retrying once if the job board reports token-revoked/token-expired, and
// wraps the whole exchange in the shared circuit breaker and retry policy.
func (c *Client) request(ctx context.Context, recruiter domain.Recruiter, method, fullURL string, query url.Values, body io.Reader) ([]byte, error) {
	var respBody []byte
	op := func() error {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return backoff.Permanent(fmt.Errorf("op=hhclient.request: acquire semaphore: %w", err))
		}
		defer c.sem.Release(1)
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("op=hhclient.request: rate limiter: %w", err))
		}
		if err := c.waitCrossProcess(ctx, recruiter); err != nil {
			return backoff.Permanent(fmt.Errorf("op=hhclient.request: cross-process rate limiter: %w", err))
		}

		token, err := c.accessToken(ctx, recruiter)
		if err != nil {
			return backoff.Permanent(err)
		}

		b, status, err := c.doOnce(ctx, method, fullURL, query, body, token)
		if err == nil {
			respBody = b
			observability.JobBoardRequestsTotal.WithLabelValues(endpointLabel(fullURL), "success").Inc()
			return nil
		}

		var ae *apiError
		if status == http.StatusForbidden {
			if apiErr, ok := err.(*apiError); ok {
				ae = apiErr
			}
		}
		if ae != nil {
			for _, v := range ae.Values {
				if fatalNegotiationErrors[v] {
					observability.JobBoardRequestsTotal.WithLabelValues(endpointLabel(fullURL), "fatal").Inc()
					return backoff.Permanent(fmt.Errorf("op=hhclient.request: %w: %s", domain.ErrResourceGone, ae.Body))
				}
			}
			if ae.OAuthError == "token-revoked" || ae.OAuthError == "token-expired" {
				token, rerr := c.refreshAndRetryToken(ctx, recruiter)
				if rerr != nil {
					return backoff.Permanent(rerr)
				}
				b2, _, err2 := c.doOnce(ctx, method, fullURL, query, body, token)
				if err2 == nil {
					respBody = b2
					observability.JobBoardRequestsTotal.WithLabelValues(endpointLabel(fullURL), "success_after_refresh").Inc()
					return nil
				}
				err = err2
			}
		}

		observability.JobBoardRequestsTotal.WithLabelValues(endpointLabel(fullURL), "error").Inc()
		if !c.retry.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.WithContext(retryBackoff(c.retry), ctx)
	if err := backoff.Retry(func() error {
		return c.breaker.Call("request", op)
	}, bo); err != nil {
		return nil, fmt.Errorf("op=hhclient.request: %w", err)
	}
	return respBody, nil
}

// refreshAndRetryToken forces a fresh token fetch regardless of the cached
// expiry, matching the original client invalidating access_token on a 403
// token-revoked/token-expired response before retrying once.
func (c *Client) refreshAndRetryToken(ctx context.Context, recruiter domain.Recruiter) (string, error) {
	recruiter.AccessToken = ""
	recruiter.TokenExpiresAt = time.Time{}
	return c.accessToken(ctx, recruiter)
}

func (c *Client) doOnce(ctx context.Context, method, fullURL string, query url.Values, body io.Reader, token string) ([]byte, int, error) {
	u := fullURL
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, 0, fmt.Errorf("op=hhclient.doOnce: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("HH-User-Agent", c.cfg.HHUserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("op=hhclient.doOnce: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("op=hhclient.doOnce: read body: %w", err)
	}

	if resp.StatusCode >= 400 {
		ae := &apiError{StatusCode: resp.StatusCode, Body: string(data)}
		var parsed struct {
			OAuthError string `json:"oauth_error"`
			Errors     []struct {
				Value string `json:"value"`
			} `json:"errors"`
		}
		if json.Unmarshal(data, &parsed) == nil {
			ae.OAuthError = parsed.OAuthError
			for _, e := range parsed.Errors {
				ae.Values = append(ae.Values, e.Value)
			}
		}
		return nil, resp.StatusCode, ae
	}
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusCreated {
		return nil, resp.StatusCode, nil
	}
	return data, resp.StatusCode, nil
}

func endpointLabel(fullURL string) string {
	if i := indexFrom(fullURL, "/v3/"); i >= 0 {
		return fullURL[i:]
	}
	if i := indexFrom(fullURL, "hh.ru/"); i >= 0 {
		return fullURL[i+len("hh.ru/"):]
	}
	return fullURL
}

func indexFrom(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func retryBackoff(cfg domain.RetryConfig) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialDelay
	b.MaxInterval = cfg.MaxDelay
	b.Multiplier = cfg.Multiplier
	if !cfg.Jitter {
		b.RandomizationFactor = 0
	}
	return backoff.WithMaxRetries(b, uint64(cfg.MaxRetries))
}

// GetEmployerID resolves the employer account id tied to recruiter, the
// root scope every vacancy/response query is filtered by.
func (c *Client) GetEmployerID(ctx domain.Context, recruiter domain.Recruiter) (string, error) {
	body, err := c.request(ctx, recruiter, http.MethodGet, c.cfg.HHBaseURL+"/me", nil, nil)
	if err != nil {
		return "", fmt.Errorf("op=hhclient.GetEmployerID: %w", err)
	}
	var me struct {
		EmployerID string `json:"employer_id"`
	}
	if err := json.Unmarshal(body, &me); err != nil {
		return "", fmt.Errorf("op=hhclient.GetEmployerID: decode: %w", err)
	}
	return me.EmployerID, nil
}

// ListActiveVacancies lists the employer's currently open vacancies.
func (c *Client) ListActiveVacancies(ctx domain.Context, recruiter domain.Recruiter, employerID string) ([]domain.Vacancy, error) {
	q := url.Values{"employer_id": {employerID}, "per_page": {strconv.Itoa(perPage)}}
	body, err := c.request(ctx, recruiter, http.MethodGet, c.cfg.HHBaseURL+"/vacancies/active", q, nil)
	if err != nil {
		return nil, fmt.Errorf("op=hhclient.ListActiveVacancies: %w", err)
	}
	var page struct {
		Items []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
			Area struct {
				Name string `json:"name"`
			} `json:"area"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("op=hhclient.ListActiveVacancies: decode: %w", err)
	}
	vacancies := make([]domain.Vacancy, 0, len(page.Items))
	for _, it := range page.Items {
		vacancies = append(vacancies, domain.Vacancy{ExternalID: it.ID, Title: it.Name, City: it.Area.Name})
	}
	return vacancies, nil
}

// ListNewResponses paginates negotiations/response for vacancyExternalID,
// returning only items created at or after since; pagination stops early
// once an item older than since is seen, matching the original client's
// descending-order early-stop optimization.
func (c *Client) ListNewResponses(ctx domain.Context, recruiter domain.Recruiter, vacancyExternalID string, since time.Time) ([]domain.JobBoardResponse, error) {
	return c.listFolder(ctx, recruiter, "response", vacancyExternalID, since, false)
}

// ListUpdatedResponses paginates the given folder filtered to items with
// unread updates, with no since-time bound.
func (c *Client) ListUpdatedResponses(ctx domain.Context, recruiter domain.Recruiter, vacancyExternalID, folder string) ([]domain.JobBoardResponse, error) {
	return c.listFolder(ctx, recruiter, folder, vacancyExternalID, time.Time{}, true)
}

func (c *Client) listFolder(ctx domain.Context, recruiter domain.Recruiter, folder, vacancyExternalID string, since time.Time, onlyUpdated bool) ([]domain.JobBoardResponse, error) {
	var out []domain.JobBoardResponse
	page := 0
	for {
		q := url.Values{
			"vacancy_id": {vacancyExternalID},
			"page":       {strconv.Itoa(page)},
			"per_page":   {strconv.Itoa(perPage)},
			"order_by":   {"created_at"},
			"order":      {"desc"},
		}
		if onlyUpdated {
			if folder == "response" {
				q.Set("show_only_new_responses", "true")
			} else {
				q.Set("show_only_new", "true")
			}
		}

		body, err := c.request(ctx, recruiter, http.MethodGet, c.cfg.HHBaseURL+"/negotiations/"+folder, q, nil)
		if err != nil {
			return nil, fmt.Errorf("op=hhclient.listFolder: %w", err)
		}
		var resp struct {
			Items []struct {
				ID        string `json:"id"`
				CreatedAt string `json:"created_at"`
				Resume    struct {
					ID        string `json:"id"`
					FirstName string `json:"first_name"`
					LastName  string `json:"last_name"`
				} `json:"resume"`
				Vacancy struct {
					ID string `json:"id"`
				} `json:"vacancy"`
				MessagesURL   string `json:"messages_url"`
				EmployerState struct {
					ID string `json:"id"`
				} `json:"employer_state"`
			} `json:"items"`
			Pages int `json:"pages"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("op=hhclient.listFolder: decode: %w", err)
		}
		if len(resp.Items) == 0 {
			break
		}

		stop := false
		for _, it := range resp.Items {
			createdAt, perr := time.Parse(time.RFC3339, it.CreatedAt)
			if perr == nil && !since.IsZero() && createdAt.Before(since) {
				stop = true
				break
			}
			out = append(out, domain.JobBoardResponse{
				ExternalResponseID: it.ID,
				ExternalResumeID:   it.Resume.ID,
				ApplicantFirstName: it.Resume.FirstName,
				ApplicantLastName:  it.Resume.LastName,
				VacancyExternalID:  vacancyExternalID,
				CreatedAt:          createdAt,
				CurrentFolder:      it.EmployerState.ID,
				MessagesURL:        it.MessagesURL,
			})
		}
		if stop || page >= resp.Pages-1 {
			break
		}
		page++
	}
	return out, nil
}

// GetResponse fetches a single negotiation by id, used to re-check its
// current folder.
func (c *Client) GetResponse(ctx domain.Context, recruiter domain.Recruiter, externalResponseID string) (domain.JobBoardResponse, error) {
	body, err := c.request(ctx, recruiter, http.MethodGet, c.cfg.HHBaseURL+"/negotiations/"+externalResponseID, nil, nil)
	if err != nil {
		return domain.JobBoardResponse{}, fmt.Errorf("op=hhclient.GetResponse: %w", err)
	}
	var it struct {
		ID        string `json:"id"`
		CreatedAt string `json:"created_at"`
		Resume    struct {
			ID        string `json:"id"`
			FirstName string `json:"first_name"`
			LastName  string `json:"last_name"`
		} `json:"resume"`
		Vacancy struct {
			ID string `json:"id"`
		} `json:"vacancy"`
		MessagesURL   string `json:"messages_url"`
		EmployerState struct {
			ID string `json:"id"`
		} `json:"employer_state"`
	}
	if err := json.Unmarshal(body, &it); err != nil {
		return domain.JobBoardResponse{}, fmt.Errorf("op=hhclient.GetResponse: decode: %w", err)
	}
	createdAt, _ := time.Parse(time.RFC3339, it.CreatedAt)
	return domain.JobBoardResponse{
		ExternalResponseID: it.ID,
		ExternalResumeID:   it.Resume.ID,
		ApplicantFirstName: it.Resume.FirstName,
		ApplicantLastName:  it.Resume.LastName,
		VacancyExternalID:  it.Vacancy.ID,
		CreatedAt:          createdAt,
		CurrentFolder:      it.EmployerState.ID,
		MessagesURL:        it.MessagesURL,
	}, nil
}

// MoveResponse moves a negotiation into toFolder. A 403 reporting
// resume_not_found/invalid_vacancy is treated as already-effectively-moved
// (there is nowhere left to move it) rather than an error, matching the
// original client.
func (c *Client) MoveResponse(ctx domain.Context, recruiter domain.Recruiter, externalResponseID, toFolder string) error {
	_, err := c.request(ctx, recruiter, http.MethodPut, fmt.Sprintf("%s/negotiations/%s/%s", c.cfg.HHBaseURL, toFolder, externalResponseID), nil, nil)
	if err != nil {
		if isResourceGone(err) {
			return nil
		}
		return fmt.Errorf("op=hhclient.MoveResponse: %w", err)
	}
	return nil
}

// ListMessages fetches the full, paginated message thread for a response,
// in the order the job board returns its pages and items; the result is
// not re-sorted.
func (c *Client) ListMessages(ctx domain.Context, recruiter domain.Recruiter, messagesURL string) ([]domain.JobBoardMessage, error) {
	var out []domain.JobBoardMessage
	page := 0
	for {
		q := url.Values{"page": {strconv.Itoa(page)}, "per_page": {strconv.Itoa(perPage)}}
		body, err := c.request(ctx, recruiter, http.MethodGet, messagesURL, q, nil)
		if err != nil {
			return nil, fmt.Errorf("op=hhclient.ListMessages: %w", err)
		}
		var resp struct {
			Items []struct {
				ID        string `json:"id"`
				Author    struct{ ParticipantType string `json:"participant_type"` } `json:"author"`
				Text      string `json:"text"`
				CreatedAt string `json:"created_at"`
			} `json:"items"`
			Pages int `json:"pages"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("op=hhclient.ListMessages: decode: %w", err)
		}
		if len(resp.Items) == 0 {
			break
		}
		for _, it := range resp.Items {
			ts, _ := time.Parse(time.RFC3339, it.CreatedAt)
			out = append(out, domain.JobBoardMessage{
				MessageID:      it.ID,
				FromApplicant:  it.Author.ParticipantType == "applicant",
				Text:           it.Text,
				TimestampLocal: ts,
			})
		}
		if page >= resp.Pages-1 {
			break
		}
		page++
	}
	return out, nil
}

// SendMessage posts text into a negotiation's chat. A terminal 403
// (invalid_vacancy/resume_not_found) is surfaced as domain.ErrResourceGone
// so the processor can close the dialogue instead of retrying forever.
func (c *Client) SendMessage(ctx domain.Context, recruiter domain.Recruiter, externalResponseID, text string) error {
	form := url.Values{"message": {text}}
	_, err := c.request(ctx, recruiter, http.MethodPost, fmt.Sprintf("%s/negotiations/%s/messages", c.cfg.HHBaseURL, externalResponseID), nil, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return fmt.Errorf("op=hhclient.SendMessage: %w", err)
	}
	return nil
}

func isResourceGone(err error) bool {
	return errors.Is(err, domain.ErrResourceGone)
}
