package hhclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/config"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/domain"
)

type fakeRecruiterRepo struct {
	recruiter domain.Recruiter
}

func (f *fakeRecruiterRepo) Get(ctx domain.Context, id string) (domain.Recruiter, error) {
	return f.recruiter, nil
}
func (f *fakeRecruiterRepo) ListTracked(ctx domain.Context, onlyIDs []string) ([]domain.Recruiter, error) {
	return []domain.Recruiter{f.recruiter}, nil
}
func (f *fakeRecruiterRepo) UpdateVacanciesSyncedAt(ctx domain.Context, id string, t time.Time) error {
	return nil
}
func (f *fakeRecruiterRepo) UpdateTokens(ctx domain.Context, id, accessToken, refreshToken string, expiresAt time.Time) error {
	f.recruiter.AccessToken = accessToken
	f.recruiter.RefreshToken = refreshToken
	f.recruiter.TokenExpiresAt = expiresAt
	return nil
}
func (f *fakeRecruiterRepo) LockForTokenRefresh(ctx domain.Context, id string) (domain.Recruiter, error) {
	return f.recruiter, nil
}

func testConfig(baseURL string) config.Config {
	return config.Config{
		HHBaseURL:     baseURL,
		HHClientID:    "client-id",
		HHClientSecret: "client-secret",
		HHUserAgent:   "hh-recruiter-bot-test",
		HHHTTPTimeout: 5 * time.Second,
		HHRatePerSec:  1000,
		HHConcurrency: 10,
		RetryMaxRetries:    1,
		RetryInitialDelay:  time.Millisecond,
		RetryMaxDelay:      time.Millisecond,
		RetryMultiplier:    1,
	}
}

func validRecruiter() domain.Recruiter {
	return domain.Recruiter{
		ID:             "rec-1",
		AccessToken:    "valid-token",
		RefreshToken:   "refresh-token",
		TokenExpiresAt: time.Now().Add(time.Hour),
	}
}

func TestGetEmployerID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/me", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"employer_id": "emp-42"})
	}))
	defer srv.Close()

	repo := &fakeRecruiterRepo{recruiter: validRecruiter()}
	c := New(testConfig(srv.URL), repo, nil)

	id, err := c.GetEmployerID(context.Background(), repo.recruiter)
	require.NoError(t, err)
	assert.Equal(t, "emp-42", id)
}

func TestListActiveVacancies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/vacancies/active", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{"id": "v1", "name": "Courier", "area": map[string]string{"name": "Moscow"}},
			},
		})
	}))
	defer srv.Close()

	repo := &fakeRecruiterRepo{recruiter: validRecruiter()}
	c := New(testConfig(srv.URL), repo, nil)

	vacancies, err := c.ListActiveVacancies(context.Background(), repo.recruiter, "emp-42")
	require.NoError(t, err)
	require.Len(t, vacancies, 1)
	assert.Equal(t, "v1", vacancies[0].ExternalID)
	assert.Equal(t, "Courier", vacancies[0].Title)
	assert.Equal(t, "Moscow", vacancies[0].City)
}

func TestMoveResponseSwallowsTerminal403(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]string{{"value": "invalid_vacancy"}},
		})
	}))
	defer srv.Close()

	repo := &fakeRecruiterRepo{recruiter: validRecruiter()}
	c := New(testConfig(srv.URL), repo, nil)

	err := c.MoveResponse(context.Background(), repo.recruiter, "resp-1", "discard")
	assert.NoError(t, err)
}

func TestSendMessagePropagatesTerminal403(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]string{{"value": "resume_not_found"}},
		})
	}))
	defer srv.Close()

	repo := &fakeRecruiterRepo{recruiter: validRecruiter()}
	c := New(testConfig(srv.URL), repo, nil)

	err := c.SendMessage(context.Background(), repo.recruiter, "resp-1", "hello")
	require.Error(t, err)
}

func TestListMessagesPaginates(t *testing.T) {
	page := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		defer func() { page++ }()
		if page == 0 {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{
					{"id": "m1", "author": map[string]string{"participant_type": "applicant"}, "text": "hi", "created_at": "2026-01-01T10:00:00+03:00"},
				},
				"pages": 2,
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{"id": "m2", "author": map[string]string{"participant_type": "employer"}, "text": "hello back", "created_at": "2026-01-01T10:05:00+03:00"},
			},
			"pages": 2,
		})
	}))
	defer srv.Close()

	repo := &fakeRecruiterRepo{recruiter: validRecruiter()}
	c := New(testConfig(srv.URL), repo, nil)

	msgs, err := c.ListMessages(context.Background(), repo.recruiter, srv.URL+"/negotiations/resp-1/messages")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].FromApplicant)
	assert.False(t, msgs[1].FromApplicant)
}
