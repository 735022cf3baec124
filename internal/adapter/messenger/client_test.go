package messenger

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
)

func testConfig(baseURL string) config.Config {
	return config.Config{
		MessengerBotToken: "token-1",
		MessengerBaseURL:  baseURL,
		MessengerTimeout:  5 * time.Second,
		RetryMaxRetries:   1,
		RetryInitialDelay: time.Millisecond,
		RetryMaxDelay:     time.Millisecond,
		RetryMultiplier:   1,
	}
}

func TestSendMessageSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/bottoken-1/sendMessage", r.URL.Path)
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, float64(42), payload["message_thread_id"])
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	err := c.SendMessage(context.Background(), 123, 42, "hello")
	require.NoError(t, err)
}

func TestSendMessagePermanentErrorNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": 400, "description": "chat not found"})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	err := c.SendMessage(context.Background(), 123, 0, "hello")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestSendDocumentSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/bottoken-1/sendDocument", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(10<<20))
		assert.Equal(t, "report", r.FormValue("caption"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	err := c.SendDocument(context.Background(), 123, 0, "cv.pdf", []byte("%PDF-"), "report")
	require.NoError(t, err)
}
