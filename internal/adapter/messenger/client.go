// Package messenger implements the reviewer-notification channel: a thin
// Telegram Bot API client satisfying domain.Messenger. Notifications land
// in per-recruiter forum topics (qualified/rejected/timeout), addressed by
// chat id + message_thread_id.
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/config"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/domain"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/observability"
)

// Client is a Telegram Bot API client for reviewer notifications.
type Client struct {
	baseURL string
	hc      *http.Client
	limiter *rate.Limiter
	breaker *observability.CircuitBreaker
	retry   domain.RetryConfig
}

var _ domain.Messenger = (*Client)(nil)

// New builds a Client bound to cfg's MESSENGER_BOT_TOKEN/MESSENGER_BASE_URL.
func New(cfg config.Config) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.MessengerBaseURL, "/") + "/bot" + cfg.MessengerBotToken,
		hc:      &http.Client{Timeout: cfg.MessengerTimeout},
		limiter: rate.NewLimiter(rate.Limit(25), 25),
		breaker: observability.NewCircuitBreaker("messenger", 5, 30*time.Second, 0.5),
		retry:   cfg.GetRetryConfig(),
	}
}

// SendMessage posts text to chatID, scoped to threadID when it is a forum
// topic (0 means the chat's general topic).
func (c *Client) SendMessage(ctx domain.Context, chatID int64, threadID int, text string) error {
	payload := map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               "Markdown",
		"disable_web_page_preview": true,
	}
	if threadID != 0 {
		payload["message_thread_id"] = threadID
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("op=messenger.SendMessage: marshal: %w", err)
	}
	if err := c.doWithRetry(ctx, "sendMessage", "application/json", body); err != nil {
		return fmt.Errorf("op=messenger.SendMessage: %w", err)
	}
	return nil
}

// SendDocument uploads content as filename, with caption, to chatID/threadID.
func (c *Client) SendDocument(ctx domain.Context, chatID int64, threadID int, filename string, content []byte, caption string) error {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	if err := w.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return fmt.Errorf("op=messenger.SendDocument: write chat_id: %w", err)
	}
	if threadID != 0 {
		if err := w.WriteField("message_thread_id", strconv.Itoa(threadID)); err != nil {
			return fmt.Errorf("op=messenger.SendDocument: write thread id: %w", err)
		}
	}
	if caption != "" {
		if err := w.WriteField("caption", caption); err != nil {
			return fmt.Errorf("op=messenger.SendDocument: write caption: %w", err)
		}
		if err := w.WriteField("parse_mode", "Markdown"); err != nil {
			return fmt.Errorf("op=messenger.SendDocument: write parse_mode: %w", err)
		}
	}
	fw, err := w.CreateFormFile("document", filename)
	if err != nil {
		return fmt.Errorf("op=messenger.SendDocument: create form file: %w", err)
	}
	if _, err := fw.Write(content); err != nil {
		return fmt.Errorf("op=messenger.SendDocument: write content: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("op=messenger.SendDocument: close writer: %w", err)
	}

	if err := c.doWithRetry(ctx, "sendDocument", w.FormDataContentType(), buf.Bytes()); err != nil {
		return fmt.Errorf("op=messenger.SendDocument: %w", err)
	}
	return nil
}

// botError carries the Bot API's structured error body.
type botError struct {
	StatusCode  int
	ErrorCode   int
	Description string
}

func (e *botError) Error() string {
	return fmt.Sprintf("bot api error %d (http %d): %s", e.ErrorCode, e.StatusCode, e.Description)
}

// permanent reports whether the error is a non-retryable 4xx, matching the
// original bot sender's classification: most 4xx are permanent, but a
// retry_after-bearing response (429, or a description mentioning it) is
// transient.
func (e *botError) permanent() bool {
	if e.StatusCode == http.StatusTooManyRequests || e.ErrorCode == http.StatusTooManyRequests {
		return false
	}
	desc := strings.ToLower(e.Description)
	if strings.Contains(desc, "retry_after") || strings.Contains(desc, "retry after") {
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// doWithRetry performs method against the bot API, retrying transient
// failures (5xx, rate limiting, network errors) but not 4xx client errors,
// matching the original bot sender's permanent/transient classification.
// Each retry re-reads body from scratch since http.NewRequest consumes its
// reader.
func (c *Client) doWithRetry(ctx context.Context, method, contentType string, body []byte) error {
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("op=messenger.doWithRetry: rate limiter: %w", err))
		}
		err := c.breaker.Call(method, func() error {
			return c.doOnce(ctx, method, contentType, body)
		})
		if err == nil {
			return nil
		}
		var be *botError
		if errors.As(err, &be) {
			if be.permanent() {
				return backoff.Permanent(err)
			}
			return err
		}
		if !c.retry.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.WithContext(retryBackoff(c.retry), ctx)
	return backoff.Retry(op, bo)
}

func (c *Client) doOnce(ctx context.Context, method, contentType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("op=messenger.doOnce: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("op=messenger.doOnce: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("op=messenger.doOnce: read body: %w", err)
	}

	var parsed struct {
		OK          bool   `json:"ok"`
		ErrorCode   int    `json:"error_code"`
		Description string `json:"description"`
	}
	if jerr := json.Unmarshal(data, &parsed); jerr != nil {
		if resp.StatusCode != http.StatusOK {
			return &botError{StatusCode: resp.StatusCode, Description: string(data)}
		}
		return fmt.Errorf("op=messenger.doOnce: decode response: %w", jerr)
	}
	if parsed.OK {
		return nil
	}
	return &botError{StatusCode: resp.StatusCode, ErrorCode: parsed.ErrorCode, Description: parsed.Description}
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
