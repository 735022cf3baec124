// Package llmclient implements the JSON-mode chat completion client the
// processor uses to generate dialogue turns. It satisfies domain.LLMClient.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	tiktoken "github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
	"golang.org/x/sync/semaphore"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/config"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/domain"
	"github.com/fairyhunter13/hh-recruiter-bot/internal/observability"
)

func init() {
	// Offline BPE loader avoids downloading encoding files at runtime,
	// required for containers without internet egress.
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// Client is a JSON-mode chat completion client for an OpenAI-compatible
// endpoint, with a concurrency limiter, circuit breaker, and retry/backoff.
type Client struct {
	cfg     config.Config
	hc      *http.Client
	limiter *semaphore.Weighted
	breaker *observability.CircuitBreaker
	retry   domain.RetryConfig
}

var _ domain.LLMClient = (*Client)(nil)

// New builds a Client bound to cfg's LLM_BASE_URL/LLM_API_KEY/LLM_CONCURRENCY.
func New(cfg config.Config) *Client {
	return &Client{
		cfg:     cfg,
		hc:      &http.Client{Timeout: cfg.LLMHTTPTimeout},
		limiter: semaphore.NewWeighted(int64(cfg.LLMConcurrency)),
		breaker: observability.NewCircuitBreaker("llm", 5, 30*time.Second, 0.5),
		retry:   cfg.GetRetryConfig(),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens        int `json:"prompt_tokens"`
		CompletionTokens    int `json:"completion_tokens"`
		TotalTokens         int `json:"total_tokens"`
		PromptTokensDetails struct {
			CachedTokens int `json:"cached_tokens"`
		} `json:"prompt_tokens_details"`
	} `json:"usage"`
}

// ChatJSON sends a single system+user chat-completion request, retrying on
// transient failures with exponential backoff. attempts, if non-nil,
// receives one timestamp per attempt (including the first), letting the
// processor log how many tries a successful call needed.
func (c *Client) ChatJSON(ctx domain.Context, systemPrompt, userPrompt string, maxTokens int, attempts *[]time.Time) (domain.LLMResult, error) {
	if maxTokens <= 0 {
		maxTokens = c.cfg.LLMMaxTokens
	}
	messages := []chatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}

	var result domain.LLMResult
	op := func() error {
		if attempts != nil {
			*attempts = append(*attempts, time.Now())
		}

		if err := c.limiter.Acquire(ctx, 1); err != nil {
			return backoff.Permanent(fmt.Errorf("op=llmclient.ChatJSON: acquire limiter: %w", err))
		}
		defer c.limiter.Release(1)

		start := time.Now()
		r, err := c.breakerCall(ctx, messages, maxTokens)
		observability.LLMRequestDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			observability.LLMRequestsTotal.WithLabelValues("error").Inc()
			if !c.retry.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		observability.LLMRequestsTotal.WithLabelValues("success").Inc()
		result = r
		return nil
	}

	bo := backoff.WithContext(retryBackoff(c.retry), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return domain.LLMResult{}, fmt.Errorf("op=llmclient.ChatJSON: %w", err)
	}

	nonCached := result.PromptTokens - result.CachedTokens
	if nonCached < 0 {
		nonCached = 0
	}
	observability.LLMTokensTotal.WithLabelValues("input").Add(float64(nonCached))
	observability.LLMTokensTotal.WithLabelValues("cached").Add(float64(result.CachedTokens))
	observability.LLMTokensTotal.WithLabelValues("output").Add(float64(result.CompletionTokens))
	result.Cost = float64(nonCached)/1000*c.cfg.LLMInputRate +
		float64(result.CachedTokens)/1000*c.cfg.LLMCachedRate +
		float64(result.CompletionTokens)/1000*c.cfg.LLMOutputRate
	observability.LLMCostTotal.Add(result.Cost)

	return result, nil
}

func (c *Client) breakerCall(ctx context.Context, messages []chatMessage, maxTokens int) (domain.LLMResult, error) {
	var result domain.LLMResult
	err := c.breaker.Call("chat", func() error {
		r, err := c.doRequest(ctx, messages, maxTokens)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}

func (c *Client) doRequest(ctx context.Context, messages []chatMessage, maxTokens int) (domain.LLMResult, error) {
	reqBody := chatRequest{
		Model:          c.cfg.LLMModel,
		Messages:       messages,
		Temperature:    0.3,
		MaxTokens:      maxTokens,
		ResponseFormat: map[string]string{"type": "json_object"},
	}
	buf, err := json.Marshal(reqBody)
	if err != nil {
		return domain.LLMResult{}, fmt.Errorf("op=llmclient.doRequest: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.LLMBaseURL+"/chat/completions", bytes.NewReader(buf))
	if err != nil {
		return domain.LLMResult{}, fmt.Errorf("op=llmclient.doRequest: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.LLMAPIKey)

	resp, err := c.hc.Do(req)
	if err != nil {
		return domain.LLMResult{}, fmt.Errorf("op=llmclient.doRequest: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.LLMResult{}, fmt.Errorf("op=llmclient.doRequest: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.LLMResult{}, fmt.Errorf("op=llmclient.doRequest: status %d: %s", resp.StatusCode, string(body))
	}

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return domain.LLMResult{}, fmt.Errorf("op=llmclient.doRequest: decode response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return domain.LLMResult{}, fmt.Errorf("op=llmclient.doRequest: empty choices")
	}

	return domain.LLMResult{
		Raw:              cr.Choices[0].Message.Content,
		PromptTokens:     cr.Usage.PromptTokens,
		CompletionTokens: cr.Usage.CompletionTokens,
		CachedTokens:     cr.Usage.PromptTokensDetails.CachedTokens,
		TotalTokens:      cr.Usage.TotalTokens,
	}, nil
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

// EstimateTokens estimates token count via the cl100k_base BPE encoding.
// The pipelines do not call it; usage counts come from the LLM response.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return 0
	}
	return len(enc.Encode(text, nil, nil))
}
