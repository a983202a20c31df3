// Package llm provides the reply-improvement client: an OpenAI-compatible
// HTTP transport wrapped in a per-bot circuit breaker, a shared Redis prompt
// cache, a per-user rate limit and a per-bot daily token budget. Improvement
// is always optional — every guard rejection hands the caller its original
// text back.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/botfabrik/botfabrik/pkg/config"
	"github.com/botfabrik/botfabrik/pkg/metrics"
)

// Rejection codes recorded in events when improvement is skipped.
const (
	RejectBreakerOpen     = "circuit_breaker_open"
	RejectRateLimited     = "rate_limit_exceeded"
	RejectBudgetExhausted = "budget_exhausted"
	RejectTimeout         = "timeout"
	RejectUpstreamError   = "llm_error"
)

const improveTemperature = 0.3

// errPermanent marks responses that retrying or tripping the breaker cannot
// fix (4xx, malformed requests).
var errPermanent = errors.New("permanent LLM request error")

// Client improves reply texts through an OpenAI-compatible endpoint.
type Client struct {
	cfg     config.LLMConfig
	http    *http.Client
	breaker *Breaker
	guards  *guards
	metrics *metrics.Recorder
}

// NewClient creates the LLM client. rdb backs the shared cache and counters.
func NewClient(cfg config.LLMConfig, rdb *redis.Client, rec *metrics.Recorder) *Client {
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: NewBreaker(rec),
		guards: &guards{
			rdb:       rdb,
			rateLimit: cfg.RateLimit,
			cacheTTL:  cfg.CacheTTL,
		},
		metrics: rec,
	}
}

// Enabled reports whether LLM calls are configured process-wide.
func (c *Client) Enabled() bool { return c.cfg.Enabled }

// BreakerState exposes a bot's breaker state for health reporting.
func (c *Client) BreakerState(botID string) BreakerState { return c.breaker.State(botID) }

// BudgetUsage returns tokens the bot consumed today (UTC).
func (c *Client) BudgetUsage(ctx context.Context, botID string) (int64, error) {
	return c.guards.BudgetUsage(ctx, botID)
}

// Ping checks upstream reachability for health probes. Any parseable HTTP
// response counts as reachable; only transport failures are errors.
func (c *Client) Ping(ctx context.Context) error {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upstream unreachable: %w", err)
	}
	_ = resp.Body.Close()
	return nil
}

// Outcome describes how an improvement request was handled.
type Outcome struct {
	// Text is the improved reply, or the unchanged input on any rejection.
	Text string
	// Improved is true when the text differs from the input by an LLM call
	// or cache hit.
	Improved bool
	// Cached is true when the result came from the prompt cache.
	Cached bool
	// RejectCode is set when improvement was skipped, empty on success.
	RejectCode string
}

// Improve runs the guarded improvement pipeline: rate limit → budget →
// cache → breaker → upstream. It never returns an error; every failure mode
// degrades to the original text with a reject code for the event log.
func (c *Client) Improve(ctx context.Context, botID string, userID int64, text string, preset Preset, budgetLimit int64) Outcome {
	if !c.cfg.Enabled || strings.TrimSpace(text) == "" {
		return Outcome{Text: text}
	}
	preset = preset.normalize()
	start := time.Now()

	if err := c.guards.checkRateLimit(ctx, botID, userID); err != nil {
		c.metrics.ObserveLLMRequest("improve", "rejected", false, time.Since(start))
		return Outcome{Text: text, RejectCode: RejectRateLimited}
	}
	if err := c.guards.checkBudget(ctx, botID, budgetLimit); err != nil {
		c.metrics.ObserveLLMRequest("improve", "rejected", false, time.Since(start))
		return Outcome{Text: text, RejectCode: RejectBudgetExhausted}
	}

	// Cache hits bypass the breaker and are excluded from upstream latency.
	if cached := c.guards.cachedResponse(ctx, c.cfg.Model, preset, text); cached != "" {
		c.metrics.IncLLMCacheHit(c.cfg.Model)
		c.metrics.ObserveLLMRequest("improve", "success", true, time.Since(start))
		return Outcome{Text: cached, Improved: true, Cached: true}
	}

	if err := c.breaker.Allow(botID); err != nil {
		c.metrics.ObserveLLMRequest("improve", "rejected", false, time.Since(start))
		return Outcome{Text: text, RejectCode: RejectBreakerOpen}
	}

	improved, usage, err := c.complete(ctx, preset, text)
	latency := time.Since(start)
	if err != nil {
		// Only transport errors, timeouts and 5xx count against the breaker;
		// a 4xx is a request defect, not an upstream outage.
		if !errors.Is(err, errPermanent) {
			c.breaker.RecordFailure(botID)
		}
		code := RejectUpstreamError
		errType := "transport"
		if errors.Is(err, context.DeadlineExceeded) {
			code = RejectTimeout
			errType = "timeout"
			c.metrics.IncLLMTimeout(botID)
		}
		c.metrics.IncLLMError(c.cfg.Model, errType)
		c.metrics.ObserveLLMRequest("improve", "error", false, latency)
		slog.Warn("LLM improvement failed", "bot_id", botID, "error", err)
		return Outcome{Text: text, RejectCode: code}
	}

	c.breaker.RecordSuccess(botID)
	c.guards.recordTokens(ctx, botID, int64(usage.TotalTokens))
	c.guards.storeResponse(ctx, c.cfg.Model, preset, text, improved)
	c.metrics.AddLLMTokens(c.cfg.Model, "prompt", usage.PromptTokens)
	c.metrics.AddLLMTokens(c.cfg.Model, "completion", usage.CompletionTokens)
	c.metrics.ObserveLLMRequest("improve", "success", false, latency)

	return Outcome{Text: improved, Improved: true}
}

// Wire types for the /v1/chat/completions endpoint.

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage chatUsage `json:"usage"`
}

// complete performs one chat completion round trip with bounded retries on
// transport errors and upstream 5xx.
func (c *Client) complete(ctx context.Context, preset Preset, text string) (string, chatUsage, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: preset.SystemPrompt()},
			{Role: "user", Content: improveUserPrefix + text},
		},
		Temperature: improveTemperature,
		MaxTokens:   preset.MaxTokens(),
	})
	if err != nil {
		return "", chatUsage{}, fmt.Errorf("failed to encode request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/chat/completions"

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", chatUsage{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		improved, usage, err := c.doRequest(ctx, url, body)
		if err == nil {
			return improved, usage, nil
		}
		lastErr = err
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, errPermanent) {
			return "", chatUsage{}, err
		}
	}
	return "", chatUsage{}, lastErr
}

func (c *Client) doRequest(ctx context.Context, url string, body []byte) (string, chatUsage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", chatUsage{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", chatUsage{}, ctx.Err()
		}
		return "", chatUsage{}, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", chatUsage{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return "", chatUsage{}, fmt.Errorf("upstream error: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", chatUsage{}, fmt.Errorf("unexpected status %d: %w", resp.StatusCode, errPermanent)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", chatUsage{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", chatUsage{}, fmt.Errorf("response has no choices")
	}

	improved := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if improved == "" {
		return "", chatUsage{}, fmt.Errorf("response has empty content")
	}
	return improved, parsed.Usage, nil
}
