// Package generation calls an OpenAI-compatible text generation endpoint,
// classifying failures and retrying the transient ones with capped
// exponential backoff. The client holds no cross-call state.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lewisedginton/sentio/pkg/logger"
	"github.com/lewisedginton/sentio/pkg/metrics"
)

// CallState tracks one generation call through its lifecycle.
type CallState int

const (
	StateBuilding CallState = iota
	StateSending
	StateSucceeded
	StateRetrying
	StateFailed
)

func (s CallState) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateSending:
		return "sending"
	case StateSucceeded:
		return "succeeded"
	case StateRetrying:
		return "retrying"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Params are the model parameters for one call.
type Params struct {
	Model       string
	Temperature float64
	MaxTokens   int
	TopP        float64
}

// Request is one generation call. Zero-valued parameter overrides fall back
// to the client's configured defaults.
type Request struct {
	ID          string
	Instruction string
	Turn        string

	Model       string
	Temperature *float64
	MaxTokens   int
	TopP        *float64
}

// TokenUsage reports provider-billed token counts.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the successful outcome of a generation call.
type Response struct {
	RequestID  string
	ProviderID string
	Model      string
	Content    string
	Usage      TokenUsage
}

// Config holds the generation client configuration.
type Config struct {
	APIKey  string
	BaseURL string

	Defaults Params

	RequestTimeout time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        logger.Logger
	metrics    *metrics.Metrics

	// sleep is replaced in tests to avoid real waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a generation client. The metrics argument may be nil.
func NewClient(cfg Config, log logger.Logger, m *metrics.Metrics) *Client {
	if log == nil {
		panic("logger cannot be nil")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 30 * time.Second
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		log:        log,
		metrics:    m,
		sleep:      sleepCtx,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	TopP        float64       `json:"top_p,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Generate executes one call with bounded retries. Retries respect the
// context deadline: a retry whose delay would overrun the remaining budget is
// not attempted and the call fails with MaxRetriesExceededError.
func (c *Client) Generate(ctx context.Context, req Request) (*Response, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	params := c.buildParams(req)
	c.log.Debug("Generation call starting",
		logger.StringField("request_id", req.ID),
		logger.StringField("model", params.Model),
		logger.StageField("state", StateBuilding))

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, &TransientError{Reason: "context cancelled", Err: err}
		}
		if c.metrics != nil {
			c.metrics.GenerationAttemptsCounter.Inc()
		}

		resp, err := c.send(ctx, req, params)
		if err == nil {
			c.log.Debug("Generation call succeeded",
				logger.StringField("request_id", req.ID),
				logger.IntField("attempt", attempt+1),
				logger.StageField("state", StateSucceeded))
			if c.metrics != nil {
				c.metrics.ObserveTokenUsage(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
			}
			return resp, nil
		}

		if IsFatal(err) {
			c.log.Error("Generation call failed, not retryable",
				logger.StringField("request_id", req.ID),
				logger.StageField("state", StateFailed),
				logger.ErrorField(err))
			return nil, err
		}
		lastErr = err

		if attempt == c.cfg.MaxAttempts-1 {
			break
		}

		delay := c.retryDelay(err, attempt)
		if !budgetAllows(ctx, delay) {
			c.log.Warn("Generation retry abandoned, deadline too close",
				logger.StringField("request_id", req.ID),
				logger.DurationField("delay", delay))
			break
		}

		c.log.Warn("Generation call retrying",
			logger.StringField("request_id", req.ID),
			logger.IntField("attempt", attempt+1),
			logger.DurationField("delay", delay),
			logger.StageField("state", StateRetrying),
			logger.ErrorField(err))
		if c.metrics != nil {
			c.metrics.GenerationRetriesCounter.Inc()
		}

		if err := c.sleep(ctx, delay); err != nil {
			return nil, &TransientError{Reason: "context cancelled during backoff", Err: err}
		}
	}

	return nil, &MaxRetriesExceededError{Attempts: c.cfg.MaxAttempts, Err: lastErr}
}

// buildParams layers request overrides on configured defaults.
func (c *Client) buildParams(req Request) Params {
	params := c.cfg.Defaults
	if req.Model != "" {
		params.Model = req.Model
	}
	if req.Temperature != nil {
		params.Temperature = *req.Temperature
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = req.MaxTokens
	}
	if req.TopP != nil {
		params.TopP = *req.TopP
	}
	return params
}

// send performs one HTTP round trip and classifies the outcome.
func (c *Client) send(ctx context.Context, req Request, params Params) (*Response, error) {
	body := chatRequest{
		Model: params.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.Instruction},
			{Role: "user", Content: req.Turn},
		},
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		TopP:        params.TopP,
	}

	payload, err := json.Marshal(&body)
	if err != nil {
		return nil, &InvalidRequestError{Message: fmt.Sprintf("failed to serialize request: %v", err)}
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &InvalidRequestError{Message: fmt.Sprintf("failed to create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyStatus(httpResp)
	}

	var parsed chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
		return nil, &TransientError{Reason: "malformed response body", Err: err}
	}
	if parsed.Error != nil {
		return nil, &TransientError{Reason: "provider error: " + parsed.Error.Type, Err: errors.New(parsed.Error.Message)}
	}
	if len(parsed.Choices) == 0 {
		return nil, &TransientError{Reason: "empty choices in response"}
	}

	return &Response{
		RequestID:  req.ID,
		ProviderID: parsed.ID,
		Model:      parsed.Model,
		Content:    parsed.Choices[0].Message.Content,
		Usage: TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil
}

// classifyStatus maps a non-2xx response onto the error taxonomy.
func classifyStatus(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	message := strings.TrimSpace(string(raw))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthenticationError{StatusCode: resp.StatusCode, Message: message}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitedError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")), Message: message}
	case resp.StatusCode >= 500:
		return &TransientError{Reason: fmt.Sprintf("server error %d", resp.StatusCode), Err: errors.New(message)}
	default:
		return &InvalidRequestError{StatusCode: resp.StatusCode, Message: message}
	}
}

// classifyTransport maps a transport-level failure onto the error taxonomy.
// Timeouts and connection resets are transient.
func classifyTransport(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransientError{Reason: "request timeout", Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Reason: "deadline exceeded", Err: err}
	}
	return &TransientError{Reason: "transport failure", Err: err}
}

// parseRetryAfter handles the delay-seconds form of the header. The HTTP-date
// form is rare from generation providers and falls back to zero.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// retryDelay picks the wait before the next attempt: the server-provided
// delay for rate limits, otherwise capped exponential backoff with jitter.
func (c *Client) retryDelay(err error, attempt int) time.Duration {
	var rateLimited *RateLimitedError
	if errors.As(err, &rateLimited) && rateLimited.RetryAfter > 0 {
		return rateLimited.RetryAfter
	}

	delay := c.cfg.BackoffBase << attempt
	if delay > c.cfg.BackoffCap {
		delay = c.cfg.BackoffCap
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1)) //nolint:gosec // G404: jitter needs no crypto randomness
	return delay + jitter
}

// budgetAllows reports whether the context deadline leaves room for the delay
// plus at least a minimal attempt.
func budgetAllows(ctx context.Context, delay time.Duration) bool {
	deadline, ok := ctx.Deadline()
	if !ok {
		return true
	}
	return time.Until(deadline) > delay+50*time.Millisecond
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
