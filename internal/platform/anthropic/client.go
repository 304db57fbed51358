package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/pkg/httpx"
	"github.com/hubrts/youtube-command-deck/internal/platform/llm"
	"github.com/hubrts/youtube-command-deck/internal/utils"
)

const anthropicVersion = "2023-06-01"

// Client calls the Anthropic Messages API. Requests pass through a sliding
// 60-second window limiter so brew runs cannot exhaust the account quota.
type Client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	maxRetries int
	limiter    *rateLimiter
}

func NewClient(baseLog *logger.Logger) (*Client, error) {
	log := baseLog.With("service", "AnthropicClient")
	apiKey := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("CLAUDE_API_KEY"))
	}
	if apiKey == "" {
		return nil, fmt.Errorf("missing ANTHROPIC_API_KEY: %w", llm.ErrProviderUnavailable)
	}
	baseURL := strings.TrimRight(utils.GetEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com", log), "/")
	timeoutSec := utils.GetEnvAsInt("ANTHROPIC_TIMEOUT_SECONDS", 180, log)

	rpm := utils.GetEnvAsInt("VIDEO_CLAUDE_RPM", 5, log)
	if rpm < 1 {
		rpm = 1
	}
	if rpm > 120 {
		rpm = 120
	}
	var limiter *rateLimiter
	if utils.GetEnvAsBool("VIDEO_CLAUDE_ENABLE_RATE_LIMIT", true, log) {
		limiter = newRateLimiter(rpm, time.Minute)
	}

	return &Client{
		log:        log,
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      utils.GetEnv("ANTHROPIC_MODEL", "claude-3-5-sonnet-latest", log),
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: 3,
		limiter:    limiter,
	}, nil
}

func (c *Client) Name() string { return "claude" }

// ChatModel reports the model id requests are sent with.
func (c *Client) ChatModel() string { return c.model }

// WithModel returns a copy of the client pinned to another model. The copy
// shares the HTTP client and the rate limiter, so the per-account window
// still covers fallback-model calls.
func (c *Client) WithModel(model string) *Client {
	model = strings.TrimSpace(model)
	if model == "" || model == c.model {
		return c
	}
	clone := *c
	clone.model = model
	return &clone
}

type messagesRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	System      string        `json:"system"`
	Messages    []userMessage `json:"messages"`
}

type userMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1200
		if req.JSONMode {
			maxTokens = 1600
		}
	}
	if maxTokens < 64 {
		maxTokens = 64
	}

	body := messagesRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		System:      req.System,
		Messages:    []userMessage{{Role: "user", Content: req.User}},
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var resp messagesResponse
	if err := c.do(ctx, "/v1/messages", body, &resp); err != nil {
		return "", err
	}

	var pieces []string
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != "" {
			pieces = append(pieces, block.Text)
		}
	}
	text := strings.TrimSpace(strings.Join(pieces, ""))
	if text != "" {
		return text, nil
	}
	if resp.Error.Message != "" {
		return "", fmt.Errorf("claude error: %s", resp.Error.Message)
	}
	return "", fmt.Errorf("claude empty response")
}

func (c *Client) do(ctx context.Context, path string, body, out any) error {
	backoff := time.Second
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		resp, raw, err := c.doOnce(ctx, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("claude decode error: %w", uErr)
			}
			return nil
		}
		lastErr = err
		if !httpx.IsRetryableError(err) || attempt == c.maxRetries {
			return err
		}
		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 15*time.Second))
		c.log.Warn("Anthropic request retrying",
			"path", path,
			"attempt", attempt+1,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		time.Sleep(sleepFor)
		backoff *= 2
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &httpx.StatusError{Status: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

// rateLimiter admits at most rpm requests per window, measured over a
// sliding window of request timestamps.
type rateLimiter struct {
	mu     sync.Mutex
	rpm    int
	window time.Duration
	times  []time.Time
}

func newRateLimiter(rpm int, window time.Duration) *rateLimiter {
	return &rateLimiter{rpm: rpm, window: window}
}

func (l *rateLimiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()
		keep := l.times[:0]
		for _, t := range l.times {
			if now.Sub(t) < l.window {
				keep = append(keep, t)
			}
		}
		l.times = keep
		if len(l.times) < l.rpm {
			l.times = append(l.times, now)
			l.mu.Unlock()
			return nil
		}
		wait := l.window - now.Sub(l.times[0]) + 10*time.Millisecond
		l.mu.Unlock()
		if wait < 50*time.Millisecond {
			wait = 50 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
