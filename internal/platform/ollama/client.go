package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/pkg/httpx"
	"github.com/hubrts/youtube-command-deck/internal/platform/llm"
	"github.com/hubrts/youtube-command-deck/internal/utils"
)

// Client talks to a local Ollama server. It serves both the chat and the
// embedding capability of the pipeline.
type Client struct {
	log        *logger.Logger
	baseURL    string
	model      string
	embedModel string
	keepAlive  string
	httpClient *http.Client
	maxRetries int
}

func NewClient(baseLog *logger.Logger) *Client {
	log := baseLog.With("service", "OllamaClient")
	baseURL := strings.TrimRight(utils.GetEnv("OLLAMA_BASE_URL", "http://127.0.0.1:11434", log), "/")
	model := utils.GetEnv("OLLAMA_MODEL", "llama3.2:3b", log)
	embedModel := utils.GetEnv("OLLAMA_EMBED_MODEL", "nomic-embed-text", log)
	// Keep the local model loaded between requests to avoid cold starts.
	keepAlive := utils.GetEnv("OLLAMA_KEEP_ALIVE", "30m", log)
	timeoutSec := utils.GetEnvAsInt("OLLAMA_TIMEOUT_SECONDS", 180, log)

	return &Client{
		log:        log,
		baseURL:    baseURL,
		model:      model,
		embedModel: embedModel,
		keepAlive:  keepAlive,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: 2,
	}
}

func (c *Client) Name() string  { return "ollama" }
func (c *Client) Model() string { return c.embedModel }

// ChatModel reports the model id chat requests are sent with.
func (c *Client) ChatModel() string { return c.model }

// WithModel returns a copy pinned to another chat model, sharing the HTTP
// client. Used by fallback chains that retry on a smaller local model.
func (c *Client) WithModel(model string) *Client {
	model = strings.TrimSpace(model)
	if model == "" || model == c.model {
		return c
	}
	clone := *c
	clone.model = model
	return &clone
}

type chatPayload struct {
	Model     string         `json:"model"`
	Stream    bool           `json:"stream"`
	Messages  []chatMessage  `json:"messages"`
	Options   map[string]any `json:"options"`
	KeepAlive string         `json:"keep_alive"`
	Format    string         `json:"format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Error string `json:"error"`
}

func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (string, error) {
	payload := chatPayload{
		Model:  c.model,
		Stream: false,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		Options:   map[string]any{"temperature": req.Temperature},
		KeepAlive: c.keepAlive,
	}
	if req.JSONMode {
		payload.Format = "json"
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var resp chatResponse
	if err := c.postJSON(ctx, "/api/chat", payload, &resp); err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Message.Content)
	if text != "" {
		return text, nil
	}
	if resp.Error != "" {
		return "", fmt.Errorf("ollama error: %s", resp.Error)
	}
	return "", fmt.Errorf("ollama empty response")
}

type embedPayload struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
	Error     string    `json:"error"`
}

// Embed calls /api/embeddings once per text; the endpoint is single-input.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, txt := range texts {
		var resp embedResponse
		if err := c.postJSON(ctx, "/api/embeddings", embedPayload{Model: c.embedModel, Prompt: txt}, &resp); err != nil {
			return nil, err
		}
		if len(resp.Embedding) == 0 {
			if resp.Error != "" {
				return nil, fmt.Errorf("ollama embedding error: %s", resp.Error)
			}
			return nil, fmt.Errorf("ollama embedding missing")
		}
		vec := make([]float32, len(resp.Embedding))
		for i, f := range resp.Embedding {
			vec[i] = float32(f)
		}
		out = append(out, vec)
	}
	return out, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	backoff := time.Second
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		resp, raw, err := c.postOnce(ctx, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("ollama decode error: %w", uErr)
			}
			return nil
		}
		lastErr = err
		if !httpx.IsRetryableError(err) || attempt == c.maxRetries {
			return err
		}
		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		c.log.Warn("Ollama request retrying", "path", path, "attempt", attempt+1, "sleep", sleepFor.String(), "error", err.Error())
		time.Sleep(sleepFor)
		backoff *= 2
	}
	return lastErr
}

func (c *Client) postOnce(ctx context.Context, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
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
