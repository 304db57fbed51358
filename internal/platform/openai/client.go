package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/pkg/httpx"
	"github.com/hubrts/youtube-command-deck/internal/platform/llm"
	"github.com/hubrts/youtube-command-deck/internal/transcript"
	"github.com/hubrts/youtube-command-deck/internal/utils"
)

// Client speaks the OpenAI REST surface: chat completions, embeddings and
// audio transcriptions. The same code serves a local whisper-server instance,
// which exposes the transcription endpoint without auth.
type Client struct {
	log          *logger.Logger
	name         string
	baseURL      string
	apiKey       string
	model        string
	embedModel   string
	whisperModel string
	httpClient   *http.Client
	sttClient    *http.Client
	maxRetries   int
}

func NewClient(baseLog *logger.Logger) (*Client, error) {
	log := baseLog.With("service", "OpenAIClient")
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY: %w", llm.ErrProviderUnavailable)
	}
	baseURL := strings.TrimRight(utils.GetEnv("OPENAI_BASE_URL", "https://api.openai.com", log), "/")
	timeoutSec := utils.GetEnvAsInt("OPENAI_TIMEOUT_SECONDS", 180, log)
	sttTimeoutSec := utils.GetEnvAsInt("OPENAI_STT_TIMEOUT_SECONDS", 900, log)
	return &Client{
		log:          log,
		name:         "openai",
		baseURL:      baseURL,
		apiKey:       apiKey,
		model:        utils.GetEnv("OPENAI_MODEL", "gpt-4.1-mini", log),
		embedModel:   utils.GetEnv("OPENAI_EMBED_MODEL", "text-embedding-3-small", log),
		whisperModel: utils.GetEnv("WHISPER_MODEL", "whisper-1", log),
		httpClient:   &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		sttClient:    &http.Client{Timeout: time.Duration(sttTimeoutSec) * time.Second},
		maxRetries:   4,
	}, nil
}

// NewWhisperServerClient targets a local OpenAI-compatible whisper server.
// Only the transcription endpoint is expected to work there.
func NewWhisperServerClient(baseLog *logger.Logger) (*Client, error) {
	log := baseLog.With("service", "WhisperServerClient")
	baseURL := strings.TrimSpace(os.Getenv("WHISPER_BASE_URL"))
	if baseURL == "" {
		return nil, fmt.Errorf("missing WHISPER_BASE_URL: %w", llm.ErrProviderUnavailable)
	}
	sttTimeoutSec := utils.GetEnvAsInt("WHISPER_TIMEOUT_SECONDS", 1800, log)
	return &Client{
		log:          log,
		name:         "whisper-server",
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       strings.TrimSpace(os.Getenv("WHISPER_API_KEY")),
		whisperModel: utils.GetEnv("WHISPER_MODEL", "whisper-1", log),
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		sttClient:    &http.Client{Timeout: time.Duration(sttTimeoutSec) * time.Second},
		maxRetries:   1,
	}, nil
}

func (c *Client) Name() string  { return c.name }
func (c *Client) Model() string { return c.embedModel }

// ChatModel reports the model id chat requests are sent with.
func (c *Client) ChatModel() string { return c.model }

// WithModel returns a copy pinned to another chat model, sharing the HTTP
// clients. Used by fallback chains that retry on a cheaper model.
func (c *Client) WithModel(model string) *Client {
	model = strings.TrimSpace(model)
	if model == "" || model == c.model {
		return c
	}
	clone := *c
	clone.model = model
	return &clone
}

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (string, error) {
	body := chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSONMode {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var resp chatCompletionResponse
	if err := c.do(ctx, "/v1/chat/completions", body, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai empty response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	clean := make([]string, len(texts))
	for i := range texts {
		s := strings.TrimSpace(texts[i])
		if s == "" {
			s = " "
		}
		clean[i] = s
	}

	var resp embeddingsResponse
	if err := c.do(ctx, "/v1/embeddings", embeddingsRequest{Model: c.embedModel, Input: clean}, &resp); err != nil {
		return nil, err
	}

	out := make([][]float32, len(clean))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = vec
		}
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("openai embeddings missing index %d: requested=%d returned=%d model=%s",
				i, len(clean), len(resp.Data), c.embedModel)
		}
	}
	return out, nil
}

type transcriptionResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe uploads an audio file to /v1/audio/transcriptions and returns
// timed segments. Servers that omit per-segment timing yield one segment
// covering the whole text.
func (c *Client) Transcribe(ctx context.Context, audioPath, langHint string) ([]transcript.Segment, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	_ = mw.WriteField("model", c.whisperModel)
	_ = mw.WriteField("response_format", "verbose_json")
	if langHint != "" {
		_ = mw.WriteField("language", langHint)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/audio/transcriptions", &buf)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.sttClient.Do(req)
	if err != nil {
		return nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpx.StatusError{Status: resp.StatusCode, Body: string(raw)}
	}

	var parsed transcriptionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("transcription decode error: %w", err)
	}

	segs := make([]transcript.Segment, 0, len(parsed.Segments))
	for _, s := range parsed.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		segs = append(segs, transcript.Segment{Start: s.Start, End: s.End, Text: text})
	}
	if len(segs) == 0 {
		if text := strings.TrimSpace(parsed.Text); text != "" {
			segs = append(segs, transcript.Segment{Start: 0, End: 0, Text: text})
		}
	}
	return segs, nil
}

func (c *Client) do(ctx context.Context, path string, body, out any) error {
	backoff := time.Second
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		resp, raw, err := c.doOnce(ctx, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("openai decode error: %w", uErr)
			}
			return nil
		}
		lastErr = err
		if !httpx.IsRetryableError(err) || attempt == c.maxRetries {
			return err
		}
		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		c.log.Warn("OpenAI request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
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
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
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
