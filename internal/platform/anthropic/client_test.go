package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/platform/llm"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return &Client{
		log:        log,
		baseURL:    baseURL,
		apiKey:     "test-key",
		model:      "claude-3-5-sonnet-latest",
		httpClient: &http.Client{Timeout: 5 * time.Second},
		maxRetries: 1,
	}
}

func TestChatJoinsTextBlocks(t *testing.T) {
	var got messagesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Fatalf("x-api-key missing")
		}
		if r.Header.Get("anthropic-version") != anthropicVersion {
			t.Fatalf("anthropic-version: got=%q", r.Header.Get("anthropic-version"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Write([]byte(`{"content":[{"type":"text","text":"part one "},{"type":"tool_use","text":"skip"},{"type":"text","text":"part two"}]}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	out, err := c.Chat(context.Background(), llm.ChatRequest{System: "sys", User: "u", Temperature: 0.1})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != "part one part two" {
		t.Fatalf("joined text: got=%q", out)
	}
	if got.System != "sys" {
		t.Fatalf("system prompt: got=%q", got.System)
	}
	if got.MaxTokens != 1200 {
		t.Fatalf("default max_tokens: want=1200 got=%d", got.MaxTokens)
	}
}

func TestChatJSONModeRaisesTokenBudget(t *testing.T) {
	var got messagesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Write([]byte(`{"content":[{"type":"text","text":"{}"}]}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	if _, err := c.Chat(context.Background(), llm.ChatRequest{User: "u", JSONMode: true}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got.MaxTokens != 1600 {
		t.Fatalf("json max_tokens: want=1600 got=%d", got.MaxTokens)
	}
}

func TestChatErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":[],"error":{"message":"overloaded"}}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	if _, err := c.Chat(context.Background(), llm.ChatRequest{User: "u"}); err == nil {
		t.Fatalf("error payload should surface")
	}
}

func TestRateLimiterAdmitsUpToRPM(t *testing.T) {
	l := newRateLimiter(3, time.Minute)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("Wait %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("first rpm admissions should not block: took %s", elapsed)
	}

	// The fourth request must block until the window slides; a canceled
	// context gets us out without waiting a minute.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); err == nil {
		t.Fatalf("fourth request should block until window slides")
	}
}

func TestRateLimiterSlidesWindow(t *testing.T) {
	l := newRateLimiter(1, 50*time.Millisecond)
	ctx := context.Background()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	start := time.Now()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("second Wait: %v", err)
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Fatalf("second admission should wait for the window to slide")
	}
}
