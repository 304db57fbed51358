package ollama

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
		model:      "llama3.2:3b",
		embedModel: "nomic-embed-text",
		keepAlive:  "30m",
		httpClient: &http.Client{Timeout: 5 * time.Second},
		maxRetries: 1,
	}
}

func TestChatSendsJSONFormat(t *testing.T) {
	var got chatPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Write([]byte(`{"message":{"content":"  {\"a\":1}  "}}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	out, err := c.Chat(context.Background(), llm.ChatRequest{System: "s", User: "u", JSONMode: true})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != `{"a":1}` {
		t.Fatalf("Chat content: got=%q", out)
	}
	if got.Format != "json" {
		t.Fatalf("format field: want=json got=%q", got.Format)
	}
	if got.Stream {
		t.Fatalf("stream must be false")
	}
	if got.KeepAlive != "30m" {
		t.Fatalf("keep_alive: got=%q", got.KeepAlive)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Fatalf("messages: got=%+v", got.Messages)
	}
}

func TestChatSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"model not found"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	if _, err := c.Chat(context.Background(), llm.ChatRequest{User: "u"}); err == nil {
		t.Fatalf("server error should surface")
	}
}

func TestEmbedOnePerText(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		calls++
		w.Write([]byte(`{"embedding":[0.5,0.25]}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	vecs, err := c.Embed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if calls != 3 {
		t.Fatalf("embedding calls: want=3 got=%d", calls)
	}
	if len(vecs) != 3 || len(vecs[0]) != 2 || vecs[0][0] != 0.5 {
		t.Fatalf("vectors: got=%v", vecs)
	}
}

func TestEmbedMissingVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	if _, err := c.Embed(context.Background(), []string{"a"}); err == nil {
		t.Fatalf("missing embedding should fail")
	}
}
