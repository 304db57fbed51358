package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
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
		log:          log,
		name:         "openai",
		baseURL:      baseURL,
		apiKey:       "test-key",
		model:        "gpt-4.1-mini",
		embedModel:   "text-embedding-3-small",
		whisperModel: "whisper-1",
		httpClient:   &http.Client{Timeout: 5 * time.Second},
		sttClient:    &http.Client{Timeout: 5 * time.Second},
		maxRetries:   1,
	}
}

func TestChatParsesChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("auth header: want bearer got=%q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"  hello there  "}}]}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	out, err := c.Chat(context.Background(), llm.ChatRequest{System: "sys", User: "hi", Temperature: 0.2})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != "hello there" {
		t.Fatalf("Chat content: want=%q got=%q", "hello there", out)
	}
}

func TestChatRetriesOn500(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "upstream sad", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	out, err := c.Chat(context.Background(), llm.ChatRequest{User: "hi"})
	if err != nil {
		t.Fatalf("Chat after retry: %v", err)
	}
	if out != "ok" || calls != 2 {
		t.Fatalf("retry behavior: want (ok,2) got (%q,%d)", out, calls)
	}
}

func TestEmbedOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Respond out of order; the client must place vectors by index.
		w.Write([]byte(`{"data":[{"index":1,"embedding":[3,4]},{"index":0,"embedding":[1,2]}]}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	vecs, err := c.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 || vecs[0][0] != 1 || vecs[1][0] != 3 {
		t.Fatalf("Embed ordering: got=%v", vecs)
	}
}

func TestEmbedMissingIndexFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"index":0,"embedding":[1,2]}]}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	if _, err := c.Embed(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatalf("missing index should fail")
	}
}

func TestTranscribeVerboseSegments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Fatalf("model field: got=%q", got)
		}
		if got := r.FormValue("response_format"); got != "verbose_json" {
			t.Fatalf("response_format field: got=%q", got)
		}
		w.Write([]byte(`{"text":"full","segments":[{"start":0,"end":4.5,"text":" first "},{"start":4.5,"end":9,"text":"second"}]}`))
	}))
	defer srv.Close()

	audio := filepath.Join(t.TempDir(), "audio.m4a")
	if err := os.WriteFile(audio, []byte("fake-audio"), 0o644); err != nil {
		t.Fatalf("write audio fixture: %v", err)
	}

	c := testClient(t, srv.URL)
	segs, err := c.Transcribe(context.Background(), audio, "en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("segments: want=2 got=%d", len(segs))
	}
	if segs[0].Text != "first" || segs[0].End != 4.5 {
		t.Fatalf("segment parse: got=%+v", segs[0])
	}
}

func TestTranscribeFallsBackToFullText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text":"whole transcript"}`))
	}))
	defer srv.Close()

	audio := filepath.Join(t.TempDir(), "audio.mp3")
	if err := os.WriteFile(audio, []byte("fake"), 0o644); err != nil {
		t.Fatalf("write audio fixture: %v", err)
	}

	c := testClient(t, srv.URL)
	segs, err := c.Transcribe(context.Background(), audio, "")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(segs) != 1 || segs[0].Text != "whole transcript" {
		t.Fatalf("fallback segment: got=%+v", segs)
	}
}
